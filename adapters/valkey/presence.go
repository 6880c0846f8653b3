package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/repositories"
)

const (
	sessionsKey = "liveview:sessions"
	defaultTTL  = 2 * time.Minute
)

// Config holds connection settings for Valkey
type Config struct {
	Addr     string
	Password string
	// TTL is how long a presence entry lives without a refresh
	TTL time.Duration
}

// PresenceRepository shares live-session presence across nodes
type PresenceRepository struct {
	client valkey.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ repositories.PresenceRepository = (*PresenceRepository)(nil)

// NewPresenceRepository connects to Valkey and verifies the connection
func NewPresenceRepository(ctx context.Context, config Config, logger *zap.Logger) (*PresenceRepository, error) {
	if config.Addr == "" {
		return nil, errors.New("valkey address is required")
	}

	ttl := config.TTL
	if ttl < time.Second {
		ttl = defaultTTL
		logger.Info("Using default presence TTL", zap.Duration("ttl", ttl))
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{config.Addr},
		Password:    config.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}

	logger.Info("Connected to valkey", zap.String("addr", config.Addr))
	return &PresenceRepository{client: client, ttl: ttl, logger: logger}, nil
}

// Register writes the presence entry and resets its expiration
func (p *PresenceRepository) Register(ctx context.Context, presence repositories.Presence) error {
	if presence.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}
	presence.LastSeen = time.Now()

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	setCmd := p.client.B().Set().
		Key(presenceKey(presence.SessionID)).
		Value(string(data)).
		ExSeconds(int64(p.ttl/time.Second)).
		Build()
	saddCmd := p.client.B().Sadd().
		Key(sessionsKey).
		Member(presence.SessionID).
		Build()

	for _, resp := range p.client.DoMulti(ctx, setCmd, saddCmd) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to register presence: %w", err)
		}
	}
	return nil
}

// Remove deletes the presence entry
func (p *PresenceRepository) Remove(ctx context.Context, sessionID string) error {
	delCmd := p.client.B().Del().Key(presenceKey(sessionID)).Build()
	sremCmd := p.client.B().Srem().Key(sessionsKey).Member(sessionID).Build()

	for _, resp := range p.client.DoMulti(ctx, delCmd, sremCmd) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to remove presence: %w", err)
		}
	}
	return nil
}

// List returns every unexpired session. Members whose entry has expired
// are pruned from the set.
func (p *PresenceRepository) List(ctx context.Context) ([]repositories.Presence, error) {
	ids, err := p.client.Do(ctx, p.client.B().Smembers().Key(sessionsKey).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []repositories.Presence{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = presenceKey(id)
	}

	values, err := p.client.Do(ctx, p.client.B().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return nil, fmt.Errorf("failed to load presence: %w", err)
	}

	result := make([]repositories.Presence, 0, len(values))
	var stale []string
	for i, value := range values {
		data, err := value.ToString()
		if err != nil {
			if valkey.IsValkeyNil(err) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("failed to parse presence data: %w", err)
		}

		var presence repositories.Presence
		if err := json.Unmarshal([]byte(data), &presence); err != nil {
			p.logger.Warn("Skipping malformed presence entry", zap.String("sessionID", ids[i]), zap.Error(err))
			continue
		}
		result = append(result, presence)
	}

	if len(stale) > 0 {
		if err := p.client.Do(ctx, p.client.B().Srem().Key(sessionsKey).Member(stale...).Build()).Error(); err != nil {
			p.logger.Warn("Failed to prune stale sessions", zap.Error(err))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result, nil
}

// Close closes the client connection
func (p *PresenceRepository) Close() {
	p.client.Close()
}

func presenceKey(sessionID string) string {
	return fmt.Sprintf("liveview:presence:%s", sessionID)
}
