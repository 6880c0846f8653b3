package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/satriahrh/liveview/domain/repositories"
)

// PresenceRepository tracks live sessions of a single node
type PresenceRepository struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[string]repositories.Presence
	now      func() time.Time
}

var _ repositories.PresenceRepository = (*PresenceRepository)(nil)

// NewPresenceRepository creates a registry whose entries lapse after ttl
func NewPresenceRepository(ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{
		ttl:      ttl,
		sessions: make(map[string]repositories.Presence),
		now:      time.Now,
	}
}

// Register adds or refreshes a session
func (p *PresenceRepository) Register(ctx context.Context, presence repositories.Presence) error {
	if presence.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	presence.LastSeen = p.now()
	p.sessions[presence.SessionID] = presence
	return nil
}

// Remove drops a session
func (p *PresenceRepository) Remove(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.sessions, sessionID)
	return nil
}

// List returns sessions seen within the ttl, oldest connection first
func (p *PresenceRepository) List(ctx context.Context) ([]repositories.Presence, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	result := make([]repositories.Presence, 0, len(p.sessions))
	for id, presence := range p.sessions {
		if p.ttl > 0 && now.Sub(presence.LastSeen) > p.ttl {
			delete(p.sessions, id)
			continue
		}
		result = append(result, presence)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result, nil
}
