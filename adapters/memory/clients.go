package memory

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/satriahrh/liveview/domain/repositories"
)

var (
	ErrClientNotFound     = errors.New("client not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ClientRegistry keeps client access keys in memory
type ClientRegistry struct {
	mu      sync.RWMutex
	secrets map[string]string // client_id -> access_key
}

var _ repositories.ClientRepository = (*ClientRegistry)(nil)

// NewClientRegistry creates a registry seeded with the given keys
func NewClientRegistry(keys map[string]string) *ClientRegistry {
	r := &ClientRegistry{secrets: make(map[string]string, len(keys))}
	for id, key := range keys {
		r.secrets[id] = key
	}
	return r
}

// ValidateClient checks a client ID and access key pair
func (r *ClientRegistry) ValidateClient(ctx context.Context, clientID, accessKey string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, exists := r.secrets[clientID]
	if !exists {
		return ErrClientNotFound
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(accessKey)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// RegisterClient sets the access key for a client
func (r *ClientRegistry) RegisterClient(clientID, accessKey string) error {
	if clientID == "" {
		return errors.New("client ID cannot be empty")
	}
	if accessKey == "" {
		return errors.New("access key cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.secrets[clientID] = accessKey
	return nil
}

// RemoveClient revokes a client
func (r *ClientRegistry) RemoveClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.secrets, clientID)
}
