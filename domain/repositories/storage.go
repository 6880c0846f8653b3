package repositories

import (
	"context"
	"time"

	"github.com/satriahrh/liveview/domain/entities"
)

// ArchiveRepository persists session exports
type ArchiveRepository interface {
	Create(ctx context.Context, archive *entities.Archive) error
	GetByID(ctx context.Context, id string) (*entities.Archive, error)
	ListByClientID(ctx context.Context, clientID string, limit int) ([]*entities.Archive, error)
	Delete(ctx context.Context, id string) error
}

// Presence describes a live session hosted by some node
type Presence struct {
	SessionID   string    `json:"session_id"`
	ClientID    string    `json:"client_id"`
	Node        string    `json:"node"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
	IsLive      bool      `json:"is_live"`
	CallState   string    `json:"call_state"`
}

// PresenceRepository tracks live sessions across server nodes
type PresenceRepository interface {
	Register(ctx context.Context, presence Presence) error
	Remove(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]Presence, error)
}

// ClientRepository verifies the credentials clients exchange for tokens
type ClientRepository interface {
	ValidateClient(ctx context.Context, clientID, accessKey string) error
}
