package api

import (
	"time"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
	"github.com/satriahrh/liveview/internal/websocket"
)

// TokenRequest represents the request payload for client authentication
type TokenRequest struct {
	ClientID  string `json:"client_id" validate:"required"`
	AccessKey string `json:"access_key" validate:"required"`
}

// TokenResponse represents the response payload for client authentication
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
}

// SessionsResponse lists the caller's live sessions
type SessionsResponse struct {
	Sessions []websocket.SessionInfo `json:"sessions"`
	// Presence includes sessions hosted by other nodes
	Presence []repositories.Presence `json:"presence,omitempty"`
}

// ArchivesResponse lists the caller's archives
type ArchivesResponse struct {
	Archives []*entities.Archive `json:"archives"`
}

// VoicesResponse lists selectable voices
type VoicesResponse struct {
	Voices []repositories.Voice `json:"voices"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
