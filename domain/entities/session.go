package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionExport is a downloadable snapshot of a live session
type SessionExport struct {
	SessionID        string           `json:"session_id" bson:"session_id"`
	ExportedAt       time.Time        `json:"exported_at" bson:"exported_at"`
	Messages         []Message        `json:"messages" bson:"messages"`
	Stats            StreamStats      `json:"stats" bson:"stats"`
	AnalysisSettings AnalysisSettings `json:"analysis_settings" bson:"analysis_settings"`
	AudioSettings    AudioSettings    `json:"audio_settings" bson:"audio_settings"`
}

// Archive is a persisted session export
type Archive struct {
	ID          string        `json:"id" bson:"_id"`
	ClientID    string        `json:"client_id" bson:"client_id"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at" bson:"expires_at"`
	DownloadURL string        `json:"download_url,omitempty" bson:"-"`
	Export      SessionExport `json:"export" bson:"export"`
}

// DefaultArchiveRetention is how long archives are kept
const DefaultArchiveRetention = 30 * 24 * time.Hour

// NewArchive wraps an export for persistence
func NewArchive(clientID string, export SessionExport) *Archive {
	now := time.Now()
	return &Archive{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultArchiveRetention),
		Export:    export,
	}
}

// IsExpired checks if the archive is past its retention
func (a *Archive) IsExpired() bool {
	return time.Now().After(a.ExpiresAt)
}

// Validate validates the archive data
func (a *Archive) Validate() error {
	if a.ID == "" {
		return errors.New("archive id is required")
	}
	if a.Export.SessionID == "" {
		return errors.New("session_id is required")
	}
	for i := range a.Export.Messages {
		if err := a.Export.Messages[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
