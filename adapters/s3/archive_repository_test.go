package s3

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/liveview/domain/entities"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{Endpoint: "localhost:9000", Bucket: "archives"}, false},
		{"missing endpoint", Config{Bucket: "archives"}, true},
		{"missing bucket", Config{Endpoint: "localhost:9000"}, true},
		{"expiry too long", Config{Endpoint: "localhost:9000", Bucket: "b", URLExpiry: 8 * 24 * time.Hour}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateConfig(tt.config); (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestObjectKeys(t *testing.T) {
	if got := archiveKey("abc"); got != "archives/abc.json" {
		t.Errorf("Unexpected archive key %s", got)
	}
	if got := clientMarkerKey("team/a", "abc"); got != "clients/team%2Fa/abc" {
		t.Errorf("Unexpected marker key %s", got)
	}
	if got := clientMarkerKey("browser", ""); got != "clients/browser/" {
		t.Errorf("Unexpected marker prefix %s", got)
	}
}

// TestArchiveRepository_Integration requires a MinIO server (S3_ENDPOINT)
func TestArchiveRepository_Integration(t *testing.T) {
	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("Skipping S3 integration test - S3_ENDPOINT not set")
	}

	ctx := context.Background()
	repo, err := NewArchiveRepository(ctx, Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("S3_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_SECRET_KEY"),
		Bucket:    "liveview-test",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}

	clientID := "client-" + time.Now().Format("150405.000")
	archive := entities.NewArchive(clientID, entities.SessionExport{
		SessionID:  "session-1",
		ExportedAt: time.Now(),
		Messages:   []entities.Message{*entities.NewMessage(entities.MessageTypeAssistant, "hi")},
	})

	if err := repo.Create(ctx, archive); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if archive.DownloadURL == "" {
		t.Error("Expected presigned download URL")
	} else if u, err := url.Parse(archive.DownloadURL); err != nil || !strings.Contains(u.RawQuery, "response-content-disposition") {
		t.Errorf("Unexpected download URL %s", archive.DownloadURL)
	}

	got, err := repo.GetByID(ctx, archive.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.ClientID != clientID || len(got.Export.Messages) != 1 {
		t.Errorf("Unexpected archive %+v", got)
	}

	list, err := repo.ListByClientID(ctx, clientID, 10)
	if err != nil {
		t.Fatalf("ListByClientID failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 archive, got %d", len(list))
	}

	if err := repo.Delete(ctx, archive.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.GetByID(ctx, archive.ID); !errors.Is(err, entities.ErrArchiveNotFound) {
		t.Errorf("Expected ErrArchiveNotFound, got %v", err)
	}
}
