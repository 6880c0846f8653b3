package mongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/liveview/domain/entities"
)

// TestArchiveRepository_Integration requires a running MongoDB instance
func TestArchiveRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	client, err := NewClient(ctx, ClientConfig{URI: mongoURI, Database: "liveview_test"}, logger)
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Close(ctx)
	defer client.Database.Drop(ctx)

	repo := NewArchiveRepository(client.Database, logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	newArchive := func(clientID string) *entities.Archive {
		msg := entities.NewMessage(entities.MessageTypeAssistant, "A chart is visible")
		return entities.NewArchive(clientID, entities.SessionExport{
			SessionID:  "session-1",
			ExportedAt: time.Now(),
			Messages:   []entities.Message{*msg},
		})
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		archive := newArchive("client-a")
		if err := repo.Create(ctx, archive); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		got, err := repo.GetByID(ctx, archive.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if got.ClientID != "client-a" || len(got.Export.Messages) != 1 {
			t.Errorf("Unexpected archive %+v", got)
		}
		if got.Export.Messages[0].Content != "A chart is visible" {
			t.Errorf("Unexpected message content %q", got.Export.Messages[0].Content)
		}
	})

	t.Run("ListByClientID", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if err := repo.Create(ctx, newArchive("client-b")); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
		}

		archives, err := repo.ListByClientID(ctx, "client-b", 2)
		if err != nil {
			t.Fatalf("ListByClientID failed: %v", err)
		}
		if len(archives) != 2 {
			t.Errorf("Expected 2 archives, got %d", len(archives))
		}
	})

	t.Run("ExpiredIsHidden", func(t *testing.T) {
		archive := newArchive("client-c")
		archive.ExpiresAt = time.Now().Add(-time.Minute)
		if err := repo.Create(ctx, archive); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if _, err := repo.GetByID(ctx, archive.ID); !errors.Is(err, entities.ErrArchiveNotFound) {
			t.Errorf("Expected ErrArchiveNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		archive := newArchive("client-d")
		_ = repo.Create(ctx, archive)

		if err := repo.Delete(ctx, archive.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := repo.Delete(ctx, archive.ID); !errors.Is(err, entities.ErrArchiveNotFound) {
			t.Errorf("Expected ErrArchiveNotFound, got %v", err)
		}
	})
}
