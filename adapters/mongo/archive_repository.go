package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
)

const archiveCollection = "archives"

// ArchiveRepository implements repositories.ArchiveRepository using MongoDB
type ArchiveRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.ArchiveRepository = (*ArchiveRepository)(nil)

// NewArchiveRepository creates a new MongoDB archive repository
func NewArchiveRepository(db *mongo.Database, logger *zap.Logger) *ArchiveRepository {
	return &ArchiveRepository{
		collection: db.Collection(archiveCollection),
		logger:     logger,
	}
}

// EnsureIndexes creates the lookup index and the TTL index on expires_at
func (r *ArchiveRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "client_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
	}

	// TTL index for automatic cleanup of expired archives
	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{clientIndex, ttlIndex}); err != nil {
		return fmt.Errorf("failed to create archive indexes: %w", err)
	}
	r.logger.Info("Archive indexes created successfully")
	return nil
}

// Create stores a new archive
func (r *ArchiveRepository) Create(ctx context.Context, archive *entities.Archive) error {
	if archive == nil {
		return errors.New("archive cannot be nil")
	}
	if err := archive.Validate(); err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, archive); err != nil {
		r.logger.Error("Failed to create archive", zap.Error(err), zap.String("archiveID", archive.ID))
		return fmt.Errorf("failed to create archive: %w", err)
	}

	r.logger.Info("Archive created",
		zap.String("archiveID", archive.ID),
		zap.String("sessionID", archive.Export.SessionID),
		zap.Int("messages", len(archive.Export.Messages)))
	return nil
}

// GetByID retrieves an archive by its ID
func (r *ArchiveRepository) GetByID(ctx context.Context, id string) (*entities.Archive, error) {
	var archive entities.Archive
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&archive)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, entities.ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to get archive %s: %w", id, err)
	}

	// the TTL monitor runs about once a minute
	if archive.IsExpired() {
		return nil, entities.ErrArchiveNotFound
	}
	return &archive, nil
}

// ListByClientID returns the newest archives of a client
func (r *ArchiveRepository) ListByClientID(ctx context.Context, clientID string, limit int) ([]*entities.Archive, error) {
	filter := bson.M{
		"client_id":  clientID,
		"expires_at": bson.M{"$gt": time.Now()},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives for client %s: %w", clientID, err)
	}
	defer cursor.Close(ctx)

	var archives []*entities.Archive
	for cursor.Next(ctx) {
		var archive entities.Archive
		if err := cursor.Decode(&archive); err != nil {
			r.logger.Error("Failed to decode archive", zap.Error(err))
			continue
		}
		archives = append(archives, &archive)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return archives, nil
}

// Delete removes an archive
func (r *ArchiveRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete archive %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return entities.ErrArchiveNotFound
	}

	r.logger.Info("Archive deleted", zap.String("archiveID", id))
	return nil
}
