package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
)

const defaultURLExpiry = time.Hour

// Config holds connection settings for an S3 compatible store
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// URLExpiry bounds presigned download links (max 7 days)
	URLExpiry time.Duration
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.Endpoint == "" {
		return errors.New("s3 endpoint is required")
	}
	if config.Bucket == "" {
		return errors.New("s3 bucket is required")
	}
	if config.URLExpiry < 0 || config.URLExpiry > 7*24*time.Hour {
		return fmt.Errorf("url expiry must be between 0 and 7 days, got %s", config.URLExpiry)
	}
	return nil
}

// ArchiveRepository stores session exports as JSON objects.
// Each archive lives at archives/<id>.json with an empty marker at
// clients/<client_id>/<id> for listing.
type ArchiveRepository struct {
	client    *minio.Client
	bucket    string
	urlExpiry time.Duration
	logger    *zap.Logger
}

var _ repositories.ArchiveRepository = (*ArchiveRepository)(nil)

// NewArchiveRepository creates the client and ensures the bucket exists
func NewArchiveRepository(ctx context.Context, config Config, logger *zap.Logger) (*ArchiveRepository, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	urlExpiry := config.URLExpiry
	if urlExpiry == 0 {
		urlExpiry = defaultURLExpiry
		logger.Info("Using default presigned URL expiry", zap.Duration("expiry", urlExpiry))
	}

	r := &ArchiveRepository{
		client:    client,
		bucket:    config.Bucket,
		urlExpiry: urlExpiry,
		logger:    logger,
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// ensureBucket creates the bucket if it doesn't exist
func (r *ArchiveRepository) ensureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		r.logger.Info("Created archive bucket", zap.String("bucket", r.bucket))
	}
	return nil
}

// Create uploads the archive and fills in its download URL
func (r *ArchiveRepository) Create(ctx context.Context, archive *entities.Archive) error {
	if archive == nil {
		return errors.New("archive cannot be nil")
	}
	if err := archive.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("failed to marshal archive: %w", err)
	}

	_, err = r.client.PutObject(ctx, r.bucket, archiveKey(archive.ID), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  "application/json",
			UserMetadata: map[string]string{"client-id": archive.ClientID},
		})
	if err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	_, err = r.client.PutObject(ctx, r.bucket, clientMarkerKey(archive.ClientID, archive.ID), bytes.NewReader(nil), 0,
		minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to index archive: %w", err)
	}

	archive.DownloadURL = r.presign(ctx, archive)
	r.logger.Info("Archive uploaded",
		zap.String("archiveID", archive.ID),
		zap.String("bucket", r.bucket),
		zap.Int("bytes", len(data)))
	return nil
}

// GetByID downloads an archive
func (r *ArchiveRepository) GetByID(ctx context.Context, id string) (*entities.Archive, error) {
	object, err := r.client.GetObject(ctx, r.bucket, archiveKey(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if isNotFound(err) {
			return nil, entities.ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	var archive entities.Archive
	if err := json.Unmarshal(data, &archive); err != nil {
		return nil, fmt.Errorf("failed to decode archive: %w", err)
	}
	if archive.IsExpired() {
		return nil, entities.ErrArchiveNotFound
	}

	archive.DownloadURL = r.presign(ctx, &archive)
	return &archive, nil
}

// ListByClientID returns the newest archives of a client
func (r *ArchiveRepository) ListByClientID(ctx context.Context, clientID string, limit int) ([]*entities.Archive, error) {
	type marker struct {
		id       string
		modified time.Time
	}

	var markers []marker
	prefix := clientMarkerKey(clientID, "")
	for info := range r.client.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list archives: %w", info.Err)
		}
		markers = append(markers, marker{id: strings.TrimPrefix(info.Key, prefix), modified: info.LastModified})
	}

	sort.Slice(markers, func(i, j int) bool {
		return markers[i].modified.After(markers[j].modified)
	})

	archives := []*entities.Archive{}
	for _, m := range markers {
		if limit > 0 && len(archives) >= limit {
			break
		}
		archive, err := r.GetByID(ctx, m.id)
		if errors.Is(err, entities.ErrArchiveNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		archives = append(archives, archive)
	}
	return archives, nil
}

// Delete removes an archive and its listing marker
func (r *ArchiveRepository) Delete(ctx context.Context, id string) error {
	info, err := r.client.StatObject(ctx, r.bucket, archiveKey(id), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return entities.ErrArchiveNotFound
		}
		return fmt.Errorf("failed to get object info: %w", err)
	}

	if err := r.client.RemoveObject(ctx, r.bucket, archiveKey(id), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	if clientID := info.UserMetadata["Client-Id"]; clientID != "" {
		if err := r.client.RemoveObject(ctx, r.bucket, clientMarkerKey(clientID, id), minio.RemoveObjectOptions{}); err != nil {
			r.logger.Warn("Failed to delete archive marker", zap.String("archiveID", id), zap.Error(err))
		}
	}

	r.logger.Info("Archive deleted", zap.String("archiveID", id))
	return nil
}

// presign returns a download link, or empty when signing fails
func (r *ArchiveRepository) presign(ctx context.Context, archive *entities.Archive) string {
	params := url.Values{}
	params.Set("response-content-disposition",
		fmt.Sprintf(`attachment; filename="session-%s.json"`, archive.Export.SessionID))

	u, err := r.client.PresignedGetObject(ctx, r.bucket, archiveKey(archive.ID), r.urlExpiry, params)
	if err != nil {
		r.logger.Warn("Failed to generate presigned url", zap.String("archiveID", archive.ID), zap.Error(err))
		return ""
	}
	return u.String()
}

func archiveKey(id string) string {
	return fmt.Sprintf("archives/%s.json", id)
}

func clientMarkerKey(clientID, id string) string {
	return fmt.Sprintf("clients/%s/%s", url.PathEscape(clientID), id)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
