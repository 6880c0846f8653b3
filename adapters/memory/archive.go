package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/satriahrh/liveview/domain/entities"
	"github.com/satriahrh/liveview/domain/repositories"
)

// ArchiveRepository is an in-memory implementation of ArchiveRepository
type ArchiveRepository struct {
	mu       sync.RWMutex
	archives map[string]*entities.Archive // id -> archive
	clients  map[string][]string          // client_id -> archive ids
}

var _ repositories.ArchiveRepository = (*ArchiveRepository)(nil)

// NewArchiveRepository creates a new in-memory archive repository
func NewArchiveRepository() *ArchiveRepository {
	return &ArchiveRepository{
		archives: make(map[string]*entities.Archive),
		clients:  make(map[string][]string),
	}
}

// Create implements ArchiveRepository interface
func (m *ArchiveRepository) Create(ctx context.Context, archive *entities.Archive) error {
	if archive == nil {
		return errors.New("archive cannot be nil")
	}
	if err := archive.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.archives[archive.ID]; exists {
		return errors.New("archive with this ID already exists")
	}

	archiveCopy := copyArchive(archive)
	m.archives[archive.ID] = archiveCopy
	m.clients[archive.ClientID] = append(m.clients[archive.ClientID], archive.ID)
	return nil
}

// GetByID implements ArchiveRepository interface
func (m *ArchiveRepository) GetByID(ctx context.Context, id string) (*entities.Archive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	archive, exists := m.archives[id]
	if !exists || archive.IsExpired() {
		return nil, entities.ErrArchiveNotFound
	}

	// Return a copy to prevent external modifications
	return copyArchive(archive), nil
}

// ListByClientID returns the newest unexpired archives of a client
func (m *ArchiveRepository) ListByClientID(ctx context.Context, clientID string, limit int) ([]*entities.Archive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*entities.Archive{}
	for _, id := range m.clients[clientID] {
		archive := m.archives[id]
		if archive == nil || archive.IsExpired() {
			continue
		}
		result = append(result, copyArchive(archive))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Delete implements ArchiveRepository interface
func (m *ArchiveRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	archive, exists := m.archives[id]
	if !exists {
		return entities.ErrArchiveNotFound
	}

	delete(m.archives, id)
	ids := m.clients[archive.ClientID]
	for i, candidate := range ids {
		if candidate == id {
			m.clients[archive.ClientID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.clients[archive.ClientID]) == 0 {
		delete(m.clients, archive.ClientID)
	}
	return nil
}

func copyArchive(archive *entities.Archive) *entities.Archive {
	archiveCopy := *archive
	archiveCopy.Export.Messages = append([]entities.Message(nil), archive.Export.Messages...)
	return &archiveCopy
}
