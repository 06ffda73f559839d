package repository

import (
	"context"
	"sync"

	"github.com/maynagashev/appdist/internal/models"
)

// MemoryStore хранит сборки и индексы бандлов в памяти процесса.
// Реализует BuildRepository и IndexRepository. Используется для локальной разработки и тестов.
type MemoryStore struct {
	mu     sync.RWMutex
	builds map[string]models.Build
	latest map[string]string
	tags   map[tagKey]string
}

type tagKey struct {
	bundleID string
	tag      string
}

var (
	_ BuildRepository = (*MemoryStore)(nil)
	_ IndexRepository = (*MemoryStore)(nil)
)

// NewMemoryStore создает пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		builds: make(map[string]models.Build),
		latest: make(map[string]string),
		tags:   make(map[tagKey]string),
	}
}

// SaveBuild сохраняет копию сборки. Платформа и время создания существующей записи сохраняются.
func (s *MemoryStore) SaveBuild(_ context.Context, build *models.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneBuild(build)
	if existing, ok := s.builds[build.UploadID]; ok {
		stored.Platform = existing.Platform
		stored.CreatedAt = existing.CreatedAt
	}
	s.builds[build.UploadID] = stored
	return nil
}

// GetBuild возвращает копию сборки или ErrBuildNotFound.
func (s *MemoryStore) GetBuild(_ context.Context, uploadID string) (*models.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	build, ok := s.builds[uploadID]
	if !ok {
		return nil, ErrBuildNotFound
	}
	clone := cloneBuild(&build)
	return &clone, nil
}

// DeleteBuild удаляет сборку, оставляя индексы нетронутыми.
func (s *MemoryStore) DeleteBuild(_ context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.builds[uploadID]; !ok {
		return ErrBuildNotFound
	}
	delete(s.builds, uploadID)
	return nil
}

// RecordUpload обновляет оба индекса под одной блокировкой.
func (s *MemoryStore) RecordUpload(_ context.Context, build *models.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[build.BundleID] = build.UploadID
	if build.HasTag() {
		s.tags[tagKey{bundleID: build.BundleID, tag: *build.Tag}] = build.UploadID
	}
	return nil
}

// LatestForBundle возвращает upload_id последней загрузки бандла.
func (s *MemoryStore) LatestForBundle(_ context.Context, bundleID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uploadID, ok := s.latest[bundleID]
	if !ok {
		return "", ErrIndexEntryNotFound
	}
	return uploadID, nil
}

// UploadForTag возвращает upload_id для пары (бандл, тег).
func (s *MemoryStore) UploadForTag(_ context.Context, bundleID, tag string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uploadID, ok := s.tags[tagKey{bundleID: bundleID, tag: tag}]
	if !ok {
		return "", ErrIndexEntryNotFound
	}
	return uploadID, nil
}

func cloneBuild(b *models.Build) models.Build {
	clone := *b
	if b.Checksum != nil {
		v := *b.Checksum
		clone.Checksum = &v
	}
	if b.Tag != nil {
		v := *b.Tag
		clone.Tag = &v
	}
	if b.ExternalURL != nil {
		v := *b.ExternalURL
		clone.ExternalURL = &v
	}
	return clone
}
