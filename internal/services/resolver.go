package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/maynagashev/appdist/internal/models"
	"github.com/maynagashev/appdist/internal/repository"
)

// Resolver превращает upload_id, бандл или пару (бандл, тег) в конкретную сборку.
type Resolver struct {
	records *RecordStore
	indices repository.IndexRepository
}

// NewResolver создает резолвер сборок.
func NewResolver(records *RecordStore, indices repository.IndexRepository) *Resolver {
	return &Resolver{records: records, indices: indices}
}

// ResolveByID возвращает сборку по upload_id. Если expected задан и не совпадает с платформой
// сборки, возвращается ErrNotFound, как и для несуществующей сборки.
func (r *Resolver) ResolveByID(ctx context.Context, uploadID string, expected *models.Platform) (*models.Build, error) {
	build, err := r.records.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if expected != nil && *expected != build.Platform {
		log.Printf("[Resolver] Сборка '%s' (%s) запрошена как %s", uploadID, build.Platform, *expected)
		return nil, ErrNotFound
	}
	return build, nil
}

// ResolveLatest возвращает последнюю загруженную сборку бандла.
func (r *Resolver) ResolveLatest(ctx context.Context, bundleID string) (*models.Build, error) {
	uploadID, err := r.indices.LatestForBundle(ctx, bundleID)
	if err != nil {
		return nil, indexLookupError(err, "последней загрузки бандла "+bundleID)
	}
	return r.resolveIndexed(ctx, uploadID)
}

// ResolveTagged возвращает сборку бандла, закрепленную за тегом.
func (r *Resolver) ResolveTagged(ctx context.Context, bundleID, tag string) (*models.Build, error) {
	uploadID, err := r.indices.UploadForTag(ctx, bundleID, tag)
	if err != nil {
		return nil, indexLookupError(err, "тега "+tag+" бандла "+bundleID)
	}
	return r.resolveIndexed(ctx, uploadID)
}

// resolveIndexed разрешает upload_id из индекса. Висячая запись дает ErrNotFound.
func (r *Resolver) resolveIndexed(ctx context.Context, uploadID string) (*models.Build, error) {
	build, err := r.ResolveByID(ctx, uploadID, nil)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[Resolver] Индекс указывает на удаленную сборку '%s'", uploadID)
	}
	return build, err
}

func indexLookupError(err error, what string) error {
	if errors.Is(err, repository.ErrIndexEntryNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("ошибка поиска %s: %w", what, err)
}
