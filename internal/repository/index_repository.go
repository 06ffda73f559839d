package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/appdist/internal/models"
)

// IndexRepository поддерживает вторичные индексы бандлов:
// "последняя загрузка бандла" и "загрузка по паре (бандл, тег)".
type IndexRepository interface {
	// RecordUpload безусловно обновляет индекс последней загрузки и, если у сборки есть тег,
	// индекс тегов. Оба изменения видны читателям одновременно.
	RecordUpload(ctx context.Context, build *models.Build) error
	LatestForBundle(ctx context.Context, bundleID string) (string, error)
	UploadForTag(ctx context.Context, bundleID, tag string) (string, error)
}

// postgresIndexRepository реализует IndexRepository для PostgreSQL.
type postgresIndexRepository struct {
	db *sqlx.DB
}

// NewPostgresIndexRepository создает новый экземпляр репозитория индексов.
func NewPostgresIndexRepository(db *sqlx.DB) IndexRepository {
	return &postgresIndexRepository{db: db}
}

const (
	upsertLatestQuery = `INSERT INTO bundle_latest (bundle_id, upload_id, updated_at) VALUES ($1, $2, NOW())
	          ON CONFLICT (bundle_id) DO UPDATE SET upload_id = EXCLUDED.upload_id, updated_at = NOW()`
	upsertTagQuery = `INSERT INTO bundle_tags (bundle_id, tag, upload_id, updated_at) VALUES ($1, $2, $3, NOW())
	          ON CONFLICT (bundle_id, tag) DO UPDATE SET upload_id = EXCLUDED.upload_id, updated_at = NOW()`
)

// RecordUpload обновляет оба индекса в одной транзакции.
func (r *postgresIndexRepository) RecordUpload(ctx context.Context, build *models.Build) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции обновления индексов: %w", err)
	}
	// Откат после Commit ничего не делает
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("[IndexRepo] Ошибка отката транзакции: %v", rbErr)
		}
	}()

	if _, err = tx.ExecContext(ctx, upsertLatestQuery, build.BundleID, build.UploadID); err != nil {
		log.Printf("[IndexRepo] Ошибка обновления последней загрузки для '%s': %v", build.BundleID, err)
		return fmt.Errorf("ошибка выполнения запроса на обновление последней загрузки: %w", err)
	}

	if build.HasTag() {
		if _, err = tx.ExecContext(ctx, upsertTagQuery, build.BundleID, *build.Tag, build.UploadID); err != nil {
			log.Printf("[IndexRepo] Ошибка обновления тега '%s' для '%s': %v", *build.Tag, build.BundleID, err)
			return fmt.Errorf("ошибка выполнения запроса на обновление тега: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции обновления индексов: %w", err)
	}

	log.Printf("[IndexRepo] Индексы бандла '%s' указывают на '%s'", build.BundleID, build.UploadID)
	return nil
}

// LatestForBundle возвращает upload_id последней загрузки бандла.
func (r *postgresIndexRepository) LatestForBundle(ctx context.Context, bundleID string) (string, error) {
	var uploadID string
	err := r.db.GetContext(ctx, &uploadID, `SELECT upload_id FROM bundle_latest WHERE bundle_id=$1`, bundleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrIndexEntryNotFound
		}
		log.Printf("[IndexRepo] Ошибка при поиске последней загрузки для '%s': %v", bundleID, err)
		return "", fmt.Errorf("ошибка выполнения запроса на получение последней загрузки: %w", err)
	}
	return uploadID, nil
}

// UploadForTag возвращает upload_id, закрепленный за парой (бандл, тег).
func (r *postgresIndexRepository) UploadForTag(ctx context.Context, bundleID, tag string) (string, error) {
	var uploadID string
	err := r.db.GetContext(ctx, &uploadID,
		`SELECT upload_id FROM bundle_tags WHERE bundle_id=$1 AND tag=$2`, bundleID, tag)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrIndexEntryNotFound
		}
		log.Printf("[IndexRepo] Ошибка при поиске тега '%s' для '%s': %v", tag, bundleID, err)
		return "", fmt.Errorf("ошибка выполнения запроса на получение загрузки по тегу: %w", err)
	}
	return uploadID, nil
}
