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

// BuildRepository определяет методы для работы с метаданными сборок.
type BuildRepository interface {
	// SaveBuild сохраняет сборку. Повторный вызов с тем же upload_id перезаписывает запись,
	// но не меняет платформу и время создания.
	SaveBuild(ctx context.Context, build *models.Build) error
	GetBuild(ctx context.Context, uploadID string) (*models.Build, error)
	DeleteBuild(ctx context.Context, uploadID string) error
}

// postgresBuildRepository реализует BuildRepository для PostgreSQL.
type postgresBuildRepository struct {
	db *sqlx.DB
}

// NewPostgresBuildRepository создает новый экземпляр репозитория сборок.
func NewPostgresBuildRepository(db *sqlx.DB) BuildRepository {
	return &postgresBuildRepository{db: db}
}

// SaveBuild вставляет или перезаписывает метаданные сборки.
func (r *postgresBuildRepository) SaveBuild(ctx context.Context, build *models.Build) error {
	query := `INSERT INTO builds (upload_id, bundle_id, app_title, bundle_version, platform, file_size,
	          checksum, created_at, tag, external_url)
	          VALUES (:upload_id, :bundle_id, :app_title, :bundle_version, :platform, :file_size,
	          :checksum, :created_at, :tag, :external_url)
	          ON CONFLICT (upload_id) DO UPDATE SET
	          bundle_id = EXCLUDED.bundle_id, app_title = EXCLUDED.app_title,
	          bundle_version = EXCLUDED.bundle_version, file_size = EXCLUDED.file_size,
	          checksum = EXCLUDED.checksum, tag = EXCLUDED.tag, external_url = EXCLUDED.external_url`

	if _, err := r.db.NamedExecContext(ctx, query, build); err != nil {
		log.Printf("[BuildRepo] Ошибка сохранения сборки '%s': %v", build.UploadID, err)
		return fmt.Errorf("ошибка выполнения запроса на сохранение сборки: %w", err)
	}

	log.Printf("[BuildRepo] Сборка '%s' (%s) сохранена", build.UploadID, build.BundleID)
	return nil
}

// GetBuild находит метаданные сборки по upload_id.
// Возвращает ErrBuildNotFound, если сборки нет.
func (r *postgresBuildRepository) GetBuild(ctx context.Context, uploadID string) (*models.Build, error) {
	query := `SELECT upload_id, bundle_id, app_title, bundle_version, platform, file_size, checksum,
	          created_at, tag, external_url FROM builds WHERE upload_id=$1`
	var build models.Build

	err := r.db.GetContext(ctx, &build, query, uploadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[BuildRepo] Сборка '%s' не найдена", uploadID)
			return nil, ErrBuildNotFound
		}
		log.Printf("[BuildRepo] Ошибка при поиске сборки '%s': %v", uploadID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение сборки: %w", err)
	}

	return &build, nil
}

// DeleteBuild удаляет метаданные сборки. Индексы бандлов не затрагиваются.
func (r *postgresBuildRepository) DeleteBuild(ctx context.Context, uploadID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM builds WHERE upload_id=$1`, uploadID)
	if err != nil {
		log.Printf("[BuildRepo] Ошибка удаления сборки '%s': %v", uploadID, err)
		return fmt.Errorf("ошибка выполнения запроса на удаление сборки: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения результата удаления сборки: %w", err)
	}
	if affected == 0 {
		return ErrBuildNotFound
	}

	log.Printf("[BuildRepo] Сборка '%s' удалена", uploadID)
	return nil
}

// Кастомные ошибки репозитория.
var (
	ErrBuildNotFound      = errors.New("сборка не найдена")
	ErrIndexEntryNotFound = errors.New("запись индекса не найдена")
)
