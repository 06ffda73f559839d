package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/maynagashev/appdist/internal/models"
	"github.com/maynagashev/appdist/internal/repository"
)

// MetadataExtractor извлекает метаданные из содержимого пакета .ipa/.apk.
// Если пакет не распознан, возвращает ошибку, совместимую с ErrInvalidFileType.
type MetadataExtractor interface {
	Extract(platform models.Platform, content []byte) (*models.Metadata, error)
}

// LinkRequest - регистрация сборки, размещенной на внешнем хосте.
type LinkRequest struct {
	Platform    models.Platform
	Metadata    models.Metadata
	ExternalURL string
	Tag         *string
}

// BuildService определяет интерфейс сервиса сборок, доступный слою обработчиков.
type BuildService interface {
	RegisterUpload(ctx context.Context, fileName string, content []byte, tag *string) (*models.Build, error)
	RegisterLink(ctx context.Context, req LinkRequest) (*models.Build, error)
	Delete(ctx context.Context, uploadID string) error
	ResolveByID(ctx context.Context, uploadID string, expected *models.Platform) (*models.Build, error)
	ResolveLatest(ctx context.Context, bundleID string) (*models.Build, error)
	ResolveTagged(ctx context.Context, bundleID, tag string) (*models.Build, error)
	Fetch(ctx context.Context, build *models.Build) (ByteSource, error)
}

var _ BuildService = (*buildService)(nil) // Проверка соответствия интерфейсу

// createdAtPrecision - точность TIMESTAMPTZ в PostgreSQL.
const createdAtPrecision = time.Microsecond

type buildService struct {
	*Resolver
	*ArtifactFetcher

	records   *RecordStore
	indices   repository.IndexRepository
	extractor MetadataExtractor
	now       func() time.Time
}

// NewBuildService создает сервис сборок.
func NewBuildService(
	records *RecordStore,
	indices repository.IndexRepository,
	extractor MetadataExtractor,
	fetcher *ArtifactFetcher,
) BuildService {
	return &buildService{
		Resolver:        NewResolver(records, indices),
		ArtifactFetcher: fetcher,
		records:         records,
		indices:         indices,
		extractor:       extractor,
		now:             func() time.Time { return time.Now().UTC().Truncate(createdAtPrecision) },
	}
}

// RegisterUpload регистрирует загруженный пакет: платформа определяется по расширению
// имени файла, метаданные извлекаются из содержимого.
func (s *buildService) RegisterUpload(
	ctx context.Context,
	fileName string,
	content []byte,
	tag *string,
) (*models.Build, error) {
	platform, err := PlatformFromFileName(fileName)
	if err != nil {
		log.Printf("[BuildService] Неподдерживаемый файл '%s'", fileName)
		return nil, err
	}
	if len(content) == 0 {
		return nil, ErrInvalidFileType
	}

	meta, err := s.extractor.Extract(platform, content)
	if err != nil {
		log.Printf("[BuildService] Не удалось разобрать пакет '%s': %v", fileName, err)
		if errors.Is(err, ErrInvalidFileType) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidFileType, err)
	}

	checksum := ContentChecksum(content)
	build := &models.Build{
		UploadID:      NewUploadID(),
		BundleID:      meta.BundleID,
		AppTitle:      meta.AppTitle,
		BundleVersion: meta.BundleVersion,
		Platform:      platform,
		FileSize:      int64(len(content)),
		Checksum:      &checksum,
		CreatedAt:     s.now(),
		Tag:           normalizeTag(tag),
	}

	log.Printf("[BuildService] Начало загрузки '%s'", build.UploadID)
	if err = s.register(ctx, build, content); err != nil {
		return nil, err
	}
	log.Printf("[BuildService] Сборка '%s' (%s) успешно загружена", build.BundleID, build.UploadID)
	return build, nil
}

// RegisterLink регистрирует сборку-ссылку без локального содержимого.
func (s *buildService) RegisterLink(ctx context.Context, req LinkRequest) (*models.Build, error) {
	if req.ExternalURL == "" || req.Metadata.BundleID == "" {
		return nil, fmt.Errorf("%w: требуются bundle_id и внешний URL", ErrInvalidRequest)
	}
	if _, ok := models.ParsePlatform(string(req.Platform)); !ok {
		return nil, fmt.Errorf("%w: неизвестная платформа '%s'", ErrInvalidRequest, req.Platform)
	}

	externalURL := req.ExternalURL
	build := &models.Build{
		UploadID:      NewUploadID(),
		BundleID:      req.Metadata.BundleID,
		AppTitle:      req.Metadata.AppTitle,
		BundleVersion: req.Metadata.BundleVersion,
		Platform:      req.Platform,
		FileSize:      0,
		CreatedAt:     s.now(),
		Tag:           normalizeTag(req.Tag),
		ExternalURL:   &externalURL,
	}

	if err := s.register(ctx, build, nil); err != nil {
		return nil, err
	}
	log.Printf("[BuildService] Сборка-ссылка '%s' (%s) зарегистрирована", build.BundleID, build.UploadID)
	return build, nil
}

// register сохраняет запись и затем обновляет индексы бандла.
func (s *buildService) register(ctx context.Context, build *models.Build, content []byte) error {
	if err := s.records.Put(ctx, build, content); err != nil {
		log.Printf("[BuildService] Ошибка сохранения сборки '%s': %v", build.UploadID, err)
		return err
	}
	if err := s.indices.RecordUpload(ctx, build); err != nil {
		log.Printf("[BuildService] Ошибка обновления индексов для '%s': %v", build.UploadID, err)
		return fmt.Errorf("ошибка обновления индексов бандла '%s': %w", build.BundleID, err)
	}
	return nil
}

// Delete удаляет сборку. Записи индексов, указывающие на нее, остаются висячими
// и при разрешении дают ErrNotFound.
func (s *buildService) Delete(ctx context.Context, uploadID string) error {
	if err := s.records.Delete(ctx, uploadID); err != nil {
		return err
	}
	log.Printf("[BuildService] Сборка '%s' удалена", uploadID)
	return nil
}

func normalizeTag(tag *string) *string {
	if tag == nil || *tag == "" {
		return nil
	}
	v := *tag
	return &v
}
