package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/maynagashev/appdist/internal/models"
	"github.com/maynagashev/appdist/internal/repository"
	"github.com/maynagashev/appdist/internal/storage"
)

const binaryContentType = "application/octet-stream"

// RecordStore хранит метаданные сборок и их содержимое, адресуемое по upload_id.
// Индексы бандлов он не трогает.
type RecordStore struct {
	builds repository.BuildRepository
	files  storage.FileStorage
}

// NewRecordStore создает хранилище записей сборок.
func NewRecordStore(builds repository.BuildRepository, files storage.FileStorage) *RecordStore {
	return &RecordStore{builds: builds, files: files}
}

// Put сохраняет содержимое (если оно непустое) и затем метаданные сборки.
// Повтор с тем же upload_id перезаписывает данные, но не платформу:
// смена платформы отклоняется с ErrInvalidRequest.
func (s *RecordStore) Put(ctx context.Context, build *models.Build, content []byte) error {
	existing, err := s.builds.GetBuild(ctx, build.UploadID)
	switch {
	case err == nil:
		if existing.Platform != build.Platform {
			log.Printf("[RecordStore] Попытка сменить платформу сборки '%s': %s -> %s",
				build.UploadID, existing.Platform, build.Platform)
			return fmt.Errorf("%w: платформа сборки '%s' уже %s", ErrInvalidRequest, build.UploadID, existing.Platform)
		}
	case errors.Is(err, repository.ErrBuildNotFound):
	default:
		return fmt.Errorf("ошибка проверки сборки '%s': %w", build.UploadID, err)
	}

	if len(content) > 0 {
		err := s.files.UploadFile(ctx, objectKey(build), bytes.NewReader(content), int64(len(content)), binaryContentType)
		if err != nil {
			return fmt.Errorf("ошибка сохранения содержимого сборки '%s': %w", build.UploadID, err)
		}
	}
	if err := s.builds.SaveBuild(ctx, build); err != nil {
		return fmt.Errorf("ошибка сохранения метаданных сборки '%s': %w", build.UploadID, err)
	}
	return nil
}

// Get возвращает метаданные сборки или ErrNotFound.
func (s *RecordStore) Get(ctx context.Context, uploadID string) (*models.Build, error) {
	build, err := s.builds.GetBuild(ctx, uploadID)
	if err != nil {
		if errors.Is(err, repository.ErrBuildNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сборки '%s': %w", uploadID, err)
	}
	return build, nil
}

// GetContent возвращает локально сохраненное содержимое сборки.
// Для сборок-ссылок содержимого нет, возвращается ErrNotFound.
func (s *RecordStore) GetContent(ctx context.Context, uploadID string) ([]byte, error) {
	build, err := s.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return s.readContent(ctx, build)
}

func (s *RecordStore) readContent(ctx context.Context, build *models.Build) ([]byte, error) {
	if build.IsExternal() {
		return nil, ErrNotFound
	}

	reader, err := s.files.DownloadFile(ctx, objectKey(build))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Printf("[RecordStore] Содержимое сборки '%s' отсутствует в хранилище", build.UploadID)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения содержимого сборки '%s': %w", build.UploadID, err)
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			log.Printf("[RecordStore] Ошибка закрытия файла сборки '%s': %v", build.UploadID, closeErr)
		}
	}()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения содержимого сборки '%s': %w", build.UploadID, err)
	}
	return content, nil
}

// Delete удаляет метаданные и содержимое сборки. Индексы остаются как есть.
func (s *RecordStore) Delete(ctx context.Context, uploadID string) error {
	build, err := s.Get(ctx, uploadID)
	if err != nil {
		return err
	}

	if err = s.builds.DeleteBuild(ctx, uploadID); err != nil {
		if errors.Is(err, repository.ErrBuildNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления метаданных сборки '%s': %w", uploadID, err)
	}

	if build.IsExternal() {
		return nil
	}
	// Запись уже удалена, поэтому оставшийся файл недостижим; ошибку только логируем
	if err = s.files.DeleteFile(ctx, objectKey(build)); err != nil {
		log.Printf("[RecordStore] Не удалось удалить содержимое сборки '%s': %v", uploadID, err)
	}
	return nil
}
