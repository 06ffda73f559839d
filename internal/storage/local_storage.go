package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// LocalStorage реализует FileStorage поверх каталога локальной файловой системы.
// Ключ объекта "<upload_id>/app.ipa" соответствует файлу <root>/<upload_id>/app.ipa.
type LocalStorage struct {
	root string
}

var _ FileStorage = (*LocalStorage)(nil)

// NewLocalStorage создает хранилище в каталоге root, создавая его при необходимости.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога хранилища '%s': %w", root, err)
	}
	log.Printf("Локальное хранилище сборок: %s", root)
	return &LocalStorage{root: filepath.Clean(root)}, nil
}

func (s *LocalStorage) objectPath(objectKey string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(objectKey))
	if objectKey == "" || filepath.IsAbs(cleaned) || cleaned == ".." ||
		strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.root, cleaned), nil
}

// UploadFile записывает файл через временный файл и переименование,
// поэтому читатели не видят частично записанного содержимого.
func (s *LocalStorage) UploadFile(ctx context.Context, objectKey string, reader io.Reader, _ int64, _ string) error {
	path, err := s.objectPath(objectKey)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("ошибка создания каталога для '%s': %w", objectKey, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла для '%s': %w", objectKey, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// После успешного переименования файла уже нет
		_ = os.Remove(tmpName)
	}()

	if _, err = io.Copy(tmp, readerWithContext(ctx, reader)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("ошибка записи файла '%s': %w", objectKey, err)
	}
	if err = tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("ошибка установки прав на файл '%s': %w", objectKey, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия файла '%s': %w", objectKey, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("ошибка сохранения файла '%s': %w", objectKey, err)
	}

	log.Printf("[LocalStorage] Файл '%s' сохранен", objectKey)
	return nil
}

// DownloadFile открывает файл для чтения.
func (s *LocalStorage) DownloadFile(_ context.Context, objectKey string) (io.ReadCloser, error) {
	path, err := s.objectPath(objectKey)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("ошибка открытия файла '%s': %w", objectKey, err)
	}
	return file, nil
}

// DeleteFile удаляет файл и пустой каталог загрузки.
func (s *LocalStorage) DeleteFile(_ context.Context, objectKey string) error {
	path, err := s.objectPath(objectKey)
	if err != nil {
		return err
	}
	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла '%s': %w", objectKey, err)
	}
	// Каталог может быть непустым, тогда он остается
	if dir := filepath.Dir(path); dir != s.root {
		_ = os.Remove(dir)
	}
	log.Printf("[LocalStorage] Файл '%s' удален", objectKey)
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
