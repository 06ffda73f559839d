package services

import (
	"encoding/hex"
	"path"

	"github.com/google/uuid"
	"github.com/maynagashev/appdist/internal/models"
	"golang.org/x/crypto/blake2b"
)

// PlatformFromFileName определяет платформу по расширению имени загружаемого файла.
func PlatformFromFileName(fileName string) (models.Platform, error) {
	switch path.Ext(fileName) {
	case ".ipa":
		return models.PlatformIOS, nil
	case ".apk":
		return models.PlatformAndroid, nil
	default:
		return "", ErrInvalidFileType
	}
}

// NewUploadID генерирует новый случайный идентификатор загрузки.
func NewUploadID() string {
	return uuid.NewString()
}

// ContentChecksum возвращает BLAKE2b-256 содержимого в hex.
func ContentChecksum(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// objectKey возвращает ключ содержимого сборки в файловом хранилище.
func objectKey(build *models.Build) string {
	return build.UploadID + "/" + build.Platform.AppFileName()
}
