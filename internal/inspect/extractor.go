// Package inspect извлекает метаданные приложения из пакетов .ipa и .apk.
package inspect

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/maynagashev/appdist/internal/models"
	"github.com/maynagashev/appdist/internal/services"
	"github.com/shogo82148/androidbinary/apk"
	"howett.net/plist"
)

// Максимальный размер Info.plist, который читается из архива.
const maxInfoPlistSize = 4 << 20

var errInfoPlistNotFound = errors.New("Payload/*.app/Info.plist не найден")

// infoPlist - ключи Info.plist, нужные для метаданных сборки.
type infoPlist struct {
	DisplayName        string `plist:"CFBundleDisplayName"`
	Name               string `plist:"CFBundleName"`
	Identifier         string `plist:"CFBundleIdentifier"`
	ShortVersionString string `plist:"CFBundleShortVersionString"`
	Version            string `plist:"CFBundleVersion"`
}

// Extractor реализует services.MetadataExtractor.
type Extractor struct{}

var _ services.MetadataExtractor = (*Extractor)(nil) // Проверка соответствия интерфейсу

// NewExtractor создает экстрактор метаданных.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract разбирает пакет платформы. Любая ошибка разбора оборачивает services.ErrInvalidFileType.
func (e *Extractor) Extract(platform models.Platform, content []byte) (*models.Metadata, error) {
	var (
		meta *models.Metadata
		err  error
	)
	switch platform {
	case models.PlatformIOS:
		meta, err = extractIPA(content)
	case models.PlatformAndroid:
		meta, err = extractAPK(content)
	default:
		err = fmt.Errorf("неизвестная платформа '%s'", platform)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", services.ErrInvalidFileType, err)
	}
	if meta.BundleID == "" {
		return nil, fmt.Errorf("%w: в пакете не указан идентификатор приложения", services.ErrInvalidFileType)
	}
	return meta, nil
}

func extractIPA(content []byte) (*models.Metadata, error) {
	archive, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия ipa: %w", err)
	}

	for _, file := range archive.File {
		if !isAppInfoPlist(file.Name) {
			continue
		}
		data, err := readZipFile(file)
		if err != nil {
			return nil, err
		}

		var info infoPlist
		if _, err = plist.Unmarshal(data, &info); err != nil {
			return nil, fmt.Errorf("ошибка разбора Info.plist: %w", err)
		}

		meta := &models.Metadata{
			AppTitle:      info.DisplayName,
			BundleID:      info.Identifier,
			BundleVersion: info.ShortVersionString,
		}
		if meta.AppTitle == "" {
			meta.AppTitle = info.Name
		}
		if meta.BundleVersion == "" {
			meta.BundleVersion = info.Version
		}
		return meta, nil
	}
	return nil, errInfoPlistNotFound
}

// isAppInfoPlist проверяет, что имя вида Payload/<name>.app/Info.plist.
func isAppInfoPlist(name string) bool {
	dir, file := path.Split(name)
	if file != "Info.plist" {
		return false
	}
	parent, bundle := path.Split(strings.TrimSuffix(dir, "/"))
	return parent == "Payload/" && strings.HasSuffix(bundle, ".app")
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия '%s' в архиве: %w", file.Name, err)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			log.Printf("[Inspect] Ошибка закрытия '%s': %v", file.Name, closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(rc, maxInfoPlistSize))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения '%s' из архива: %w", file.Name, err)
	}
	return data, nil
}

func extractAPK(content []byte) (meta *models.Metadata, err error) {
	// Разбор бинарного XML на поврежденных пакетах может паниковать
	defer func() {
		if r := recover(); r != nil {
			meta, err = nil, fmt.Errorf("ошибка разбора apk: %v", r)
		}
	}()

	pkg, err := apk.OpenZipReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия apk: %w", err)
	}
	defer func() {
		if closeErr := pkg.Close(); closeErr != nil {
			log.Printf("[Inspect] Ошибка закрытия apk: %v", closeErr)
		}
	}()

	label, err := pkg.Label(nil)
	if err != nil {
		// Без ресурсов используем имя пакета
		log.Printf("[Inspect] Не удалось получить название приложения: %v", err)
		label = ""
	}
	version, err := pkg.Manifest().VersionName.String()
	if err != nil {
		log.Printf("[Inspect] Не удалось получить версию приложения: %v", err)
		version = ""
	}

	meta = &models.Metadata{
		AppTitle:      label,
		BundleID:      pkg.PackageName(),
		BundleVersion: version,
	}
	if meta.AppTitle == "" {
		meta.AppTitle = meta.BundleID
	}
	return meta, nil
}
