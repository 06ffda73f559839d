package models

import "time"

// Platform - целевая платформа сборки.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// ParsePlatform разбирает строковое значение платформы.
// Второе значение false, если платформа не поддерживается.
func ParsePlatform(s string) (Platform, bool) {
	switch Platform(s) {
	case PlatformIOS:
		return PlatformIOS, true
	case PlatformAndroid:
		return PlatformAndroid, true
	default:
		return "", false
	}
}

// FileExtension возвращает расширение файла сборки без точки ("ipa" или "apk").
func (p Platform) FileExtension() string {
	if p == PlatformIOS {
		return "ipa"
	}
	return "apk"
}

// AppFileName возвращает имя файла сборки в хранилище ("app.ipa" или "app.apk").
func (p Platform) AppFileName() string {
	return "app." + p.FileExtension()
}

// Build представляет одну загруженную сборку приложения.
// Тэги `db` используются для маппинга с полями БД с помощью sqlx.
type Build struct {
	UploadID      string    `db:"upload_id" json:"upload_id"`           // Неизменяемый уникальный ID загрузки
	BundleID      string    `db:"bundle_id" json:"bundle_id"`           // Идентификатор приложения
	AppTitle      string    `db:"app_title" json:"app_title"`           // Отображаемое имя приложения
	BundleVersion string    `db:"bundle_version" json:"bundle_version"` // Версия приложения
	Platform      Platform  `db:"platform" json:"platform"`             // Не меняется после создания
	FileSize      int64     `db:"file_size" json:"file_size"`           // 0 для сборок-ссылок
	Checksum      *string   `db:"checksum" json:"checksum,omitempty"`   // BLAKE2b-256 содержимого
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	Tag           *string   `db:"tag" json:"tag,omitempty"`
	// Ссылка на внешний артефакт (GitLab). Если задана, содержимое не хранится локально.
	ExternalURL *string `db:"external_url" json:"external_gitlab_url,omitempty"`
}

// IsExternal сообщает, проксируется ли сборка с внешнего хоста.
func (b *Build) IsExternal() bool {
	return b.ExternalURL != nil && *b.ExternalURL != ""
}

// HasTag сообщает, задан ли у сборки непустой тег.
func (b *Build) HasTag() bool {
	return b.Tag != nil && *b.Tag != ""
}

// Metadata - сведения, извлекаемые из пакета .ipa/.apk.
type Metadata struct {
	AppTitle      string `json:"app_title"`
	BundleID      string `json:"bundle_id"`
	BundleVersion string `json:"bundle_version"`
}
