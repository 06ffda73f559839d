package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	// Секрет загрузки по умолчанию, если UPLOAD_SECRET_AUTH_TOKEN не задан.
	defaultUploadSecret = "secret" //nolint:gosec // Значение по умолчанию для локальной разработки

	backendPostgres = "postgres"
	backendMemory   = "memory"
	backendMinio    = "minio"
	backendLocal    = "local"

	// Переменные окружения, которые можно переопределить флагами.
	envServerPort  = "SERVER_PORT"
	envTLSCertFile = "TLS_CERT_FILE"
	envTLSKeyFile  = "TLS_KEY_FILE"
	envDatabaseDSN = "DATABASE_DSN"
	envStoragePath = "STORAGE_PATH"
	envAppBaseURL  = "APP_BASE_URL"
)

// config хранит конфигурацию сервера.
type config struct {
	Port     string `env:"SERVER_PORT" envDefault:"8080"`
	CertFile string `env:"TLS_CERT_FILE"`
	KeyFile  string `env:"TLS_KEY_FILE"`
	BaseURL  string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	UploadSecret string        `env:"UPLOAD_SECRET_AUTH_TOKEN"`
	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	GitlabToken  string        `env:"GITLAB_ACCESS_TOKEN"`

	MetadataBackend string `env:"METADATA_BACKEND" envDefault:"postgres"`
	DatabaseDSN     string `env:"DATABASE_DSN"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"local"`
	StoragePath    string `env:"STORAGE_PATH" envDefault:"./uploads"`
	MinioEndpoint  string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	MinioUser      string `env:"MINIO_USER" envDefault:"minioadmin"`
	MinioPassword  string `env:"MINIO_PASSWORD" envDefault:"minioadmin"`
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"appdist-builds"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`

	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10m"`
	UploadRateLimit int           `env:"UPLOAD_RATE_LIMIT" envDefault:"60"`
	MaxUploadSize   int64         `env:"MAX_UPLOAD_SIZE" envDefault:"4294967296"`
}

// TLSEnabled сообщает, заданы ли сертификат и ключ.
func (c *config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// parseFlags загружает .env, разбирает переменные окружения и флаги.
// Флаги имеют приоритет над переменными окружения.
func parseFlags() (*config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Ошибка загрузки .env: %v", err)
	}

	cfg := &config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора переменных окружения: %w", err)
	}

	// Значения по умолчанию для флагов берутся из окружения
	flag.StringVar(&cfg.Port, "port", cfg.Port,
		fmt.Sprintf("Порт HTTP(S)-сервера (env: %s)", envServerPort))
	flag.StringVar(&cfg.CertFile, "cert-file", cfg.CertFile,
		fmt.Sprintf("Путь к файлу TLS-сертификата (env: %s)", envTLSCertFile))
	flag.StringVar(&cfg.KeyFile, "key-file", cfg.KeyFile,
		fmt.Sprintf("Путь к файлу TLS-ключа (env: %s)", envTLSKeyFile))
	flag.StringVar(&cfg.DatabaseDSN, "database-dsn", cfg.DatabaseDSN,
		fmt.Sprintf("Строка подключения к базе данных (env: %s)", envDatabaseDSN))
	flag.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath,
		fmt.Sprintf("Каталог локального хранилища сборок (env: %s)", envStoragePath))
	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL,
		fmt.Sprintf("Внешний адрес сервера для ссылок (env: %s)", envAppBaseURL))

	flag.Parse()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate проверяет согласованность параметров и подставляет секрет по умолчанию.
func (c *config) validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("для TLS нужно указать и сертификат (--cert-file), и ключ (--key-file)")
	}

	switch c.MetadataBackend {
	case backendPostgres:
		if c.DatabaseDSN == "" {
			return errors.New("не указана строка подключения к БД (--database-dsn или " + envDatabaseDSN + ")")
		}
	case backendMemory:
	default:
		return fmt.Errorf("неизвестное хранилище метаданных '%s' (ожидается %s или %s)",
			c.MetadataBackend, backendPostgres, backendMemory)
	}

	switch c.StorageBackend {
	case backendMinio, backendLocal:
	default:
		return fmt.Errorf("неизвестное файловое хранилище '%s' (ожидается %s или %s)",
			c.StorageBackend, backendMinio, backendLocal)
	}

	if c.UploadRateLimit <= 0 {
		return errors.New("UPLOAD_RATE_LIMIT должен быть положительным")
	}

	if c.UploadSecret == "" {
		c.UploadSecret = defaultUploadSecret
		log.Println("ВНИМАНИЕ: используется секрет загрузки по умолчанию! " +
			"Задайте его через переменную окружения UPLOAD_SECRET_AUTH_TOKEN.")
	}
	return nil
}
