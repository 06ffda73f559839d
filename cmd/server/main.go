package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/jmoiron/sqlx"
	"github.com/maynagashev/appdist/internal/handlers"
	"github.com/maynagashev/appdist/internal/inspect"
	appmiddleware "github.com/maynagashev/appdist/internal/middleware"
	"github.com/maynagashev/appdist/internal/repository"
	"github.com/maynagashev/appdist/internal/services"
	"github.com/maynagashev/appdist/internal/storage"
)

const (
	// WriteTimeout не задается: скачивание и загрузка сборок могут длиться минуты.
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	shutdownTimeout          = 30 * time.Second
	rateLimitWindow          = time.Minute
)

// Конструкторы внешних зависимостей, подменяются в тестах.
var (
	newPostgresDB  = repository.NewPostgresDB
	newMinioClient = func(ctx context.Context, cfg storage.MinioConfig) (storage.FileStorage, error) {
		return storage.NewMinioClient(ctx, cfg)
	}
)

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db           *sqlx.DB // nil при хранении метаданных в памяти
	fileStorage  storage.FileStorage
	buildHandler *handlers.BuildHandler
	tokenHandler *handlers.TokenHandler
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	if err := run(); err != nil {
		log.Printf("Ошибка выполнения сервера: %v", err)
		os.Exit(1)
	}
}

// run содержит основную логику запуска сервера и возвращает ошибку.
func run() error {
	log.Println("Запуск сервера раздачи сборок...")

	cfg, err := parseFlags()
	if err != nil {
		return fmt.Errorf("ошибка конфигурации: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setupDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer deps.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(deps, cfg),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		if cfg.TLSEnabled() {
			log.Printf("Запуск HTTPS-сервера на порту %s (сертификат: %s)", cfg.Port, cfg.CertFile)
			serveErr <- server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
			return
		}
		log.Printf("Запуск HTTP-сервера на порту %s", cfg.Port)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка запуска сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Println("Получен сигнал завершения, остановка сервера...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	log.Println("Сервер остановлен.")
	return nil
}

// setupDependencies инициализирует и возвращает все необходимые зависимости сервера.
func setupDependencies(ctx context.Context, cfg *config) (*dependencies, error) {
	deps := &dependencies{}

	// 1. Хранилище метаданных и индексов
	var (
		builds  repository.BuildRepository
		indices repository.IndexRepository
	)
	switch cfg.MetadataBackend {
	case backendPostgres:
		db, err := newPostgresDB(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
		}
		deps.db = db
		if err = repository.EnsureSchema(ctx, db); err != nil {
			deps.Close()
			return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
		}
		builds = repository.NewPostgresBuildRepository(db)
		indices = repository.NewPostgresIndexRepository(db)
	default:
		log.Println("Метаданные хранятся в памяти и будут потеряны при перезапуске.")
		store := repository.NewMemoryStore()
		builds, indices = store, store
	}

	// 2. Хранилище содержимого сборок
	var err error
	switch cfg.StorageBackend {
	case backendMinio:
		deps.fileStorage, err = newMinioClient(ctx, storage.MinioConfig{
			Endpoint:        cfg.MinioEndpoint,
			AccessKeyID:     cfg.MinioUser,
			SecretAccessKey: cfg.MinioPassword,
			UseSSL:          cfg.MinioUseSSL,
			BucketName:      cfg.MinioBucket,
		})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
		}
	default:
		deps.fileStorage, err = storage.NewLocalStorage(cfg.StoragePath)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("ошибка инициализации локального хранилища: %w", err)
		}
	}

	// 3. Сервисы
	records := services.NewRecordStore(builds, deps.fileStorage)
	fetcher := services.NewArtifactFetcher(records, services.NewUpstreamClient(cfg.UpstreamTimeout), cfg.GitlabToken)
	buildService := services.NewBuildService(records, indices, inspect.NewExtractor(), fetcher)
	tokenService := services.NewTokenService(cfg.UploadSecret, cfg.TokenTTL)

	// 4. Обработчики
	deps.buildHandler = handlers.NewBuildHandler(buildService, cfg.BaseURL, cfg.MaxUploadSize)
	deps.tokenHandler = handlers.NewTokenHandler(tokenService)

	return deps, nil
}

// Close освобождает соединение с БД, если оно было открыто.
func (d *dependencies) Close() {
	if d.db == nil {
		return
	}
	if err := d.db.Close(); err != nil {
		log.Printf("Ошибка закрытия соединения с БД: %v", err)
	}
	d.db = nil
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(deps *dependencies, cfg *config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- Публичные маршруты --- //
	r.Get("/healthz", handlers.Healthz)
	r.Get("/get/{uploadID}/app.{ext}", deps.buildHandler.DownloadByID)
	r.Get("/bundle/{bundleID}/app", deps.buildHandler.DownloadLatest)
	r.Get("/bundle/{bundleID}/{tag}/app", deps.buildHandler.DownloadTagged)

	// --- Приватные маршруты (требуют аутентификации) --- //
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.UploadRateLimit, rateLimitWindow))
		r.Use(appmiddleware.Authenticator(cfg.UploadSecret))

		r.Post("/upload", deps.buildHandler.Upload)
		// Устаревший маршрут, используйте /api/delete/{uploadID}
		r.Delete("/delete/{uploadID}", deps.buildHandler.Delete)

		r.Route("/api", func(r chi.Router) {
			r.Post("/upload", deps.buildHandler.APIUpload)
			r.Post("/link", deps.buildHandler.Link)
			r.Post("/token", deps.tokenHandler.Issue)
			r.Delete("/delete/{uploadID}", deps.buildHandler.Delete)
			r.Get("/bundle/{bundleID}/latest_upload", deps.buildHandler.LatestUpload)
			r.Get("/bundle/{bundleID}/{tag}", deps.buildHandler.TaggedUpload)
		})
	})
	return r
}
