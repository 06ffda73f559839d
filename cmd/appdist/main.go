// Команда appdist - клиент для загрузки и поиска сборок из CI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/maynagashev/appdist/internal/client"
	"github.com/maynagashev/appdist/internal/models"
)

// Переменные для версии и даты сборки, устанавливаются через ldflags.
//
//nolint:gochecknoglobals // Устанавливается через ldflags при сборке
var (
	version   = "dev"
	buildDate = "unknown"
)

// cliConfig - параметры подключения к серверу.
type cliConfig struct {
	ServerURL string `env:"APPDIST_SERVER_URL" envDefault:"http://localhost:8080"`
	Secret    string `env:"UPLOAD_SECRET_AUTH_TOKEN"`
	Token     string `env:"APPDIST_TOKEN"`
}

// Конструктор клиента, подменяется в тестах.
//
//nolint:gochecknoglobals // Точка подмены для тестов
var newClient = func(cfg cliConfig) client.Client {
	return client.NewHTTPClient(cfg.ServerURL, client.Credentials{Secret: cfg.Secret, Token: cfg.Token}, nil)
}

const usage = `Использование: appdist [флаги] <команда> [аргументы]

Команды:
  upload <файл.ipa|файл.apk> [-tag v1.2.3]
  link -bundle-id ID -title NAME -version VER -platform ios|android -url URL [-tag v1.2.3]
  delete <upload_id>
  latest <bundle_id>
  tagged <bundle_id> <tag>
  token
  version
`

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ошибка загрузки .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Printf("Ошибка: %v", err)
		stop()
		os.Exit(1)
	}
}

// run разбирает аргументы, выполняет команду и печатает результат в out.
func run(ctx context.Context, args []string, out io.Writer) error {
	cfg := cliConfig{}
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("ошибка разбора переменных окружения: %w", err)
	}

	fs := flag.NewFlagSet("appdist", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "Адрес сервера (env: APPDIST_SERVER_URL)")
	fs.StringVar(&cfg.Secret, "secret", cfg.Secret, "Секрет загрузки (env: UPLOAD_SECRET_AUTH_TOKEN)")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "JWT вместо секрета (env: APPDIST_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\n%s", err, usage)
	}
	if fs.NArg() == 0 {
		return errors.New(usage)
	}

	command, rest := fs.Arg(0), fs.Args()[1:]
	if command == "version" {
		_, err := fmt.Fprintf(out, "appdist %s (%s)\n", version, buildDate)
		return err
	}
	if cfg.Secret == "" && cfg.Token == "" {
		return errors.New("не задан секрет загрузки или JWT (--secret, --token)")
	}
	c := newClient(cfg)

	switch command {
	case "upload":
		return runUpload(ctx, c, rest, out)
	case "link":
		return runLink(ctx, c, rest, out)
	case "delete":
		if len(rest) != 1 {
			return errors.New("delete: ожидается upload_id")
		}
		if err := c.Delete(ctx, rest[0]); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, "Сборка удалена:", rest[0])
		return err
	case "latest":
		if len(rest) != 1 {
			return errors.New("latest: ожидается bundle_id")
		}
		return printBuild(out)(c.Latest(ctx, rest[0]))
	case "tagged":
		if len(rest) != 2 { //nolint:mnd // bundle_id и тег
			return errors.New("tagged: ожидаются bundle_id и тег")
		}
		return printBuild(out)(c.Tagged(ctx, rest[0], rest[1]))
	case "token":
		token, err := c.IssueToken(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, token)
		return err
	default:
		return fmt.Errorf("неизвестная команда '%s'\n%s", command, usage)
	}
}

func runUpload(ctx context.Context, c client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	tag := fs.String("tag", "", "Тег сборки (vX.Y.Z)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("upload: ожидается путь к файлу .ipa или .apk")
	}

	path := fs.Arg(0)
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ошибка открытия файла сборки: %w", err)
	}
	defer file.Close()

	log.Printf("[CLI] Загрузка %s", path)
	return printBuild(out)(c.Upload(ctx, path, file, *tag))
}

func runLink(ctx context.Context, c client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("link", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		req      client.LinkRequest
		platform string
	)
	fs.StringVar(&req.BundleID, "bundle-id", "", "Идентификатор приложения")
	fs.StringVar(&req.AppTitle, "title", "", "Название приложения")
	fs.StringVar(&req.BundleVersion, "version", "", "Версия приложения")
	fs.StringVar(&platform, "platform", "", "Платформа: ios или android")
	fs.StringVar(&req.ExternalURL, "url", "", "Ссылка на артефакт GitLab")
	fs.StringVar(&req.Tag, "tag", "", "Тег сборки (vX.Y.Z)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, ok := models.ParsePlatform(platform)
	if !ok {
		return fmt.Errorf("link: неизвестная платформа '%s'", platform)
	}
	req.Platform = p
	if req.BundleID == "" || req.ExternalURL == "" {
		return errors.New("link: обязательны -bundle-id и -url")
	}

	return printBuild(out)(c.Link(ctx, req))
}

// printBuild печатает сборку как JSON с отступами.
func printBuild(out io.Writer) func(*models.Build, error) error {
	return func(build *models.Build, err error) error {
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(build)
	}
}
