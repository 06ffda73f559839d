// Package client - HTTP-клиент API сервера раздачи сборок для CI-задач.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/maynagashev/appdist/internal/models"
)

var (
	// ErrAuthorization сигнализирует об ошибке авторизации (401).
	ErrAuthorization = errors.New("ошибка авторизации")
	// ErrNotFound - сервер не нашел сборку, бандл или тег (404).
	ErrNotFound = errors.New("сборка не найдена на сервере")
)

// StatusError - неожиданный ответ сервера.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("сервер вернул статус %d: %s", e.Status, e.Message)
}

// Client определяет интерфейс для взаимодействия с API сервера.
type Client interface {
	// Upload загружает файл .ipa/.apk, tag может быть пустым.
	Upload(ctx context.Context, fileName string, data io.Reader, tag string) (*models.Build, error)
	// Link регистрирует сборку, размещенную во внешнем хранилище.
	Link(ctx context.Context, req LinkRequest) (*models.Build, error)
	// Delete удаляет сборку по upload_id.
	Delete(ctx context.Context, uploadID string) error
	// Latest возвращает последнюю загрузку бандла.
	Latest(ctx context.Context, bundleID string) (*models.Build, error)
	// Tagged возвращает сборку бандла по тегу.
	Tagged(ctx context.Context, bundleID, tag string) (*models.Build, error)
	// IssueToken запрашивает короткоживущий JWT (только с секретом загрузки).
	IssueToken(ctx context.Context) (string, error)
}

// LinkRequest - поля формы регистрации внешней сборки.
type LinkRequest struct {
	BundleID      string
	AppTitle      string
	BundleVersion string
	Platform      models.Platform
	ExternalURL   string
	Tag           string
}

// Credentials задает способ аутентификации: секрет загрузки или JWT.
type Credentials struct {
	Secret string
	Token  string
}

// httpClient реализует интерфейс Client по HTTP.
type httpClient struct {
	baseURL     string
	httpClient  *http.Client
	credentials Credentials
}

// NewHTTPClient создает новый экземпляр API клиента.
func NewHTTPClient(baseURL string, creds Credentials, hc *http.Client) Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &httpClient{baseURL: baseURL, httpClient: hc, credentials: creds}
}

// Upload передает файл потоком через multipart без буферизации в памяти.
func (c *httpClient) Upload(ctx context.Context, fileName string, data io.Reader, tag string) (*models.Build, error) {
	uploadURL, err := url.JoinPath(c.baseURL, "/api/upload")
	if err != nil {
		return nil, fmt.Errorf("ошибка формирования URL для загрузки: %w", err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(writer, filepath.Base(fileName), data, tag))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, fmt.Errorf("ошибка создания запроса на загрузку: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var build models.Build
	if err = c.do(req, &build); err != nil {
		_ = pr.CloseWithError(err)
		return nil, err
	}
	return &build, nil
}

func writeUploadForm(writer *multipart.Writer, fileName string, data io.Reader, tag string) error {
	if tag != "" {
		if err := writer.WriteField("tag", tag); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("app_file", fileName)
	if err != nil {
		return err
	}
	if _, err = io.Copy(part, data); err != nil {
		return fmt.Errorf("ошибка чтения файла сборки: %w", err)
	}
	return writer.Close()
}

// Link отправляет форму регистрации внешней сборки.
func (c *httpClient) Link(ctx context.Context, lr LinkRequest) (*models.Build, error) {
	linkURL, err := url.JoinPath(c.baseURL, "/api/link")
	if err != nil {
		return nil, fmt.Errorf("ошибка формирования URL для регистрации ссылки: %w", err)
	}

	form := url.Values{
		"bundle_id":           {lr.BundleID},
		"app_title":           {lr.AppTitle},
		"bundle_version":      {lr.BundleVersion},
		"platform":            {string(lr.Platform)},
		"external_gitlab_url": {lr.ExternalURL},
	}
	if lr.Tag != "" {
		form.Set("tag", lr.Tag)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, linkURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса на регистрацию ссылки: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var build models.Build
	if err = c.do(req, &build); err != nil {
		return nil, err
	}
	return &build, nil
}

// Delete удаляет сборку.
func (c *httpClient) Delete(ctx context.Context, uploadID string) error {
	deleteURL, err := url.JoinPath(c.baseURL, "/api/delete", uploadID)
	if err != nil {
		return fmt.Errorf("ошибка формирования URL для удаления: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса на удаление: %w", err)
	}
	return c.do(req, nil)
}

// Latest получает последнюю загрузку бандла.
func (c *httpClient) Latest(ctx context.Context, bundleID string) (*models.Build, error) {
	return c.getBuild(ctx, "/api/bundle", bundleID, "latest_upload")
}

// Tagged получает сборку бандла по тегу.
func (c *httpClient) Tagged(ctx context.Context, bundleID, tag string) (*models.Build, error) {
	return c.getBuild(ctx, "/api/bundle", bundleID, tag)
}

func (c *httpClient) getBuild(ctx context.Context, elems ...string) (*models.Build, error) {
	buildURL, err := url.JoinPath(c.baseURL, elems...)
	if err != nil {
		return nil, fmt.Errorf("ошибка формирования URL сборки: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, buildURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса сборки: %w", err)
	}

	var build models.Build
	if err = c.do(req, &build); err != nil {
		return nil, err
	}
	return &build, nil
}

// IssueToken запрашивает JWT для последующих запросов.
func (c *httpClient) IssueToken(ctx context.Context) (string, error) {
	tokenURL, err := url.JoinPath(c.baseURL, "/api/token")
	if err != nil {
		return "", fmt.Errorf("ошибка формирования URL для токена: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("ошибка создания запроса токена: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err = c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("сервер вернул пустой токен")
	}
	return resp.Token, nil
}

// do добавляет аутентификацию, выполняет запрос и декодирует JSON-ответ в out (если out не nil).
func (c *httpClient) do(req *http.Request, out any) error {
	switch {
	case c.credentials.Secret != "":
		req.Header.Set("X-Auth-Token", c.credentials.Secret)
	case c.credentials.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.credentials.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка выполнения запроса %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrAuthorization
	case http.StatusNotFound:
		return ErrNotFound
	default:
		// Тело ошибки - короткий текст от http.Error
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ошибка декодирования ответа сервера: %w", err)
	}
	return nil
}
