package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/maynagashev/appdist/internal/models"
)

// PrivateTokenHeader - заголовок с токеном доступа к внешнему хосту артефактов (GitLab).
const PrivateTokenHeader = "PRIVATE-TOKEN"

const (
	fileNameTimeLayout = "2006-01-02_15-04-05"

	upstreamDialTimeout  = 30 * time.Second
	maxUpstreamRedirects = 10
)

// ByteSource - содержимое сборки для отдачи клиенту.
// Реализации: blobSource (в памяти) и streamSource (проксирование, читается один раз).
type ByteSource interface {
	io.ReadCloser
	// Size возвращает размер в байтах или -1, если он неизвестен.
	Size() int64
}

// blobSource использует Size() встроенного bytes.Reader.
type blobSource struct {
	*bytes.Reader
}

func newBlobSource(content []byte) *blobSource {
	return &blobSource{Reader: bytes.NewReader(content)}
}

func (b *blobSource) Close() error { return nil }

type streamSource struct {
	io.ReadCloser
	size int64
}

func (s *streamSource) Size() int64 { return s.size }

// ArtifactFetcher отдает содержимое сборки из локального хранилища
// или проксирует его с внешнего хоста.
type ArtifactFetcher struct {
	records *RecordStore
	client  *http.Client
	token   string
}

// NewUpstreamClient создает HTTP-клиент для внешнего хоста артефактов.
// headerTimeout ограничивает ожидание заголовков ответа, но не чтение тела:
// длительность передачи ограничена только контекстом запроса.
func NewUpstreamClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // DefaultTransport всегда *http.Transport
	transport.DialContext = (&net.Dialer{Timeout: upstreamDialTimeout, KeepAlive: upstreamDialTimeout}).DialContext
	transport.TLSHandshakeTimeout = upstreamDialTimeout
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// NewArtifactFetcher создает загрузчик артефактов. token передается во внешний хост
// в заголовке PRIVATE-TOKEN; пустой токен не отправляется. Клиент копируется:
// при редиректе на другой хост токен из запроса удаляется.
func NewArtifactFetcher(records *RecordStore, client *http.Client, token string) *ArtifactFetcher {
	var c http.Client
	if client != nil {
		c = *client
	}
	c.CheckRedirect = dropTokenOnHostChange(c.CheckRedirect)
	return &ArtifactFetcher{records: records, client: &c, token: token}
}

// dropTokenOnHostChange убирает PRIVATE-TOKEN из запросов к хосту, отличному от исходного.
// next - исходная политика клиента; nil означает политику http.Client по умолчанию.
func dropTokenOnHostChange(next func(*http.Request, []*http.Request) error) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > 0 && req.URL.Host != via[0].URL.Host {
			req.Header.Del(PrivateTokenHeader)
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= maxUpstreamRedirects {
			return fmt.Errorf("превышено число редиректов (%d)", maxUpstreamRedirects)
		}
		return nil
	}
}

// Fetch возвращает содержимое сборки. Вызывающая сторона обязана закрыть ByteSource.
func (f *ArtifactFetcher) Fetch(ctx context.Context, build *models.Build) (ByteSource, error) {
	if build.IsExternal() {
		return f.fetchExternal(ctx, build)
	}

	content, err := f.records.readContent(ctx, build)
	if err != nil {
		return nil, err
	}
	return newBlobSource(content), nil
}

// fetchExternal выполняет GET к внешнему URL (редиректы http.Client выполняет сам).
// Запрос привязан к ctx: при отключении клиента загрузка прерывается.
func (f *ArtifactFetcher) fetchExternal(ctx context.Context, build *models.Build) (ByteSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *build.ExternalURL, nil)
	if err != nil {
		return nil, &UpstreamError{Status: http.StatusBadGateway, Err: fmt.Errorf("неверный URL артефакта: %w", err)}
	}
	if f.token != "" {
		req.Header.Set(PrivateTokenHeader, f.token)
	}

	log.Printf("[Fetcher] Проксирование сборки '%s' с %s", build.UploadID, req.URL.Redacted())
	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("загрузка артефакта прервана: %w", ctxErr)
		}
		log.Printf("[Fetcher] Ошибка запроса к внешнему хосту для '%s': %v", build.UploadID, err)
		return nil, &UpstreamError{Status: http.StatusBadGateway, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Тело ответа с ошибкой клиенту не отдаем
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("[Fetcher] Ошибка закрытия тела ответа: %v", closeErr)
		}
		log.Printf("[Fetcher] Внешний хост вернул статус %d для сборки '%s'", resp.StatusCode, build.UploadID)
		return nil, &UpstreamError{Status: resp.StatusCode}
	}

	return &streamSource{ReadCloser: resp.Body, size: resp.ContentLength}, nil
}

// DownloadFileName формирует имя файла для Content-Disposition:
// "<app_title> <bundle_version> <YYYY-MM-DD_HH-MM-SS>.<ipa|apk>".
func DownloadFileName(build *models.Build) string {
	name := build.AppTitle + " " + build.BundleVersion
	if !build.CreatedAt.IsZero() {
		name += " " + build.CreatedAt.Format(fileNameTimeLayout)
	}
	return name + "." + build.Platform.FileExtension()
}
