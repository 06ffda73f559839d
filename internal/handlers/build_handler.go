package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/maynagashev/appdist/internal/models"
	"github.com/maynagashev/appdist/internal/services"
)

// Поле формы с файлом сборки.
const appFileField = "app_file"

// Часть multipart-формы, которая держится в памяти; остальное уходит во временные файлы.
const multipartMemory = 32 << 20

var (
	bundleIDPattern = regexp.MustCompile(`^[a-zA-Z0-9.\-]{1,256}$`)
	tagPattern      = regexp.MustCompile(`^v\d+\.\d+\.\d+$`)
)

// BuildHandler обрабатывает HTTP-запросы загрузки, поиска и скачивания сборок.
type BuildHandler struct {
	buildService  services.BuildService
	baseURL       string
	maxUploadSize int64
}

// NewBuildHandler создает новый экземпляр BuildHandler.
// baseURL используется для абсолютных ссылок в ответах.
func NewBuildHandler(bs services.BuildService, baseURL string, maxUploadSize int64) *BuildHandler {
	return &BuildHandler{
		buildService:  bs,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		maxUploadSize: maxUploadSize,
	}
}

// Upload обрабатывает POST /upload и возвращает текстовую сводку со ссылками.
func (h *BuildHandler) Upload(w http.ResponseWriter, r *http.Request) {
	build, ok := h.handleUpload(w, r, "Upload")
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.uploadSummary(build)))
}

// APIUpload обрабатывает POST /api/upload и возвращает сборку в JSON.
func (h *BuildHandler) APIUpload(w http.ResponseWriter, r *http.Request) {
	build, ok := h.handleUpload(w, r, "APIUpload")
	if !ok {
		return
	}
	writeJSON(w, "APIUpload", build)
}

func (h *BuildHandler) handleUpload(w http.ResponseWriter, r *http.Request, op string) (*models.Build, bool) {
	if h.maxUploadSize > 0 {
		if r.ContentLength > h.maxUploadSize {
			log.Printf("[BuildHandler:%s] Превышен размер загрузки: %d байт", op, r.ContentLength)
			http.Error(w, "Файл слишком большой", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			log.Printf("[BuildHandler:%s] Превышен размер загрузки (%d байт)", op, maxErr.Limit)
			http.Error(w, "Файл слишком большой", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		log.Printf("[BuildHandler:%s] Ошибка разбора формы: %v", op, err)
		http.Error(w, "Ожидается multipart-форма с полем app_file", http.StatusBadRequest)
		return nil, false
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Printf("[BuildHandler:%s] Ошибка удаления временных файлов формы: %v", op, err)
		}
	}()

	file, header, err := r.FormFile(appFileField)
	if err != nil {
		log.Printf("[BuildHandler:%s] Поле %s отсутствует: %v", op, appFileField, err)
		http.Error(w, "Ожидается multipart-форма с полем app_file", http.StatusBadRequest)
		return nil, false
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Printf("[BuildHandler:%s] Ошибка закрытия файла формы: %v", op, closeErr)
		}
	}()

	content, err := io.ReadAll(file)
	if err != nil {
		log.Printf("[BuildHandler:%s] Ошибка чтения файла '%s': %v", op, header.Filename, err)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return nil, false
	}

	tag := optionalFormValue(r, "tag")
	log.Printf("[BuildHandler:%s] Загрузка файла '%s' (%d байт)", op, header.Filename, len(content))

	build, err := h.buildService.RegisterUpload(r.Context(), header.Filename, content, tag)
	if err != nil {
		writeServiceError(w, op, err)
		return nil, false
	}
	return build, true
}

// Link обрабатывает POST /api/link: регистрацию сборки, размещенной во внешнем хранилище.
func (h *BuildHandler) Link(w http.ResponseWriter, r *http.Request) {
	// Поля принимаются как из urlencoded, так и из multipart-формы
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		log.Printf("[BuildHandler:Link] Ошибка разбора формы: %v", err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	platform, ok := models.ParsePlatform(r.PostFormValue("platform"))
	if !ok {
		log.Printf("[BuildHandler:Link] Неизвестная платформа '%s'", r.PostFormValue("platform"))
		http.Error(w, "Платформа должна быть ios или android", http.StatusBadRequest)
		return
	}

	req := services.LinkRequest{
		Platform: platform,
		Metadata: models.Metadata{
			AppTitle:      r.PostFormValue("app_title"),
			BundleID:      r.PostFormValue("bundle_id"),
			BundleVersion: r.PostFormValue("bundle_version"),
		},
		ExternalURL: r.PostFormValue("external_gitlab_url"),
		Tag:         optionalFormValue(r, "tag"),
	}

	build, err := h.buildService.RegisterLink(r.Context(), req)
	if err != nil {
		writeServiceError(w, "Link", err)
		return
	}
	writeJSON(w, "Link", build)
}

// Delete обрабатывает DELETE /api/delete/{uploadID} и устаревший DELETE /delete/{uploadID}.
func (h *BuildHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	if err := h.buildService.Delete(r.Context(), uploadID); err != nil {
		writeServiceError(w, "Delete", err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Upload deleted successfully"))
}

// LatestUpload обрабатывает GET /api/bundle/{bundleID}/latest_upload.
func (h *BuildHandler) LatestUpload(w http.ResponseWriter, r *http.Request) {
	bundleID, ok := bundleIDParam(w, r)
	if !ok {
		return
	}

	build, err := h.buildService.ResolveLatest(r.Context(), bundleID)
	if err != nil {
		writeServiceError(w, "LatestUpload", err)
		return
	}
	writeJSON(w, "LatestUpload", build)
}

// TaggedUpload обрабатывает GET /api/bundle/{bundleID}/{tag}.
func (h *BuildHandler) TaggedUpload(w http.ResponseWriter, r *http.Request) {
	bundleID, ok := bundleIDParam(w, r)
	if !ok {
		return
	}
	tag, ok := tagParam(w, r)
	if !ok {
		return
	}

	build, err := h.buildService.ResolveTagged(r.Context(), bundleID, tag)
	if err != nil {
		writeServiceError(w, "TaggedUpload", err)
		return
	}
	writeJSON(w, "TaggedUpload", build)
}

// DownloadByID обрабатывает GET /get/{uploadID}/app.{ext}. Расширение должно
// соответствовать платформе сборки.
func (h *BuildHandler) DownloadByID(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	var platform models.Platform
	switch chi.URLParam(r, "ext") {
	case models.PlatformIOS.FileExtension():
		platform = models.PlatformIOS
	case models.PlatformAndroid.FileExtension():
		platform = models.PlatformAndroid
	default:
		http.Error(w, "Сборка не найдена", http.StatusNotFound)
		return
	}

	build, err := h.buildService.ResolveByID(r.Context(), uploadID, &platform)
	if err != nil {
		writeServiceError(w, "DownloadByID", err)
		return
	}
	h.serveBuild(w, r, "DownloadByID", build)
}

// DownloadLatest обрабатывает GET /bundle/{bundleID}/app.
func (h *BuildHandler) DownloadLatest(w http.ResponseWriter, r *http.Request) {
	bundleID, ok := bundleIDParam(w, r)
	if !ok {
		return
	}

	build, err := h.buildService.ResolveLatest(r.Context(), bundleID)
	if err != nil {
		writeServiceError(w, "DownloadLatest", err)
		return
	}
	h.serveBuild(w, r, "DownloadLatest", build)
}

// DownloadTagged обрабатывает GET /bundle/{bundleID}/{tag}/app.
func (h *BuildHandler) DownloadTagged(w http.ResponseWriter, r *http.Request) {
	bundleID, ok := bundleIDParam(w, r)
	if !ok {
		return
	}
	tag, ok := tagParam(w, r)
	if !ok {
		return
	}

	build, err := h.buildService.ResolveTagged(r.Context(), bundleID, tag)
	if err != nil {
		writeServiceError(w, "DownloadTagged", err)
		return
	}
	h.serveBuild(w, r, "DownloadTagged", build)
}

// serveBuild отдает содержимое сборки как вложение.
func (h *BuildHandler) serveBuild(w http.ResponseWriter, r *http.Request, op string, build *models.Build) {
	source, err := h.buildService.Fetch(r.Context(), build)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			log.Printf("[BuildHandler:%s] Ошибка закрытия источника сборки: %v", op, closeErr)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", services.DownloadFileName(build)))
	w.Header().Set("Content-Type", "application/octet-stream")
	if size := source.Size(); size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, source)
	if err != nil {
		// Заголовки уже отправлены, остается только оборвать ответ
		log.Printf("[BuildHandler:%s] Ошибка отправки сборки '%s' после %d байт: %v", op, build.UploadID, written, err)
		return
	}
	log.Printf("[BuildHandler:%s] Сборка '%s' отправлена (%d байт)", op, build.UploadID, written)
}

func (h *BuildHandler) uploadSummary(build *models.Build) string {
	tag := "none"
	if build.HasTag() {
		tag = *build.Tag
	}

	lines := []string{
		"Upload successful!",
		"Build tag: " + tag,
		"Direct download link: " + h.absoluteURL("/get/"+build.UploadID+"/"+build.Platform.AppFileName()),
		"Bundle download link: " + h.absoluteURL("/bundle/"+build.BundleID+"/app"),
	}
	if build.HasTag() {
		lines = append(lines, "Bundle download link - tag: "+h.absoluteURL("/bundle/"+build.BundleID+"/"+tag+"/app"))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (h *BuildHandler) absoluteURL(path string) string {
	return h.baseURL + path
}

func bundleIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	bundleID := chi.URLParam(r, "bundleID")
	if !bundleIDPattern.MatchString(bundleID) {
		log.Printf("[BuildHandler] Неверный идентификатор бандла '%s'", bundleID)
		http.Error(w, "Неверный идентификатор бандла", http.StatusUnprocessableEntity)
		return "", false
	}
	return bundleID, true
}

func tagParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	tag := chi.URLParam(r, "tag")
	if !tagPattern.MatchString(tag) {
		log.Printf("[BuildHandler] Неверный тег '%s'", tag)
		http.Error(w, "Тег должен иметь вид vX.Y.Z", http.StatusUnprocessableEntity)
		return "", false
	}
	return tag, true
}

func optionalFormValue(r *http.Request, key string) *string {
	value := r.FormValue(key)
	if value == "" {
		return nil
	}
	return &value
}

// writeServiceError сопоставляет ошибки сервиса с HTTP-статусами.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var upstreamErr *services.UpstreamError
	switch {
	case errors.Is(err, services.ErrNotFound):
		log.Printf("[BuildHandler:%s] Не найдено: %v", op, err)
		http.Error(w, "Сборка не найдена", http.StatusNotFound)
	case errors.Is(err, services.ErrInvalidFileType):
		log.Printf("[BuildHandler:%s] Неверный тип файла: %v", op, err)
		http.Error(w, "Неверный тип файла: ожидается .ipa или .apk", http.StatusBadRequest)
	case errors.Is(err, services.ErrInvalidRequest):
		log.Printf("[BuildHandler:%s] Неверный запрос: %v", op, err)
		http.Error(w, "Неверный запрос", http.StatusBadRequest)
	case errors.As(err, &upstreamErr):
		log.Printf("[BuildHandler:%s] Ошибка внешнего хоста: %v", op, err)
		http.Error(w, fmt.Sprintf("Не удалось загрузить артефакт с внешнего хоста: %d", upstreamErr.Status),
			http.StatusBadGateway)
	default:
		log.Printf("[BuildHandler:%s] Внутренняя ошибка: %v", op, err)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, op string, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[BuildHandler:%s] Ошибка кодирования ответа: %v", op, err)
	}
}
