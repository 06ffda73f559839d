package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/maynagashev/appdist/internal/middleware"
)

// TokenIssuer выпускает JWT для CI-задач.
type TokenIssuer interface {
	IssueToken() (string, time.Time, error)
}

// TokenResponse - ответ на запрос токена.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenHandler обрабатывает выдачу токенов загрузки.
type TokenHandler struct {
	issuer TokenIssuer
}

// NewTokenHandler создает новый экземпляр TokenHandler.
func NewTokenHandler(issuer TokenIssuer) *TokenHandler {
	return &TokenHandler{issuer: issuer}
}

// Issue обрабатывает POST /api/token. Токен выдается только запросам с секретом загрузки.
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	if subject, _ := middleware.GetSubjectFromContext(r.Context()); subject != middleware.SecretSubject {
		log.Printf("[TokenHandler] Отказ в выдаче токена субъекту '%s'", subject)
		http.Error(w, "Токен выдается только по секрету загрузки", http.StatusForbidden)
		return
	}

	token, expiresAt, err := h.issuer.IssueToken()
	if err != nil {
		log.Printf("[TokenHandler] Ошибка выпуска токена: %v", err)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err = json.NewEncoder(w).Encode(TokenResponse{Token: token, ExpiresAt: expiresAt}); err != nil {
		log.Printf("[TokenHandler] Ошибка кодирования ответа: %v", err)
	}
	log.Printf("[TokenHandler] Выпущен токен загрузки, действует до %s", expiresAt.Format(time.RFC3339))
}

// Healthz обрабатывает GET /healthz.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
