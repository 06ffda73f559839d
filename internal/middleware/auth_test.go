package middleware_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maynagashev/appdist/internal/middleware"
	"github.com/maynagashev/appdist/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uploadSecret = "test-upload-secret"

func TestGetSubjectFromContext(t *testing.T) {
	tests := []struct {
		name            string
		ctx             context.Context
		expectedSubject string
		expectedOK      bool
	}{
		{
			name:            "Контекст с субъектом",
			ctx:             context.WithValue(context.Background(), middleware.SubjectKey, "uploader"),
			expectedSubject: "uploader",
			expectedOK:      true,
		},
		{
			name:       "Пустой контекст",
			ctx:        context.Background(),
			expectedOK: false,
		},
		{
			name:       "Субъект неверного типа",
			ctx:        context.WithValue(context.Background(), middleware.SubjectKey, 42),
			expectedOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, ok := middleware.GetSubjectFromContext(tt.ctx)
			assert.Equal(t, tt.expectedSubject, subject)
			assert.Equal(t, tt.expectedOK, ok)
		})
	}
}

// Вспомогательная функция для генерации JWT токена.
func generateTestToken(t *testing.T, secretKey, issuer string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "uploader",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secretKey))
	require.NoError(t, err, "Ошибка генерации тестового токена")
	return token
}

func TestAuthenticator(t *testing.T) {
	// Обработчик, который будет вызван после middleware
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := middleware.GetSubjectFromContext(r.Context())
		assert.True(t, ok, "Субъект должен быть в контексте")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK for " + subject))
	})

	server := httptest.NewServer(middleware.Authenticator(uploadSecret)(nextHandler))
	defer server.Close()

	validToken := generateTestToken(t, uploadSecret, services.TokenIssuer, time.Now().Add(time.Hour))

	tests := []struct {
		name           string
		headers        map[string]string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Секрет загрузки",
			headers:        map[string]string{"X-Auth-Token": uploadSecret},
			expectedStatus: http.StatusOK,
			expectedBody:   "OK for " + middleware.SecretSubject,
		},
		{
			name:           "Неверный секрет загрузки",
			headers:        map[string]string{"X-Auth-Token": "wrong"},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Неверный токен загрузки",
		},
		{
			name: "Неверный секрет не компенсируется JWT",
			headers: map[string]string{
				"X-Auth-Token":  "wrong",
				"Authorization": "Bearer " + validToken,
			},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Неверный токен загрузки",
		},
		{
			name:           "Валидный JWT",
			headers:        map[string]string{"Authorization": "Bearer " + validToken},
			expectedStatus: http.StatusOK,
			expectedBody:   "OK for uploader",
		},
		{
			name:           "Токен, выпущенный TokenService",
			headers:        map[string]string{"Authorization": "Bearer " + issueServiceToken(t)},
			expectedStatus: http.StatusOK,
			expectedBody:   "OK for uploader",
		},
		{
			name:           "Нет заголовков",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Требуется аутентификация",
		},
		{
			name:           "Неверный формат заголовка (нет Bearer)",
			headers:        map[string]string{"Authorization": validToken},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Неверный формат токена",
		},
		{
			name: "Неверный секрет подписи",
			headers: map[string]string{
				"Authorization": "Bearer " + generateTestToken(t, "other", services.TokenIssuer, time.Now().Add(time.Hour)),
			},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Невалидный токен",
		},
		{
			name: "Чужой издатель",
			headers: map[string]string{
				"Authorization": "Bearer " + generateTestToken(t, uploadSecret, "someone-else", time.Now().Add(time.Hour)),
			},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Невалидный токен",
		},
		{
			name: "Истекший токен",
			headers: map[string]string{
				"Authorization": "Bearer " + generateTestToken(t, uploadSecret, services.TokenIssuer, time.Now().Add(-time.Hour)),
			},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Невалидный токен",
		},
		{
			name:           "Невалидный токен (мусор)",
			headers:        map[string]string{"Authorization": "Bearer garbage"},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Невалидный токен",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, server.URL, nil)
			require.NoError(t, err)
			for key, value := range tt.headers {
				req.Header.Set(key, value)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			bodyBytes, _ := io.ReadAll(resp.Body)
			assert.Contains(t, string(bodyBytes), tt.expectedBody)
		})
	}
}

func issueServiceToken(t *testing.T) string {
	t.Helper()
	token, _, err := services.NewTokenService(uploadSecret, time.Hour).IssueToken()
	require.NoError(t, err)
	return token
}
