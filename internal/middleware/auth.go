package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maynagashev/appdist/internal/services"
)

// Тип для ключа контекста.
type contextKey string

// Ключ для хранения субъекта аутентификации в контексте.
const SubjectKey contextKey = "subject"

// AuthTokenHeader - заголовок с секретом загрузки.
const AuthTokenHeader = "X-Auth-Token"

// SecretSubject - субъект запросов, аутентифицированных секретом загрузки.
const SecretSubject = "upload-secret"

// Authenticator проверяет секрет загрузки в X-Auth-Token или JWT в заголовке Authorization.
// JWT должен быть подписан HS256 тем же секретом и выпущен TokenService.
func Authenticator(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := r.Header.Get(AuthTokenHeader); token != "" {
				if subtle.ConstantTimeCompare([]byte(token), key) != 1 {
					log.Printf("[AuthMiddleware] Неверный %s с адреса %s", AuthTokenHeader, r.RemoteAddr)
					http.Error(w, "Неверный токен загрузки", http.StatusUnauthorized)
					return
				}
				ctx := context.WithValue(r.Context(), SubjectKey, SecretSubject)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// Получаем заголовок Authorization
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Println("[AuthMiddleware] Заголовки аутентификации отсутствуют")
				http.Error(w, "Требуется аутентификация", http.StatusUnauthorized)
				return
			}

			// Проверяем формат "Bearer token"
			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
				log.Println("[AuthMiddleware] Неверный формат заголовка Authorization")
				http.Error(w, "Неверный формат токена", http.StatusUnauthorized)
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(headerParts[1], claims, func(token *jwt.Token) (interface{}, error) {
				// Убеждаемся, что метод подписи - HS256
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
				}
				return key, nil
			}, jwt.WithIssuer(services.TokenIssuer), jwt.WithExpirationRequired())
			if err != nil {
				log.Printf("[AuthMiddleware] Ошибка парсинга/валидации токена: %v", err)
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}
			if !token.Valid {
				log.Println("[AuthMiddleware] Предоставлен невалидный токен (возможно, истек)")
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, claims.Subject)
			log.Printf("[AuthMiddleware] Субъект '%s' аутентифицирован по JWT", claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSubjectFromContext извлекает субъект аутентификации из контекста запроса.
func GetSubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectKey).(string)
	return subject, ok
}
