package services_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/maynagashev/appdist/internal/models"
	"github.com/maynagashev/appdist/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformFromFileName(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		expected models.Platform
		wantErr  bool
	}{
		{name: "iOS пакет", fileName: "MyApp.ipa", expected: models.PlatformIOS},
		{name: "Android пакет", fileName: "build/release/app-release.apk", expected: models.PlatformAndroid},
		{name: "Архив zip", fileName: "MyApp.zip", wantErr: true},
		{name: "Без расширения", fileName: "ipa", wantErr: true},
		{name: "Расширение в верхнем регистре", fileName: "MyApp.IPA", wantErr: true},
		{name: "Пустое имя", fileName: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform, err := services.PlatformFromFileName(tt.fileName)
			if tt.wantErr {
				require.ErrorIs(t, err, services.ErrInvalidFileType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, platform)
		})
	}
}

func TestNewUploadID(t *testing.T) {
	first := services.NewUploadID()
	second := services.NewUploadID()

	_, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestContentChecksum(t *testing.T) {
	sum := services.ContentChecksum([]byte("payload"))

	assert.Len(t, sum, 64)
	assert.Equal(t, sum, services.ContentChecksum([]byte("payload")))
	assert.NotEqual(t, sum, services.ContentChecksum([]byte("payload2")))
}

func TestTokenService_IssueToken(t *testing.T) {
	svc := services.NewTokenService("upload-secret", time.Hour)

	signed, expiresAt, err := svc.IssueToken()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(_ *jwt.Token) (interface{}, error) {
		return []byte("upload-secret"), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, services.TokenIssuer, claims.Issuer)
	assert.Equal(t, "uploader", claims.Subject)

	t.Run("Чужой секрет", func(t *testing.T) {
		_, err = jwt.ParseWithClaims(signed, &jwt.RegisteredClaims{}, func(_ *jwt.Token) (interface{}, error) {
			return []byte("other-secret"), nil
		})
		require.ErrorIs(t, err, jwt.ErrSignatureInvalid)
	})
}
