package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/appdist/internal/client"
	"github.com/maynagashev/appdist/internal/models"
)

const testSecret = "ci-secret"

func writeBuild(w http.ResponseWriter, build models.Build) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(build)
}

func TestHTTPClient_Upload(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/upload", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, testSecret, req.Header.Get("X-Auth-Token"))
		assert.Empty(t, req.Header.Get("Authorization"))

		file, header, err := req.FormFile("app_file")
		if !assert.NoError(t, err) {
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "App.ipa", header.Filename)
		assert.Equal(t, "ipa-content", string(data))
		assert.Equal(t, "v1.2.3", req.FormValue("tag"))

		tag := "v1.2.3"
		writeBuild(w, models.Build{UploadID: "id-1", BundleID: "com.example", Platform: models.PlatformIOS, Tag: &tag})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := client.NewHTTPClient(server.URL, client.Credentials{Secret: testSecret}, nil)
	build, err := c.Upload(context.Background(), "/tmp/build/App.ipa", strings.NewReader("ipa-content"), "v1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "id-1", build.UploadID)
	assert.Equal(t, models.PlatformIOS, build.Platform)
	require.NotNil(t, build.Tag)
	assert.Equal(t, "v1.2.3", *build.Tag)
}

func TestHTTPClient_Upload_ReadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = io.Copy(io.Discard, req.Body)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer server.Close()

	c := client.NewHTTPClient(server.URL, client.Credentials{Secret: testSecret}, nil)
	_, err := c.Upload(context.Background(), "App.apk", iotestErrReader{}, "")
	require.Error(t, err)
}

type iotestErrReader struct{}

func (iotestErrReader) Read(_ []byte) (int, error) {
	return 0, errors.New("диск недоступен")
}

func TestHTTPClient_Link(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/link", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer jwt-token", req.Header.Get("Authorization"))
		assert.NoError(t, req.ParseForm())
		assert.Equal(t, "com.example", req.PostForm.Get("bundle_id"))
		assert.Equal(t, "Example", req.PostForm.Get("app_title"))
		assert.Equal(t, "2.0", req.PostForm.Get("bundle_version"))
		assert.Equal(t, "android", req.PostForm.Get("platform"))
		assert.Equal(t, "https://gitlab.example.com/app.apk", req.PostForm.Get("external_gitlab_url"))
		assert.False(t, req.PostForm.Has("tag"))

		url := req.PostForm.Get("external_gitlab_url")
		writeBuild(w, models.Build{UploadID: "id-2", Platform: models.PlatformAndroid, ExternalURL: &url})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := client.NewHTTPClient(server.URL, client.Credentials{Token: "jwt-token"}, nil)
	build, err := c.Link(context.Background(), client.LinkRequest{
		BundleID:      "com.example",
		AppTitle:      "Example",
		BundleVersion: "2.0",
		Platform:      models.PlatformAndroid,
		ExternalURL:   "https://gitlab.example.com/app.apk",
	})
	require.NoError(t, err)
	assert.Equal(t, "id-2", build.UploadID)
	assert.True(t, build.IsExternal())
}

func TestHTTPClient_Lookups(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/bundle/{bundleID}/latest_upload", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "bundleID") != "com.example" {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		writeBuild(w, models.Build{UploadID: "latest", BundleID: "com.example"})
	})
	r.Get("/api/bundle/{bundleID}/{tag}", func(w http.ResponseWriter, req *http.Request) {
		tag := chi.URLParam(req, "tag")
		writeBuild(w, models.Build{UploadID: "tagged", BundleID: chi.URLParam(req, "bundleID"), Tag: &tag})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	c := client.NewHTTPClient(server.URL, client.Credentials{Secret: testSecret}, nil)

	t.Run("Последняя загрузка", func(t *testing.T) {
		build, err := c.Latest(context.Background(), "com.example")
		require.NoError(t, err)
		assert.Equal(t, "latest", build.UploadID)
	})

	t.Run("Неизвестный бандл", func(t *testing.T) {
		_, err := c.Latest(context.Background(), "com.unknown")
		require.ErrorIs(t, err, client.ErrNotFound)
	})

	t.Run("Сборка по тегу", func(t *testing.T) {
		build, err := c.Tagged(context.Background(), "com.example", "v1.0.0")
		require.NoError(t, err)
		assert.Equal(t, "tagged", build.UploadID)
		require.NotNil(t, build.Tag)
		assert.Equal(t, "v1.0.0", *build.Tag)
	})
}

func TestHTTPClient_Delete(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		expectedErr error
		errContains string
	}{
		{name: "Успех", status: http.StatusOK},
		{name: "Не найдено", status: http.StatusNotFound, expectedErr: client.ErrNotFound},
		{name: "Ошибка авторизации", status: http.StatusUnauthorized, expectedErr: client.ErrAuthorization},
		{name: "Ошибка сервера", status: http.StatusInternalServerError, errContains: "статус 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Delete("/api/delete/{uploadID}", func(w http.ResponseWriter, req *http.Request) {
				assert.Equal(t, "id-1", chi.URLParam(req, "uploadID"))
				if tt.status != http.StatusOK {
					http.Error(w, http.StatusText(tt.status), tt.status)
					return
				}
				_, _ = w.Write([]byte("Upload deleted successfully"))
			})
			server := httptest.NewServer(r)
			defer server.Close()

			c := client.NewHTTPClient(server.URL, client.Credentials{Secret: testSecret}, nil)
			err := c.Delete(context.Background(), "id-1")
			switch {
			case tt.expectedErr != nil:
				require.ErrorIs(t, err, tt.expectedErr)
			case tt.errContains != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				var statusErr *client.StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, "Internal Server Error", statusErr.Message)
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestHTTPClient_IssueToken(t *testing.T) {
	t.Run("Успех", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, http.MethodPost, req.Method)
			assert.Equal(t, "/api/token", req.URL.Path)
			assert.Equal(t, testSecret, req.Header.Get("X-Auth-Token"))
			_, _ = w.Write([]byte(`{"token":"jwt","expires_at":"2030-01-01T00:00:00Z"}`))
		}))
		defer server.Close()

		c := client.NewHTTPClient(server.URL, client.Credentials{Secret: testSecret}, nil)
		token, err := c.IssueToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "jwt", token)
	})

	t.Run("Пустой токен", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := client.NewHTTPClient(server.URL, client.Credentials{Secret: testSecret}, nil)
		_, err := c.IssueToken(context.Background())
		require.Error(t, err)
	})

	t.Run("Некорректный JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer server.Close()

		c := client.NewHTTPClient(server.URL, client.Credentials{Secret: testSecret}, nil)
		_, err := c.IssueToken(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ошибка декодирования ответа сервера")
	})
}

func TestHTTPClient_ServerUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	c := client.NewHTTPClient(server.URL, client.Credentials{Secret: testSecret}, nil)
	_, err := c.Latest(context.Background(), "com.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ошибка выполнения запроса")
}
