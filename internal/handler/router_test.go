package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/progpt/backend/internal/config"
	"github.com/zhouzirui/progpt/backend/internal/service/ai"
	"github.com/zhouzirui/progpt/backend/internal/service/ai/aitest"
	chatService "github.com/zhouzirui/progpt/backend/internal/service/chat"
	imageService "github.com/zhouzirui/progpt/backend/internal/service/image"
	"github.com/zhouzirui/progpt/backend/internal/session"
)

func newTestRouter(t *testing.T, withAI bool) (http.Handler, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Server: config.ServerConfig{StaticDir: filepath.Join(dir, "public"), AllowedOrigins: []string{"*"}},
		Session: config.SessionConfig{
			Backend:    config.SessionBackendFile,
			Secret:     "test-secret",
			Dir:        filepath.Join(dir, "sessions"),
			CookieName: "progpt.sid",
			MaxAge:     time.Hour,
		},
		Upload: config.UploadConfig{Dir: filepath.Join(dir, "uploads"), MaxBytes: 1 << 20},
	}
	require.NoError(t, os.MkdirAll(cfg.Server.StaticDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Server.StaticDir, "style.css"), []byte("body{}"), 0644))
	require.NoError(t, os.MkdirAll(cfg.Upload.Dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Upload.Dir, "a.txt"), []byte("uploaded"), 0644))

	store, closer, err := session.New(cfg.Session)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer.Close() })

	svc := Services{
		Chat:    chatService.NewService(store),
		Uploads: imageService.NewUploads(cfg.Upload.Dir),
	}
	if withAI {
		svc.AI, err = ai.NewServiceWithModel(context.Background(), &aitest.Model{Reply: "hi"}, cfg.AI)
		require.NoError(t, err)
	}

	return NewRouter(cfg, svc), cfg
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
	return resp
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t, false)

	resp := get(r, "/healthz")
	require.Equal(t, http.StatusOK, resp.Code)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "ok", payload["status"])
}

func TestServesStaticAndUploads(t *testing.T) {
	r, _ := newTestRouter(t, false)

	assert.Equal(t, "body{}", get(r, "/static/style.css").Body.String())
	assert.Equal(t, "uploaded", get(r, "/uploads/a.txt").Body.String())
}

func TestUploadsDirectoryIsNotListed(t *testing.T) {
	r, _ := newTestRouter(t, false)

	for _, path := range []string{"/uploads/", "/static/"} {
		resp := get(r, path)
		assert.Equal(t, http.StatusNotFound, resp.Code, path)
		assert.NotContains(t, resp.Body.String(), "a.txt", path)
	}
}

func TestIndexRendersHTML(t *testing.T) {
	r, _ := newTestRouter(t, false)

	resp := get(r, "/")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "New chat")
}

func TestChatRoutesWithoutAI(t *testing.T) {
	r, _ := newTestRouter(t, false)

	for _, path := range []string{"/chat", "/chat/stream", "/image/generate"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"message":"hi","prompt":"fox"}`))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code, path)
	}
}

func TestEmptyMessageRejectedWithoutAI(t *testing.T) {
	r, _ := newTestRouter(t, false)

	for _, path := range []string{"/chat", "/chat/stream"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"message":"   "}`))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusBadRequest, resp.Code, path)
	}
}

func TestWebsocketUnavailableWithoutAI(t *testing.T) {
	r, _ := newTestRouter(t, false)

	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/chat/ws").Code)
}

func TestChatRouteWithAI(t *testing.T) {
	r, _ := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"reply":"hi"}`, resp.Body.String())
}
