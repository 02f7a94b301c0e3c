package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imageService "github.com/zhouzirui/progpt/backend/internal/service/image"
)

type stubGenerator struct {
	url     string
	err     error
	prompts []string
}

func (s *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.url, s.err
}

func setupRouter(t *testing.T, gen Generator, maxBytes int64) (*chi.Mux, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	r := chi.NewRouter()
	New(gen, imageService.NewUploads(dir), maxBytes).RegisterRoutes(r)
	return r, dir
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func postGenerate(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/image/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestGenerateRelaysURL(t *testing.T) {
	gen := &stubGenerator{url: "https://img.example/a.png"}
	r, _ := setupRouter(t, gen, 0)

	resp := postGenerate(r, `{"prompt":"  a red fox  "}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "https://img.example/a.png", decode(t, resp)["url"])
	assert.Equal(t, []string{"a red fox"}, gen.prompts)
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	gen := &stubGenerator{}
	r, _ := setupRouter(t, gen, 0)

	resp := postGenerate(r, `{"prompt":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, gen.prompts)
}

func TestGenerateWithoutImage(t *testing.T) {
	r, _ := setupRouter(t, &stubGenerator{err: imageService.ErrNoImage}, 0)

	resp := postGenerate(r, `{"prompt":"fox"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, imageService.ErrNoImage.Error(), decode(t, resp)["error"])
}

func TestGenerateUpstreamFailure(t *testing.T) {
	r, _ := setupRouter(t, &stubGenerator{err: errors.New("dial tcp: refused")}, 0)

	resp := postGenerate(r, `{"prompt":"fox"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "server error", decode(t, resp)["error"])
}

func TestGenerateWithoutProvider(t *testing.T) {
	r, _ := setupRouter(t, nil, 0)

	resp := postGenerate(r, `{"prompt":"fox"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/image/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadStoresFile(t *testing.T) {
	r, dir := setupRouter(t, nil, 1<<20)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, uploadRequest(t, "file", "cat.jpg", []byte("jpeg-bytes")))
	require.Equal(t, http.StatusOK, resp.Code)

	path := decode(t, resp)["filePath"]
	assert.Equal(t, filepath.ToSlash(dir), filepath.ToSlash(filepath.Dir(path)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestUploadWithoutFile(t *testing.T) {
	r, _ := setupRouter(t, nil, 1<<20)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, uploadRequest(t, "other", "cat.jpg", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUploadTooLarge(t *testing.T) {
	r, _ := setupRouter(t, nil, 512)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, uploadRequest(t, "file", "big.png", bytes.Repeat([]byte("a"), 4096)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
}
