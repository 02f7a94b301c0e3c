package image

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	imageService "github.com/zhouzirui/progpt/backend/internal/service/image"
	"github.com/zhouzirui/progpt/backend/pkg/utils"
)

// Generator turns a prompt into an image URL.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Uploader stores an uploaded file and returns its path.
type Uploader interface {
	Save(src io.Reader, filename string) (string, error)
}

// Handler serves image generation and uploads.
type Handler struct {
	generator Generator
	uploads   Uploader
	maxBytes  int64
}

// New creates an image handler. generator may be nil when no provider is configured.
func New(generator Generator, uploads Uploader, maxBytes int64) *Handler {
	return &Handler{
		generator: generator,
		uploads:   uploads,
		maxBytes:  maxBytes,
	}
}

// RegisterRoutes mounts the /image routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/image", func(imageRouter chi.Router) {
		imageRouter.Post("/generate", h.handleGenerate)
		imageRouter.Post("/upload", h.handleUpload)
	})
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Prompt string `json:"prompt" schema:"prompt"`
	}
	if err := utils.DecodeRequest(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prompt := strings.TrimSpace(payload.Prompt)
	if prompt == "" {
		utils.RespondError(w, http.StatusBadRequest, "prompt must not be empty")
		return
	}

	if h.generator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "image generation unavailable")
		return
	}

	url, err := h.generator.Generate(r.Context(), prompt)
	if errors.Is(err, imageService.ErrNoImage) {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil {
		slog.Error("image generation failed", "component", "image", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "server error")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		if r.ContentLength > h.maxBytes {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	path, err := h.uploads.Save(file, header.Filename)
	if err != nil {
		slog.Error("failed to store upload", "component", "image", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "server error")
		return
	}

	slog.Info("stored upload", "component", "image", "path", path, "size", header.Size)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"filePath": path})
}
