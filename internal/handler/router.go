package handler

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/progpt/backend/internal/config"
	"github.com/zhouzirui/progpt/backend/internal/handler/chat"
	"github.com/zhouzirui/progpt/backend/internal/handler/image"
	"github.com/zhouzirui/progpt/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/progpt/backend/internal/middleware"
	aiService "github.com/zhouzirui/progpt/backend/internal/service/ai"
	chatService "github.com/zhouzirui/progpt/backend/internal/service/chat"
	imageService "github.com/zhouzirui/progpt/backend/internal/service/image"
	"github.com/zhouzirui/progpt/backend/pkg/utils"
)

// Services bundles what the routes depend on. AI and Images are nil when
// their provider is not configured.
type Services struct {
	Chat    *chatService.Service
	AI      *aiService.Service
	Images  *imageService.Generator
	Uploads *imageService.Uploads
}

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg *config.Config, svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Server.AllowedOrigins))

	// keep typed nils out of the handler interfaces
	var replier chat.Replier
	var chatAI stream.ChatAI
	var generator image.Generator
	if svc.AI != nil {
		replier = svc.AI
		chatAI = svc.AI
	}
	if svc.Images != nil {
		generator = svc.Images
	}

	chat.New(svc.Chat, replier).RegisterRoutes(r)
	image.New(generator, svc.Uploads, cfg.Upload.MaxBytes).RegisterRoutes(r)

	stream.New(chatAI, svc.Chat).RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(filesOnly{http.Dir(svc.Uploads.Dir())})))
	if info, err := os.Stat(cfg.Server.StaticDir); err == nil && info.IsDir() {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(filesOnly{http.Dir(cfg.Server.StaticDir)})))
	}

	return r
}

// filesOnly serves regular files and reports directories as missing, so no
// listing of the directory is ever produced.
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}
