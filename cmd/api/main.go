package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/zhouzirui/progpt/backend/internal/config"
	"github.com/zhouzirui/progpt/backend/internal/handler"
	"github.com/zhouzirui/progpt/backend/internal/service/ai"
	"github.com/zhouzirui/progpt/backend/internal/service/chat"
	"github.com/zhouzirui/progpt/backend/internal/service/image"
	"github.com/zhouzirui/progpt/backend/internal/session"
	"github.com/zhouzirui/progpt/backend/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, logCloser, err := telemetry.InitLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logCloser.Close()

	// Initialize session store and chat service
	store, storeCloser, err := session.New(cfg.Session)
	if err != nil {
		logger.Error("failed to initialize session store", "backend", cfg.Session.Backend, "error", err)
		os.Exit(1)
	}
	defer storeCloser.Close()
	chatService := chat.NewService(store)

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			logger.Warn("failed to initialize AI service, continuing without chat", "provider", cfg.AI.Provider, "error", err)
			aiService = nil
		} else {
			logger.Info("AI service initialized", "provider", cfg.AI.Provider, "model", cfg.AI.Model, "stream", cfg.AI.Stream)
		}
	} else {
		logger.Warn("AI credentials not configured, chat disabled", "provider", cfg.AI.Provider)
	}

	var generator *image.Generator
	if cfg.Image.APIKey != "" {
		generator = image.NewGenerator(cfg.Image)
	} else {
		logger.Warn("image API key not configured, image generation disabled")
	}

	if err := os.MkdirAll(cfg.Upload.Dir, 0o755); err != nil {
		logger.Error("failed to create upload directory", "dir", cfg.Upload.Dir, "error", err)
		os.Exit(1)
	}

	router := handler.NewRouter(cfg, handler.Services{
		Chat:    chatService,
		AI:      aiService,
		Images:  generator,
		Uploads: image.NewUploads(cfg.Upload.Dir),
	})

	if err := startServer(ctx, cfg.Server, router); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("ProGPT backend listening", "addr", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
