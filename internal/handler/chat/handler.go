package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/progpt/backend/internal/model/chat"
	chatService "github.com/zhouzirui/progpt/backend/internal/service/chat"
	"github.com/zhouzirui/progpt/backend/internal/view"
	"github.com/zhouzirui/progpt/backend/pkg/utils"
)

// Replier produces the assistant's answer for a whole thread.
type Replier interface {
	Reply(ctx context.Context, messages []chat.Message) (string, error)
}

// Handler serves the chat pages and endpoints.
type Handler struct {
	chatSvc *chatService.Service
	replier Replier
}

// New creates a chat handler. replier may be nil when no provider is configured.
func New(chatSvc *chatService.Service, replier Replier) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		replier: replier,
	}
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/chats", h.handleListChats)
	r.Post("/new-chat", h.handleNewChat)
	r.Post("/chat", h.handleChat)
	r.Get("/chat/{id}", h.handleSelectChat)
}

// handleIndex renders the chat list and the active thread.
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	overview, err := h.chatSvc.Overview(w, r)
	if err != nil {
		slog.Error("failed to load chats", "component", "chat", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if err := view.Render(w, http.StatusOK, "index.html", overview); err != nil {
		slog.Error("failed to render index", "component", "chat", "error", err)
	}
}

// handleListChats returns the same data as the index page as JSON.
func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	overview, err := h.chatSvc.Overview(w, r)
	if err != nil {
		slog.Error("failed to load chats", "component", "chat", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "server error")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"chats":      overview.Chats,
		"activeChat": overview.Active.ID,
	})
}

// handleNewChat creates a thread and makes it active.
func (h *Handler) handleNewChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title" schema:"title"`
	}
	if err := utils.DecodeRequest(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.chatSvc.CreateThread(w, r, payload.Title); err != nil {
		slog.Error("failed to create chat", "component", "chat", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// handleChat appends the user's message, forwards the thread and relays the reply.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message" schema:"message"`
	}
	if err := utils.DecodeRequest(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message := strings.TrimSpace(payload.Message)
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	if h.replier == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chat unavailable")
		return
	}

	history, err := h.chatSvc.Load(r)
	if err != nil {
		slog.Error("failed to load chats", "component", "chat", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "server error")
		return
	}

	thread := h.chatSvc.Active(history)
	thread.Append(chat.RoleUser, message)

	reply, err := h.replier.Reply(r.Context(), thread.Snapshot())
	if err != nil {
		slog.Error("chat completion failed", "component", "chat", "thread", thread.ID, "error", err)
		// the user's turn is kept even though no reply arrived
		if saveErr := h.chatSvc.Save(w, r, history); saveErr != nil {
			slog.Error("failed to save chats", "component", "chat", "error", saveErr)
		}
		utils.RespondError(w, http.StatusInternalServerError, "server error")
		return
	}

	thread.Append(chat.RoleAssistant, reply)
	if err := h.chatSvc.Save(w, r, history); err != nil {
		slog.Error("failed to save chats", "component", "chat", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "server error")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// handleSelectChat switches the active thread; unknown ids are ignored.
func (h *Handler) handleSelectChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.chatSvc.SelectThread(w, r, id)
	if err != nil && !errors.Is(err, chatService.ErrThreadNotFound) {
		slog.Error("failed to select chat", "component", "chat", "thread", id, "error", err)
	}

	http.Redirect(w, r, "/", http.StatusFound)
}
