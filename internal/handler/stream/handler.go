package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/progpt/backend/internal/model/chat"
	"github.com/zhouzirui/progpt/backend/internal/service/ai"
	chatService "github.com/zhouzirui/progpt/backend/internal/service/chat"
	"github.com/zhouzirui/progpt/backend/pkg/utils"
)

// ChatAI is the part of the AI service the streaming transports need.
type ChatAI interface {
	StreamingEnabled() bool
	Reply(ctx context.Context, messages []chat.Message) (string, error)
	Stream(ctx context.Context, messages []chat.Message) (*schema.StreamReader[*schema.Message], error)
}

// Handler manages streaming AI responses via Server-Sent Events and websockets.
type Handler struct {
	aiService ChatAI
	chatSvc   *chatService.Service
	ws        *websocketTransport
}

// New creates a new stream handler. aiSvc may be nil when no provider is configured.
func New(aiSvc ChatAI, chatSvc *chatService.Service) *Handler {
	h := &Handler{
		aiService: aiSvc,
		chatSvc:   chatSvc,
	}
	h.ws = newWebsocketTransport(h)
	return h
}

// RegisterRoutes mounts the streaming endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/stream", h.handleStream)
	r.Get("/chat/ws", h.ws.handle)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event    string `json:"event"`
	Content  string `json:"content,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Error    string `json:"error,omitempty"`
}

type emitFunc func(StreamResponse)

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
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

	if h.aiService == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	emit := func(resp StreamResponse) {
		utils.SendSSEEvent(w, flusher, resp.Event, resp)
	}

	if err := h.converse(r.Context(), w, r, message, emit); err != nil {
		slog.Error("stream failed", "component", "stream", "error", err)
		emit(StreamResponse{Event: "error", Error: "server error"})
	}
}

// converse runs one exchange on the active thread. The user's turn is saved
// before the first event is emitted so the session cookie still reaches the client.
func (h *Handler) converse(ctx context.Context, w http.ResponseWriter, r *http.Request, message string, emit emitFunc) error {
	history, err := h.chatSvc.Load(r)
	if err != nil {
		return err
	}

	thread := h.chatSvc.Active(history)
	thread.Append(chat.RoleUser, message)
	if err := h.chatSvc.Save(w, r, history); err != nil {
		return err
	}

	emit(StreamResponse{Event: "start", ThreadID: thread.ID})

	content, err := h.dispatchAIResponse(ctx, thread.Snapshot(), thread.ID, emit)
	if err != nil {
		return fmt.Errorf("AI generation failed: %w", err)
	}

	thread.Append(chat.RoleAssistant, content)
	if err := h.chatSvc.Save(w, r, history); err != nil {
		return err
	}

	emit(StreamResponse{Event: "end", ThreadID: thread.ID, Finished: true})
	slog.Debug("completed streamed reply", "component", "stream", "thread", thread.ID)
	return nil
}

// dispatchAIResponse streams when the provider is configured to, otherwise sends one message event.
func (h *Handler) dispatchAIResponse(ctx context.Context, messages []chat.Message, threadID string, emit emitFunc) (string, error) {
	if h.aiService.StreamingEnabled() {
		return h.streamAIResponse(ctx, messages, threadID, emit)
	}

	reply, err := h.aiService.Reply(ctx, messages)
	if err != nil {
		return "", err
	}

	emit(StreamResponse{Event: "message", ThreadID: threadID, Content: reply})
	return reply, nil
}

func (h *Handler) streamAIResponse(ctx context.Context, messages []chat.Message, threadID string, emit emitFunc) (string, error) {
	stream, err := h.aiService.Stream(ctx, messages)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			emit(StreamResponse{Event: "delta", ThreadID: threadID, Content: chunk.Content})
		}
	}

	content := ""
	if len(chunks) > 0 {
		response, err := schema.ConcatMessages(chunks)
		if err != nil {
			return "", err
		}
		content = response.Content
	}
	content = ai.ContentOrFallback(content)

	emit(StreamResponse{Event: "message", ThreadID: threadID, Content: content})
	return content, nil
}
