package stream

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

type inboundMessage struct {
	Message string `json:"message"`
}

// websocketTransport runs exchanges for every text frame received on /chat/ws.
type websocketTransport struct {
	handler  *Handler
	upgrader websocket.Upgrader
}

func newWebsocketTransport(h *Handler) *websocketTransport {
	return &websocketTransport{
		handler: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (t *websocketTransport) handle(w http.ResponseWriter, r *http.Request) {
	if t.handler.aiService == nil {
		http.Error(w, "ai streaming unavailable", http.StatusServiceUnavailable)
		return
	}

	// establish the session cookie while headers can still be written
	history, err := t.handler.chatSvc.Load(r)
	if err != nil {
		slog.Error("failed to load chats", "component", "websocket", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	thread := t.handler.chatSvc.Active(history)
	header := http.Header{}
	if err := t.handler.chatSvc.Save(headerWriter{header}, r, history); err != nil {
		slog.Error("failed to save chats", "component", "websocket", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, header)
	if err != nil {
		slog.Warn("websocket upgrade failed", "component", "websocket", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go pingLoop(ctx, conn)

	emit := func(resp StreamResponse) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(resp); err != nil {
			slog.Warn("websocket write failed", "component", "websocket", "error", err)
		}
	}

	emit(StreamResponse{Event: "connected", ThreadID: thread.ID})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "component", "websocket", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		message := strings.TrimSpace(msg.Message)
		if message == "" {
			emit(StreamResponse{Event: "error", Error: "message must not be empty"})
			continue
		}

		frameHeader := http.Header{}
		if err := t.handler.converse(ctx, headerWriter{frameHeader}, sessionRequest(r, header), message, emit); err != nil {
			slog.Error("websocket exchange failed", "component", "websocket", "error", err)
			emit(StreamResponse{Event: "error", Error: "server error"})
		}
		if len(frameHeader.Values("Set-Cookie")) > 0 {
			header = frameHeader
		}
	}
}

// sessionRequest copies r for one exchange. The copy has no cached sessions,
// so every frame reads what other requests stored meanwhile, and it carries
// the cookies last set in header in place of the handshake ones.
func sessionRequest(r *http.Request, header http.Header) *http.Request {
	req := r.Clone(context.Background())
	req.Header.Del("Cookie")

	set := make(map[string]bool)
	for _, c := range (&http.Response{Header: header}).Cookies() {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		set[c.Name] = true
	}
	for _, c := range r.Cookies() {
		if !set[c.Name] {
			req.AddCookie(c)
		}
	}
	return req
}

// pingLoop sends pings until ctx ends.
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// headerWriter collects headers (session cookies) where no response body can follow.
type headerWriter struct {
	header http.Header
}

func (h headerWriter) Header() http.Header       { return h.header }
func (h headerWriter) Write(b []byte) (int, error) { return len(b), nil }
func (h headerWriter) WriteHeader(int)             {}
