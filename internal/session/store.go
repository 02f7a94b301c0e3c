// Package session keeps per-visitor chat history in a cookie-keyed,
// server-side session store.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"github.com/zhouzirui/progpt/backend/internal/config"
	"github.com/zhouzirui/progpt/backend/internal/model/chat"
)

const historyKey = "history"

// Store reads and writes the chat history bound to the request's session cookie.
type Store interface {
	Load(r *http.Request) (*chat.History, error)
	Save(w http.ResponseWriter, r *http.Request, history *chat.History) error
}

// CookieStore adapts any gorilla sessions.Store to Store.
type CookieStore struct {
	store sessions.Store
	name  string
}

// NewCookieStore wraps store; name is the session cookie name.
func NewCookieStore(store sessions.Store, name string) *CookieStore {
	return &CookieStore{store: store, name: name}
}

// Load returns the session's history. Unreadable or tampered sessions start over empty.
func (s *CookieStore) Load(r *http.Request) (*chat.History, error) {
	sess, err := s.store.Get(r, s.name)
	if sess == nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if err != nil {
		slog.Warn("discarding unreadable session", "component", "session", "error", err)
	}

	history := &chat.History{}
	raw, ok := sess.Values[historyKey].(string)
	if !ok || raw == "" {
		return history, nil
	}

	if err := json.Unmarshal([]byte(raw), history); err != nil {
		slog.Warn("discarding corrupt chat history", "component", "session", "error", err)
		return &chat.History{}, nil
	}
	return history, nil
}

// Save persists history and refreshes the session cookie.
func (s *CookieStore) Save(w http.ResponseWriter, r *http.Request, history *chat.History) error {
	sess, err := s.store.Get(r, s.name)
	if sess == nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	encoded, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode chat history: %w", err)
	}
	sess.Values[historyKey] = string(encoded)

	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// New builds the Store selected by cfg.Backend. The closer releases backend resources.
func New(cfg config.SessionConfig) (Store, io.Closer, error) {
	options := &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	secret := []byte(cfg.Secret)

	switch cfg.Backend {
	case config.SessionBackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create session directory: %w", err)
		}
		store, err := OpenBoltStore(cfg.BoltPath, secret)
		if err != nil {
			return nil, nil, err
		}
		store.Options = options
		store.MaxAge(options.MaxAge)
		return NewCookieStore(store, cfg.CookieName), store, nil

	case config.SessionBackendFile:
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create session directory: %w", err)
		}
		store := sessions.NewFilesystemStore(cfg.Dir, secret)
		store.Options = options
		store.MaxAge(options.MaxAge)
		// histories outgrow securecookie's 4KB default
		store.MaxLength(0)
		return NewCookieStore(store, cfg.CookieName), nopCloser{}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported session backend %q", cfg.Backend)
	}
}

var errSessionNotFound = errors.New("session not found")

func unlimitedCodecs(keyPairs ...[]byte) []securecookie.Codec {
	codecs := securecookie.CodecsFromPairs(keyPairs...)
	for _, codec := range codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxLength(0)
		}
	}
	return codecs
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
