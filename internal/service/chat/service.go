package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/progpt/backend/internal/model/chat"
	"github.com/zhouzirui/progpt/backend/internal/session"
)

var ErrThreadNotFound = errors.New("thread not found")

// Service encapsulates conversation state management on top of the session store.
type Service struct {
	store session.Store
	now   func() time.Time
}

// NewService binds the service to a session store.
func NewService(store session.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Overview is what the index page renders.
type Overview struct {
	Chats  []*chat.Thread `json:"chats"`
	Active *chat.Thread   `json:"activeChat"`
}

// Load returns the request's history.
func (s *Service) Load(r *http.Request) (*chat.History, error) {
	history, err := s.store.Load(r)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	return history, nil
}

// Save persists history for the request's session.
func (s *Service) Save(w http.ResponseWriter, r *http.Request, history *chat.History) error {
	if err := s.store.Save(w, r, history); err != nil {
		return fmt.Errorf("failed to save chat history: %w", err)
	}
	return nil
}

// Active returns the active thread, creating one on demand.
func (s *Service) Active(history *chat.History) *chat.Thread {
	return history.Active(s.now())
}

// Overview loads the history, making sure an active thread exists.
func (s *Service) Overview(w http.ResponseWriter, r *http.Request) (Overview, error) {
	history, err := s.Load(r)
	if err != nil {
		return Overview{}, err
	}

	active := s.Active(history)
	if err := s.Save(w, r, history); err != nil {
		return Overview{}, err
	}

	return Overview{Chats: history.Chats, Active: active}, nil
}

// CreateThread starts a new active thread. An empty title becomes "Chat N".
func (s *Service) CreateThread(w http.ResponseWriter, r *http.Request, title string) (*chat.Thread, error) {
	history, err := s.Load(r)
	if err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = chat.NumberedTitle(len(history.Chats))
	}

	thread := history.NewThread(title, s.now())
	if err := s.Save(w, r, history); err != nil {
		return nil, err
	}
	return thread, nil
}

// SelectThread marks an existing thread active.
func (s *Service) SelectThread(w http.ResponseWriter, r *http.Request, id string) error {
	history, err := s.Load(r)
	if err != nil {
		return err
	}

	if !history.Select(id) {
		return ErrThreadNotFound
	}
	return s.Save(w, r, history)
}
