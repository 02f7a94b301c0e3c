package chat

import "time"

// History is the per-session state: every thread plus the active one.
type History struct {
	Chats      []*Thread `json:"chats"`
	ActiveChat string    `json:"activeChat"`
}

// NewThread appends a thread stamped with now and marks it active.
func (h *History) NewThread(title string, now time.Time) *Thread {
	if title == "" {
		title = DefaultTitle
	}

	// ids are creation timestamps; bump on collision so they stay unique
	for {
		if _, taken := h.Find(threadID(now)); !taken {
			break
		}
		now = now.Add(time.Millisecond)
	}

	thread := &Thread{ID: threadID(now), Title: title, Messages: []Message{}}
	h.Chats = append(h.Chats, thread)
	h.ActiveChat = thread.ID
	return thread
}

// Active returns the active thread, creating one when the session has none.
// A dangling ActiveChat falls back to the newest thread.
func (h *History) Active(now time.Time) *Thread {
	if len(h.Chats) == 0 {
		return h.NewThread(DefaultTitle, now)
	}
	if thread, ok := h.Find(h.ActiveChat); ok {
		return thread
	}

	thread := h.Chats[len(h.Chats)-1]
	h.ActiveChat = thread.ID
	return thread
}

// Select marks the thread with id active. Unknown ids leave the state untouched.
func (h *History) Select(id string) bool {
	if _, ok := h.Find(id); !ok {
		return false
	}
	h.ActiveChat = id
	return true
}

// Find looks up a thread by identifier.
func (h *History) Find(id string) (*Thread, bool) {
	if id == "" {
		return nil, false
	}
	for _, thread := range h.Chats {
		if thread.ID == id {
			return thread, true
		}
	}
	return nil, false
}
