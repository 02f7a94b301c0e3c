package chat

import (
	"fmt"
	"strconv"
	"time"
)

// DefaultTitle names threads created implicitly on first visit.
const DefaultTitle = "New chat"

// Thread is an ordered, append-only conversation.
type Thread struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// Append adds a turn to the end of the thread.
func (t *Thread) Append(role, content string) {
	t.Messages = append(t.Messages, Message{Role: role, Content: content})
}

// Snapshot returns a copy of the messages safe to hand to other goroutines.
func (t *Thread) Snapshot() []Message {
	copied := make([]Message, len(t.Messages))
	copy(copied, t.Messages)
	return copied
}

// NumberedTitle is the title used when a thread is created without one.
func NumberedTitle(existing int) string {
	return fmt.Sprintf("Chat %d", existing+1)
}

func threadID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
