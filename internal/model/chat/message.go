package chat

// Roles understood by the chat-completion endpoint.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged turn of a thread.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
