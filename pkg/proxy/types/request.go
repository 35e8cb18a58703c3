package types

// Roles accepted in a Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatRequest is the body of a chat request. Only the last message is
// forwarded upstream; the first one keys the conversation.
type ChatRequest struct {
	Messages []Message `json:"messages" validate:"dive"`
}

// Message is one conversation turn.
type Message struct {
	// Role is one of user, assistant or system.
	Role string `json:"role" validate:"required,oneof=user assistant system"`

	// Content is the turn text.
	Content string `json:"content"`

	// ThreadID optionally names the conversation the turn belongs to.
	ThreadID string `json:"threadId,omitempty"`

	// ThreadIDSnake is the snake_case spelling some clients send.
	ThreadIDSnake string `json:"thread_id,omitempty"`
}

// Thread returns the thread id supplied with the message, if any.
func (m Message) Thread() string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	return m.ThreadIDSnake
}
