package domain

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageStatus tracks the lifecycle of an assistant reply. A message is
// created streaming and ends in exactly one of final or error; neither end
// state ever transitions again.
type MessageStatus string

const (
	StatusStreaming MessageStatus = "streaming"
	StatusFinal     MessageStatus = "final"
	StatusError     MessageStatus = "error"
)

// Citation points an answer at a source page that supports it.
type Citation struct {
	Source  string  `json:"source"`
	Page    int     `json:"page"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

// ChatMessage is one turn of a conversation. Assistant messages are mutated
// in place while their stream is live.
type ChatMessage struct {
	ID        string        `json:"id"`
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	Citations []Citation    `json:"citations,omitempty"`
	Grounded  bool          `json:"grounded,omitempty"`
	Model     string        `json:"model,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ConversationStatus is the live grounding/model annotation for a
// conversation, updated by metadata frames mid-stream.
type ConversationStatus struct {
	Grounded bool   `json:"grounded"`
	Model    string `json:"model,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Conversation is the per-conversation state owned by the stream controller.
// Pending is true while an assistant reply is in flight; a conversation
// accepts one in-flight reply at a time, independent of other conversations.
type Conversation struct {
	ID        string             `json:"id"`
	Messages  []*ChatMessage     `json:"messages"`
	Pending   bool               `json:"pending"`
	Citations []Citation         `json:"citations,omitempty"`
	Status    ConversationStatus `json:"status"`
}
