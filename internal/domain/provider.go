package domain

import "context"

// StreamEventType classifies an event on a model output stream.
type StreamEventType string

const (
	// StreamToken carries one line of answer text.
	StreamToken StreamEventType = "token"
	// StreamMetadata carries a citation/grounding control frame.
	StreamMetadata StreamEventType = "metadata"
	// StreamDone signals a cleanly finalized reply (bus delivery only).
	StreamDone StreamEventType = "done"
	// StreamError signals a terminally failed reply (bus delivery only).
	StreamError StreamEventType = "error"
)

// StreamEvent is the typed framing of the model output stream. The backend
// client resolves the wire format's JSON-vs-text ambiguity once, so
// consumers never inspect line shapes.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Text      string          `json:"text,omitempty"`
	Citations []Citation      `json:"citations,omitempty"`
	Grounded  *bool           `json:"grounded,omitempty"`
	Model     string          `json:"model,omitempty"`
}

// CompletionRequest is one call to the model backend.
type CompletionRequest struct {
	Prompt  string `json:"prompt"`
	System  string `json:"system"`
	Context string `json:"context,omitempty"`
	Mode    Mode   `json:"mode"`
}

// ModelBackend streams a completion for a prompt. Complete emits token and
// metadata events on out, closes out, and returns nil when the stream ended
// cleanly. It returns ctx.Err() when cancellation is observed at a read
// boundary, and any other error for network or protocol failures.
type ModelBackend interface {
	Complete(ctx context.Context, req CompletionRequest, out chan<- StreamEvent) error
	Name() string
	Healthy(ctx context.Context) error
}
