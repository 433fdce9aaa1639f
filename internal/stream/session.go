// Package stream owns per-conversation reply state: placeholder messages,
// token accumulation, metadata frames, finalization, cancellation, timeout.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyassist/internal/domain"
)

// DefaultTimeout bounds one streamed reply wall-clock.
const DefaultTimeout = 30 * time.Second

// TimeoutNote is the advisory status note attached when a reply times out.
const TimeoutNote = "request timed out"

// ErrConversationBusy rejects a prompt for a conversation whose previous
// reply is still streaming. Other conversations are unaffected.
var ErrConversationBusy = errors.New("a reply is already in progress for this conversation")

// session pairs a conversation with the cancel handle of its in-flight
// request. Each conversation has its own lock; concurrent streams on
// different conversations never contend.
type session struct {
	mu     sync.Mutex
	conv   *domain.Conversation
	cancel context.CancelFunc
}

// Controller is the keyed store of conversation state. All reads and writes
// go through it; there is no ambient shared map.
type Controller struct {
	mu      sync.RWMutex
	convs   map[string]*session
	timeout time.Duration
	logger  *slog.Logger
}

type ControllerConfig struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		convs:   make(map[string]*session),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Timeout is the wall-clock budget a caller should apply to one reply.
func (c *Controller) Timeout() time.Duration { return c.timeout }

func (c *Controller) get(conversationID string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.convs[conversationID]
	if !ok {
		s = &session{conv: &domain.Conversation{ID: conversationID}}
		c.convs[conversationID] = s
	}
	return s
}

// Conversation returns a snapshot copy of the conversation state.
func (c *Controller) Conversation(conversationID string) domain.Conversation {
	s := c.get(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := *s.conv
	snap.Messages = make([]*domain.ChatMessage, len(s.conv.Messages))
	for i, m := range s.conv.Messages {
		cp := *m
		snap.Messages[i] = &cp
	}
	snap.Citations = append([]domain.Citation(nil), s.conv.Citations...)
	return snap
}

// Pending reports whether the conversation has a reply in flight.
func (c *Controller) Pending(conversationID string) bool {
	s := c.get(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Pending
}

// AppendUser records the user's prompt as a final message.
func (c *Controller) AppendUser(conversationID, content string) domain.ChatMessage {
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   content,
		Status:    domain.StatusFinal,
		Timestamp: time.Now(),
	}
	s := c.get(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Messages = append(s.conv.Messages, &msg)
	return msg
}

// AppendLocal records a locally generated assistant reply (meta, navigation,
// refusal): final immediately, never grounded, no citations, no model call.
func (c *Controller) AppendLocal(conversationID, content string) domain.ChatMessage {
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   content,
		Status:    domain.StatusFinal,
		Timestamp: time.Now(),
	}
	s := c.get(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Messages = append(s.conv.Messages, &msg)
	s.conv.Pending = false
	s.conv.Citations = nil
	s.conv.Status = domain.ConversationStatus{}
	return msg
}

// Begin opens a streamed reply: a placeholder assistant message in status
// streaming with empty content, pending set, citations and status note
// reset. Returns ErrConversationBusy while a previous reply is in flight.
func (c *Controller) Begin(conversationID string) (string, error) {
	s := c.get(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conv.Pending {
		return "", ErrConversationBusy
	}

	msg := &domain.ChatMessage{
		ID:     uuid.NewString(),
		Role:   domain.RoleAssistant,
		Status: domain.StatusStreaming,
	}
	s.conv.Messages = append(s.conv.Messages, msg)
	s.conv.Pending = true
	s.conv.Citations = nil
	s.conv.Status = domain.ConversationStatus{}
	return msg.ID, nil
}

// BindCancel attaches the cancel handle of the in-flight request.
func (c *Controller) BindCancel(conversationID string, cancel context.CancelFunc) {
	s := c.get(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// SetCitations pre-populates citations and grounding from retrieval, before
// the stream starts. A later metadata frame overrides them.
func (c *Controller) SetCitations(conversationID string, cites []domain.Citation, grounded bool, model string) {
	s := c.get(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Citations = cites
	s.conv.Status.Grounded = grounded
	if model != "" {
		s.conv.Status.Model = model
	}
}

// Apply folds one stream event into the conversation. Tokens append to the
// streaming message with a trailing newline; metadata frames update the
// conversation's citations/grounding/model and never touch message content.
func (c *Controller) Apply(conversationID string, evt domain.StreamEvent) {
	s := c.get(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch evt.Type {
	case domain.StreamToken:
		if msg := streamingMessage(s.conv); msg != nil {
			msg.Content += evt.Text + "\n"
		}
	case domain.StreamMetadata:
		if evt.Citations != nil {
			s.conv.Citations = evt.Citations
		}
		if evt.Grounded != nil {
			s.conv.Status.Grounded = *evt.Grounded
		}
		if evt.Model != "" {
			s.conv.Status.Model = evt.Model
		}
	default:
		c.logger.Warn("unexpected stream event type", "type", evt.Type, "conversation", conversationID)
	}
}

// Finalize closes a cleanly ended stream: strips the trailing sentinel from
// the accumulated content, snapshots the conversation's citations/grounding/
// model onto the message, and moves it to its terminal final status.
func (c *Controller) Finalize(conversationID string) domain.ChatMessage {
	s := c.get(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := streamingMessage(s.conv)
	if msg == nil {
		c.logger.Warn("finalize with no streaming message", "conversation", conversationID)
		return domain.ChatMessage{}
	}
	msg.Content = StripSentinel(msg.Content)
	msg.Status = domain.StatusFinal
	msg.Citations = append([]domain.Citation(nil), s.conv.Citations...)
	msg.Grounded = s.conv.Status.Grounded
	msg.Model = s.conv.Status.Model
	msg.Timestamp = time.Now()
	s.conv.Pending = false
	s.cancel = nil
	return *msg
}

// Fail closes a broken stream: appends the error annotation and moves the
// message to its terminal error status. No sentinel stripping and no
// citation finalization happen on this path.
func (c *Controller) Fail(conversationID string, cause error) domain.ChatMessage {
	s := c.get(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := streamingMessage(s.conv)
	if msg == nil {
		c.logger.Warn("fail with no streaming message", "conversation", conversationID)
		return domain.ChatMessage{}
	}
	if msg.Content != "" && !strings.HasSuffix(msg.Content, "\n") {
		msg.Content += "\n"
	}
	msg.Content += "[error: " + cause.Error() + "]"
	msg.Status = domain.StatusError
	msg.Timestamp = time.Now()
	s.conv.Pending = false
	s.cancel = nil
	return *msg
}

// Cancel signals the in-flight request for this conversation, if any. The
// read loop observes it at its next read boundary; state cleanup happens in
// Halt once the stream unwinds.
func (c *Controller) Cancel(conversationID string) {
	s := c.get(conversationID)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Halt records a cancelled stream: pending is cleared and whatever content
// accumulated stays on the message, which remains in streaming status —
// partial output is kept, not rolled back, and never promoted to final.
func (c *Controller) Halt(conversationID string) domain.ChatMessage {
	s := c.get(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conv.Pending = false
	s.cancel = nil
	if msg := streamingMessage(s.conv); msg != nil {
		return *msg
	}
	return domain.ChatMessage{}
}

// Note attaches a non-fatal advisory note to the conversation status.
func (c *Controller) Note(conversationID, note string) {
	s := c.get(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Status.Note = note
}

// streamingMessage returns the newest message still in streaming status.
func streamingMessage(conv *domain.Conversation) *domain.ChatMessage {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Status == domain.StatusStreaming {
			return conv.Messages[i]
		}
	}
	return nil
}

// StripSentinel removes the trailing completion sentinel from accumulated
// content: a fenced block carrying the done marker and/or a bare JSON object
// with "done": true, at the very end of the text. Content without a sentinel
// is returned byte-identical apart from trailing whitespace.
func StripSentinel(content string) string {
	out := strings.TrimRight(content, " \t\r\n")
	stripped := false

	if strings.HasSuffix(out, "```") {
		inner := strings.TrimRight(out[:len(out)-3], " \t\r\n")
		if open := strings.LastIndex(inner, "```"); open >= 0 {
			body := inner[open+3:]
			if strings.Contains(body, `"done"`) {
				out = strings.TrimRight(out[:open], " \t\r\n")
				stripped = true
			}
		}
	}

	if strings.HasSuffix(out, "}") {
		if open := openingBrace(out); open >= 0 {
			var probe struct {
				Done bool `json:"done"`
			}
			if json.Unmarshal([]byte(out[open:]), &probe) == nil && probe.Done {
				out = strings.TrimRight(out[:open], " \t\r\n")
				stripped = true
			}
		}
	}

	if !stripped {
		return content
	}
	return out
}

// openingBrace finds the start of the brace-balanced object that closes at
// the end of s, or -1. Braces inside JSON strings are not special-cased; a
// mismatch just fails the later unmarshal and leaves the text alone.
func openingBrace(s string) int {
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
