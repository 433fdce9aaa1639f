// Package bus delivers assistant stream events to in-process front-ends.
package bus

import (
	"log/slog"
	"sync"

	"studyassist/internal/domain"
)

// Event is one delivery to a front-end: a stream event for a conversation,
// with the finished message attached on done/error.
type Event struct {
	ConversationID string
	Stream         domain.StreamEvent
	Message        *domain.ChatMessage
}

// Handler consumes events for one conversation. Handlers run on the
// publishing goroutine and must not block.
type Handler func(Event)

// Bus is a per-conversation handler registry with an optional catch-all.
// Publishing to a conversation nobody watches is not an error; streams
// outlive front-end interest.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	catchAll Handler
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Subscribe registers the handler for a conversation, replacing any previous one.
func (b *Bus) Subscribe(conversationID string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[conversationID] = h
}

// SubscribeAll registers a catch-all handler that sees every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catchAll = h
}

// Unsubscribe removes the conversation's handler.
func (b *Bus) Unsubscribe(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, conversationID)
}

// Publish dispatches one event to the conversation's handler and the
// catch-all, if registered.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	handler := b.handlers[evt.ConversationID]
	catchAll := b.catchAll
	b.mu.RUnlock()

	if handler == nil && catchAll == nil {
		b.logger.Debug("no handler for conversation event",
			"conversation", evt.ConversationID, "type", evt.Stream.Type)
		return
	}
	if handler != nil {
		handler(evt)
	}
	if catchAll != nil {
		catchAll(evt)
	}
}
