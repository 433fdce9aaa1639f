// Package service wires the answering pipeline: intent → retrieval →
// grounding → model backend → stream session.
package service

import (
	"context"
	"errors"
	"log/slog"

	"studyassist/internal/assist"
	"studyassist/internal/bus"
	"studyassist/internal/domain"
	"studyassist/internal/retrieval"
	"studyassist/internal/stream"
)

// Assistant answers study questions for any number of conversations. Each
// conversation has at most one reply in flight; different conversations
// stream concurrently.
type Assistant struct {
	retriever *retrieval.Retriever
	backend   domain.ModelBackend
	sessions  *stream.Controller
	records   domain.RecordStore
	events    *bus.Bus
	logger    *slog.Logger

	topK      int
	threshold float64
	strongHit float64
}

type AssistantConfig struct {
	Retriever *retrieval.Retriever
	Backend   domain.ModelBackend
	Sessions  *stream.Controller
	Records   domain.RecordStore // optional
	Events    *bus.Bus           // optional
	Logger    *slog.Logger

	TopK               int
	Threshold          float64
	StrongHitThreshold float64
}

func NewAssistant(cfg AssistantConfig) *Assistant {
	if cfg.TopK <= 0 {
		cfg.TopK = retrieval.DefaultTopK
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = retrieval.DefaultThreshold
	}
	if cfg.StrongHitThreshold <= 0 {
		cfg.StrongHitThreshold = assist.DefaultStrongHitThreshold
	}
	if cfg.Events == nil {
		cfg.Events = bus.New(cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assistant{
		retriever: cfg.Retriever,
		backend:   cfg.Backend,
		sessions:  cfg.Sessions,
		records:   cfg.Records,
		events:    cfg.Events,
		logger:    cfg.Logger,
		topK:      cfg.TopK,
		threshold: cfg.Threshold,
		strongHit: cfg.StrongHitThreshold,
	}
}

// Events exposes the bus front-ends subscribe on.
func (a *Assistant) Events() *bus.Bus { return a.events }

// Conversation returns a snapshot of one conversation's state.
func (a *Assistant) Conversation(conversationID string) domain.Conversation {
	return a.sessions.Conversation(conversationID)
}

// Abort cancels the conversation's in-flight reply, if any. The stream
// unwinds at its next read boundary; accumulated content is kept.
func (a *Assistant) Abort(conversationID string) {
	a.sessions.Cancel(conversationID)
}

// Ask answers one prompt. It blocks until the reply reaches a terminal or
// halted state and returns the resulting assistant message. Every failure
// path resolves to a well-defined message state; the only error returned is
// ErrConversationBusy when this conversation's previous reply is in flight.
func (a *Assistant) Ask(ctx context.Context, conversationID, prompt string, mode domain.Mode) (*domain.ChatMessage, error) {
	if mode == "" {
		mode = domain.ModeAuto
	}
	if a.sessions.Pending(conversationID) {
		return nil, stream.ErrConversationBusy
	}

	userMsg := a.sessions.AppendUser(conversationID, prompt)
	a.persist(conversationID, userMsg)

	// Meta and navigation prompts never reach retrieval or the backend.
	switch assist.Classify(prompt) {
	case assist.IntentMeta:
		return a.replyLocal(conversationID, assist.MetaReply()), nil
	case assist.IntentNavigation:
		return a.replyLocal(conversationID, assist.NavigationReply()), nil
	}

	var hits []domain.Hit
	if mode != domain.ModeGeneral {
		hits = a.retriever.Retrieve(prompt, a.topK, a.threshold)
	}
	decision := assist.Decide(mode, hits, a.strongHit)
	a.logger.Debug("grounding decision",
		"conversation", conversationID, "mode", mode,
		"hits", len(hits), "grounded", decision.Grounded, "refuse", decision.Refuse)

	if decision.Refuse {
		return a.replyLocal(conversationID, assist.RefusalText), nil
	}

	msgID, err := a.sessions.Begin(conversationID)
	if err != nil {
		return nil, err
	}

	req := domain.CompletionRequest{
		Prompt: prompt,
		System: assist.SystemPrompt(decision.Grounded),
		Mode:   mode,
	}
	if decision.Grounded {
		req.Context = assist.ContextBlock(hits)
		a.sessions.SetCitations(conversationID, assist.CitationsFromHits(hits), true, a.backend.Name())
	} else {
		a.sessions.SetCitations(conversationID, nil, false, a.backend.Name())
	}

	streamCtx, cancel := context.WithTimeout(ctx, a.sessions.Timeout())
	defer cancel()
	a.sessions.BindCancel(conversationID, cancel)

	out := make(chan domain.StreamEvent, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- a.backend.Complete(streamCtx, req, out) }()

	for evt := range out {
		a.sessions.Apply(conversationID, evt)
		a.events.Publish(bus.Event{ConversationID: conversationID, Stream: evt})
	}
	// Complete closes out before returning; block on errCh so its return
	// value is visible before we inspect it.
	err = <-errCh

	switch {
	case err == nil:
		msg := a.sessions.Finalize(conversationID)
		a.persist(conversationID, msg)
		a.publishEnd(conversationID, domain.StreamDone, &msg)
		a.logger.Info("reply finalized",
			"conversation", conversationID, "message", msgID, "grounded", msg.Grounded)
		return &msg, nil

	case errors.Is(err, context.DeadlineExceeded):
		msg := a.sessions.Halt(conversationID)
		a.sessions.Note(conversationID, stream.TimeoutNote)
		a.persist(conversationID, msg)
		a.publishEnd(conversationID, domain.StreamDone, &msg)
		a.logger.Warn("reply timed out, partial content kept",
			"conversation", conversationID, "message", msgID)
		return &msg, nil

	case errors.Is(err, context.Canceled):
		msg := a.sessions.Halt(conversationID)
		a.persist(conversationID, msg)
		a.publishEnd(conversationID, domain.StreamDone, &msg)
		a.logger.Info("reply cancelled, partial content kept",
			"conversation", conversationID, "message", msgID)
		return &msg, nil

	default:
		msg := a.sessions.Fail(conversationID, err)
		a.persist(conversationID, msg)
		a.publishEnd(conversationID, domain.StreamError, &msg)
		a.logger.Error("reply failed", "conversation", conversationID, "error", err)
		return &msg, nil
	}
}

// replyLocal emits a locally generated, immediately-final reply.
func (a *Assistant) replyLocal(conversationID, text string) *domain.ChatMessage {
	msg := a.sessions.AppendLocal(conversationID, text)
	a.persist(conversationID, msg)
	a.publishEnd(conversationID, domain.StreamDone, &msg)
	return &msg
}

func (a *Assistant) publishEnd(conversationID string, typ domain.StreamEventType, msg *domain.ChatMessage) {
	a.events.Publish(bus.Event{
		ConversationID: conversationID,
		Stream:         domain.StreamEvent{Type: typ},
		Message:        msg,
	})
}

// persist saves on a fresh context: the reply's own context may already be
// cancelled by the time a halted message needs recording.
func (a *Assistant) persist(conversationID string, msg domain.ChatMessage) {
	if a.records == nil {
		return
	}
	if err := a.records.SaveMessage(context.Background(), conversationID, msg); err != nil {
		a.logger.Warn("failed to persist message",
			"conversation", conversationID, "message", msg.ID, "err", err)
	}
}
