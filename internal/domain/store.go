package domain

import "context"

// RecordStore persists source and conversation records. The search index is
// deliberately not persisted; it is rebuilt from stored sources on startup.
type RecordStore interface {
	SaveSource(ctx context.Context, src Source) error
	GetSource(ctx context.Context, id string) (*Source, error)
	ListSources(ctx context.Context) ([]Source, error)

	SaveMessage(ctx context.Context, conversationID string, msg ChatMessage) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]ChatMessage, error)

	Close() error
}
