// Package ingest turns extracted documents into indexed, tracked sources.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"studyassist/internal/domain"
	"studyassist/internal/index"
)

// Pipeline runs ingestion: create the source record, index its pages, and
// drive the indexing → ready | error lifecycle. Both end states are
// terminal; re-ingesting a file means a new source id.
//
// Ingestion is synchronous and blocks the caller for the whole rebuild.
// Acceptable for single-user document sets; move it off the request path
// before pointing multi-tenant corpora at it.
type Pipeline struct {
	idx    *index.Index
	store  domain.RecordStore
	logger *slog.Logger
}

type PipelineConfig struct {
	Index  *index.Index
	Store  domain.RecordStore
	Logger *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{idx: cfg.Index, store: cfg.Store, logger: cfg.Logger}
}

// Ingest indexes one extracted document and persists its source record. The
// returned source is in ready or error status, never indexing.
func (p *Pipeline) Ingest(ctx context.Context, doc domain.ExtractedDocument) (*domain.Source, error) {
	src := domain.Source{
		ID:          doc.SourceID,
		Name:        doc.Name,
		Mime:        doc.Mime,
		Tags:        doc.Tags,
		PageCount:   len(doc.Pages),
		Status:      domain.SourceIndexing,
		StoragePath: doc.StoragePath,
		CreatedAt:   time.Now(),
	}
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.Name == "" {
		src.Name = src.ID
	}
	for _, page := range doc.Pages {
		src.Size += int64(len(page.Text))
	}

	if err := p.store.SaveSource(ctx, src); err != nil {
		return nil, fmt.Errorf("save source: %w", err)
	}

	docs, err := buildDocuments(src, doc.Pages)
	if err != nil {
		src.Status = domain.SourceError
		if saveErr := p.store.SaveSource(ctx, src); saveErr != nil {
			p.logger.Warn("failed to persist error status", "source", src.ID, "err", saveErr)
		}
		return &src, err
	}

	// Drop any chunks from a previous ingestion under the same id before
	// re-indexing, so a shrunk document leaves no stale pages behind.
	p.idx.Remove(src.ID)
	p.idx.Put(docs...)

	src.Status = domain.SourceReady
	if err := p.store.SaveSource(ctx, src); err != nil {
		return nil, fmt.Errorf("save source: %w", err)
	}

	p.logger.Info("source ingested",
		"source", src.ID, "name", src.Name, "pages", len(docs), "size", src.Size)
	return &src, nil
}

// Reindex rebuilds index entries for already-ready sources, used on startup
// since the index itself is not persisted.
func (p *Pipeline) Reindex(ctx context.Context, extract func(context.Context, domain.Source) (*domain.ExtractedDocument, error)) error {
	sources, err := p.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	for _, src := range sources {
		if src.Status != domain.SourceReady {
			continue
		}
		doc, err := extract(ctx, src)
		if err != nil {
			p.logger.Warn("skipping source on reindex", "source", src.ID, "err", err)
			continue
		}
		docs, err := buildDocuments(src, doc.Pages)
		if err != nil {
			p.logger.Warn("skipping source on reindex", "source", src.ID, "err", err)
			continue
		}
		p.idx.Put(docs...)
	}
	p.logger.Info("index rebuilt", "chunks", p.idx.Count())
	return nil
}

func buildDocuments(src domain.Source, pages []domain.ExtractedPage) ([]index.Document, error) {
	docs := make([]index.Document, 0, len(pages))
	for _, page := range pages {
		text := strings.TrimSpace(page.Text)
		if text == "" {
			continue
		}
		docs = append(docs, index.Document{
			ID:       domain.ChunkID(src.ID, page.Page),
			SourceID: src.ID,
			Page:     page.Page,
			Text:     text,
			Label:    src.Name,
		})
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("source %s has no extractable text", src.ID)
	}
	return docs, nil
}
