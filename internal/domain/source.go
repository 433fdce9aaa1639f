package domain

import (
	"context"
	"fmt"
	"time"
)

// SourceStatus is the lifecycle state of an uploaded source document.
// A source starts in indexing and ends in ready or error; both end states
// are terminal. Re-ingesting a file produces a new source id.
type SourceStatus string

const (
	SourceIndexing SourceStatus = "indexing"
	SourceReady    SourceStatus = "ready"
	SourceError    SourceStatus = "error"
)

// Source describes one uploaded document in the study library.
type Source struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Mime        string       `json:"mime"`
	Size        int64        `json:"size"`
	PageCount   int          `json:"page_count"`
	Tags        []string     `json:"tags,omitempty"`
	Status      SourceStatus `json:"status"`
	StoragePath string       `json:"storage_path,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Chunk is a page-level fragment of a source, the unit of indexing.
type Chunk struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	Page     int    `json:"page"`
	Text     string `json:"text"`
}

// ChunkID derives the stable chunk id for a source page.
func ChunkID(sourceID string, page int) string {
	return fmt.Sprintf("%s:%d", sourceID, page)
}

// ExtractedPage is one page of plain text produced by the extraction collaborator.
type ExtractedPage struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// ExtractedDocument is the ingestion input: page-indexed plain text for one
// source. Text/OCR extraction itself happens outside this core.
type ExtractedDocument struct {
	SourceID    string          `json:"source_id"`
	Name        string          `json:"name"`
	Mime        string          `json:"mime"`
	Tags        []string        `json:"tags,omitempty"`
	StoragePath string          `json:"storage_path,omitempty"`
	Pages       []ExtractedPage `json:"pages"`
}

// Extractor converts an uploaded file into page-indexed plain text.
type Extractor interface {
	Extract(ctx context.Context, path string) (*ExtractedDocument, error)
}
