package ingest

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"studyassist/internal/domain"
)

// maxParagraphsPerPage bounds synthetic pages for files without form feeds.
const maxParagraphsPerPage = 8

// TextExtractor reads plain-text files (.txt, .md) into page-indexed text.
// Pages split on form feed when present, otherwise on paragraph groups.
// Binary formats (PDF, images) are extracted by an external collaborator and
// ingested as pre-extracted documents.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

func (e *TextExtractor) Extract(ctx context.Context, path string) (*domain.ExtractedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}

	name := filepath.Base(path)
	doc := &domain.ExtractedDocument{
		Name:        name,
		Mime:        mimeFor(path),
		StoragePath: path,
		Pages:       paginate(string(data)),
	}
	return doc, nil
}

func mimeFor(path string) string {
	if m := mime.TypeByExtension(filepath.Ext(path)); m != "" {
		return m
	}
	return "text/plain"
}

// paginate splits text into pages: form feeds are explicit page breaks;
// otherwise paragraphs are grouped into fixed-size synthetic pages.
func paginate(text string) []domain.ExtractedPage {
	var pages []domain.ExtractedPage
	add := func(chunk string) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			return
		}
		pages = append(pages, domain.ExtractedPage{Page: len(pages) + 1, Text: chunk})
	}

	if strings.Contains(text, "\f") {
		for _, part := range strings.Split(text, "\f") {
			add(part)
		}
		return pages
	}

	paragraphs := strings.Split(text, "\n\n")
	for i := 0; i < len(paragraphs); i += maxParagraphsPerPage {
		end := i + maxParagraphsPerPage
		if end > len(paragraphs) {
			end = len(paragraphs)
		}
		add(strings.Join(paragraphs[i:end], "\n\n"))
	}
	return pages
}
