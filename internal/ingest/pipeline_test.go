package ingest

import (
	"context"
	"testing"

	"studyassist/internal/domain"
	"studyassist/internal/index"
)

// fakeStore records saved sources in order, so lifecycle transitions are visible.
type fakeStore struct {
	saved []domain.Source
}

func (f *fakeStore) SaveSource(_ context.Context, src domain.Source) error {
	f.saved = append(f.saved, src)
	return nil
}

func (f *fakeStore) GetSource(_ context.Context, id string) (*domain.Source, error) {
	for i := len(f.saved) - 1; i >= 0; i-- {
		if f.saved[i].ID == id {
			src := f.saved[i]
			return &src, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListSources(context.Context) ([]domain.Source, error) {
	latest := map[string]domain.Source{}
	for _, s := range f.saved {
		latest[s.ID] = s
	}
	out := make([]domain.Source, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) SaveMessage(context.Context, string, domain.ChatMessage) error { return nil }
func (f *fakeStore) ListMessages(context.Context, string, int) ([]domain.ChatMessage, error) {
	return nil, nil
}
func (f *fakeStore) Close() error { return nil }

func TestIngest_Lifecycle(t *testing.T) {
	ix := index.New(nil)
	store := &fakeStore{}
	p := NewPipeline(PipelineConfig{Index: ix, Store: store})

	src, err := p.Ingest(context.Background(), domain.ExtractedDocument{
		SourceID: "s1",
		Name:     "Bio Notes",
		Mime:     "text/plain",
		Pages: []domain.ExtractedPage{
			{Page: 1, Text: "osmosis moves water"},
			{Page: 2, Text: "   "},
			{Page: 3, Text: "diffusion follows the gradient"},
		},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if src.Status != domain.SourceReady {
		t.Fatalf("expected ready, got %s", src.Status)
	}
	if src.PageCount != 3 {
		t.Fatalf("page count should include blank pages, got %d", src.PageCount)
	}
	// Blank page 2 produced no chunk.
	if ix.Count() != 2 {
		t.Fatalf("expected 2 indexed chunks, got %d", ix.Count())
	}
	// indexing was persisted first, ready last.
	if len(store.saved) != 2 || store.saved[0].Status != domain.SourceIndexing || store.saved[1].Status != domain.SourceReady {
		t.Fatalf("lifecycle not persisted in order: %+v", store.saved)
	}
}

func TestIngest_NoTextIsTerminalError(t *testing.T) {
	ix := index.New(nil)
	store := &fakeStore{}
	p := NewPipeline(PipelineConfig{Index: ix, Store: store})

	src, err := p.Ingest(context.Background(), domain.ExtractedDocument{
		SourceID: "s1",
		Name:     "Empty Scan",
		Pages:    []domain.ExtractedPage{{Page: 1, Text: "  "}},
	})
	if err == nil {
		t.Fatal("expected error for unextractable source")
	}
	if src == nil || src.Status != domain.SourceError {
		t.Fatalf("expected terminal error status, got %+v", src)
	}
	if ix.Count() != 0 {
		t.Fatalf("nothing should be indexed, got %d", ix.Count())
	}
	if last := store.saved[len(store.saved)-1]; last.Status != domain.SourceError {
		t.Fatalf("error status not persisted: %+v", last)
	}
}

func TestIngest_ReingestSameIDReplacesChunks(t *testing.T) {
	ix := index.New(nil)
	p := NewPipeline(PipelineConfig{Index: ix, Store: &fakeStore{}})

	long := domain.ExtractedDocument{SourceID: "s1", Name: "Notes", Pages: []domain.ExtractedPage{
		{Page: 1, Text: "alpha"}, {Page: 2, Text: "beta"}, {Page: 3, Text: "gamma"},
	}}
	short := domain.ExtractedDocument{SourceID: "s1", Name: "Notes", Pages: []domain.ExtractedPage{
		{Page: 1, Text: "alpha revised"},
	}}

	if _, err := p.Ingest(context.Background(), long); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Ingest(context.Background(), short); err != nil {
		t.Fatal(err)
	}
	if ix.Count() != 1 {
		t.Fatalf("shrunk re-ingest must leave no stale pages, got %d chunks", ix.Count())
	}
}

func TestIngest_GeneratesIDWhenMissing(t *testing.T) {
	p := NewPipeline(PipelineConfig{Index: index.New(nil), Store: &fakeStore{}})
	src, err := p.Ingest(context.Background(), domain.ExtractedDocument{
		Pages: []domain.ExtractedPage{{Page: 1, Text: "content"}},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if src.ID == "" || src.Name == "" {
		t.Fatalf("missing id/name must be filled in: %+v", src)
	}
}
