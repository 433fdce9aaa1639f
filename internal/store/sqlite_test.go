package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"studyassist/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "study.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSource_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := domain.Source{
		ID:        "s1",
		Name:      "Bio Notes",
		Mime:      "application/pdf",
		Size:      2048,
		PageCount: 7,
		Tags:      []string{"biology", "week2"},
		Status:    domain.SourceIndexing,
	}
	if err := s.SaveSource(ctx, src); err != nil {
		t.Fatalf("SaveSource: %v", err)
	}

	// Status flip persists via upsert.
	src.Status = domain.SourceReady
	if err := s.SaveSource(ctx, src); err != nil {
		t.Fatalf("SaveSource update: %v", err)
	}

	got, err := s.GetSource(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got == nil {
		t.Fatal("source not found")
	}
	if got.Status != domain.SourceReady || got.Name != "Bio Notes" || got.PageCount != 7 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "biology" {
		t.Fatalf("tags mismatch: %+v", got.Tags)
	}

	all, err := s.ListSources(ctx)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("upsert must not duplicate rows: %d", len(all))
	}
}

func TestGetSource_Missing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSource(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got != nil {
		t.Fatalf("missing source should be nil, got %+v", got)
	}
}

func TestMessages_RoundTripAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	msgs := []domain.ChatMessage{
		{ID: "m1", Role: domain.RoleUser, Content: "what is osmosis?", Status: domain.StatusFinal, Timestamp: base},
		{ID: "m2", Role: domain.RoleAssistant, Content: "Osmosis is...", Status: domain.StatusFinal,
			Grounded: true, Model: "study-7b",
			Citations: []domain.Citation{{Source: "Bio Notes", Page: 4, Score: 1.0}},
			Timestamp: base.Add(time.Second)},
	}
	for _, m := range msgs {
		if err := s.SaveMessage(ctx, "conv1", m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	got, err := s.ListMessages(ctx, "conv1", 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("messages not chronological: %v, %v", got[0].ID, got[1].ID)
	}
	if !got[1].Grounded || len(got[1].Citations) != 1 || got[1].Citations[0].Page != 4 {
		t.Fatalf("citation round trip failed: %+v", got[1])
	}

	// Other conversations are isolated.
	other, err := s.ListMessages(ctx, "conv2", 10)
	if err != nil {
		t.Fatalf("ListMessages conv2: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("conversation isolation broken: %v", other)
	}
}

func TestSaveMessage_UpsertFinalizesStreaming(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := domain.ChatMessage{ID: "m1", Role: domain.RoleAssistant, Status: domain.StatusStreaming}
	if err := s.SaveMessage(ctx, "conv1", msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	msg.Content = "final answer"
	msg.Status = domain.StatusFinal
	if err := s.SaveMessage(ctx, "conv1", msg); err != nil {
		t.Fatalf("SaveMessage upsert: %v", err)
	}

	got, err := s.ListMessages(ctx, "conv1", 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("upsert must not duplicate: %d rows", len(got))
	}
	if got[0].Status != domain.StatusFinal || got[0].Content != "final answer" {
		t.Fatalf("upsert did not apply: %+v", got[0])
	}
}
