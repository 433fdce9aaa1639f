package stream

import (
	"context"
	"errors"
	"strings"
	"testing"

	"studyassist/internal/domain"
)

func boolPtr(b bool) *bool { return &b }

func TestBegin_PlaceholderAndBusy(t *testing.T) {
	c := NewController(ControllerConfig{})

	msgID, err := c.Begin("conv1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if msgID == "" {
		t.Fatal("Begin must return the placeholder message id")
	}

	conv := c.Conversation("conv1")
	if !conv.Pending {
		t.Fatal("conversation must be pending after Begin")
	}
	if len(conv.Messages) != 1 {
		t.Fatalf("expected placeholder message, got %d messages", len(conv.Messages))
	}
	m := conv.Messages[0]
	if m.Role != domain.RoleAssistant || m.Status != domain.StatusStreaming || m.Content != "" {
		t.Fatalf("placeholder wrong: %+v", m)
	}

	if _, err := c.Begin("conv1"); !errors.Is(err, ErrConversationBusy) {
		t.Fatalf("second Begin while pending must be rejected, got %v", err)
	}
	// A different conversation is unaffected.
	if _, err := c.Begin("conv2"); err != nil {
		t.Fatalf("other conversation must not be blocked: %v", err)
	}
}

func TestApply_TokensAndMetadata(t *testing.T) {
	c := NewController(ControllerConfig{})
	if _, err := c.Begin("conv1"); err != nil {
		t.Fatal(err)
	}

	c.Apply("conv1", domain.StreamEvent{Type: domain.StreamToken, Text: "first"})
	c.Apply("conv1", domain.StreamEvent{Type: domain.StreamMetadata, Citations: []domain.Citation{
		{Source: "Notes", Page: 2, Score: 1.0},
	}, Grounded: boolPtr(true), Model: "study-7b"})
	c.Apply("conv1", domain.StreamEvent{Type: domain.StreamToken, Text: "second"})

	conv := c.Conversation("conv1")
	if got := conv.Messages[0].Content; got != "first\nsecond\n" {
		t.Fatalf("tokens must append with trailing newline, got %q", got)
	}
	if len(conv.Citations) != 1 || conv.Citations[0].Source != "Notes" {
		t.Fatalf("metadata frame must update citations: %+v", conv.Citations)
	}
	if !conv.Status.Grounded || conv.Status.Model != "study-7b" {
		t.Fatalf("metadata frame must update status: %+v", conv.Status)
	}
}

func TestFinalize_SnapshotsAndStrips(t *testing.T) {
	c := NewController(ControllerConfig{})
	if _, err := c.Begin("conv1"); err != nil {
		t.Fatal(err)
	}
	c.SetCitations("conv1", []domain.Citation{{Source: "Notes", Page: 1, Score: 1.0}}, true, "study-7b")
	c.Apply("conv1", domain.StreamEvent{Type: domain.StreamToken, Text: "answer text"})
	c.Apply("conv1", domain.StreamEvent{Type: domain.StreamToken, Text: `{"done":true,"citations":[]}`})

	msg := c.Finalize("conv1")
	if msg.Status != domain.StatusFinal {
		t.Fatalf("expected final status, got %s", msg.Status)
	}
	if msg.Content != "answer text" {
		t.Fatalf("sentinel not stripped: %q", msg.Content)
	}
	if len(msg.Citations) != 1 || !msg.Grounded || msg.Model != "study-7b" {
		t.Fatalf("citation snapshot missing: %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Fatal("finalize must set the timestamp")
	}
	if c.Pending("conv1") {
		t.Fatal("pending must clear on finalize")
	}
}

func TestFail_TerminalErrorPath(t *testing.T) {
	c := NewController(ControllerConfig{})
	if _, err := c.Begin("conv1"); err != nil {
		t.Fatal(err)
	}
	c.Apply("conv1", domain.StreamEvent{Type: domain.StreamToken, Text: `partial {"done":true}`})

	msg := c.Fail("conv1", errors.New("connection reset"))
	if msg.Status != domain.StatusError {
		t.Fatalf("expected error status, got %s", msg.Status)
	}
	if !strings.Contains(msg.Content, "connection reset") {
		t.Fatalf("error annotation missing: %q", msg.Content)
	}
	// No sentinel stripping on the error path.
	if !strings.Contains(msg.Content, `{"done":true}`) {
		t.Fatalf("error path must not strip content: %q", msg.Content)
	}
	if c.Pending("conv1") {
		t.Fatal("pending must clear on failure")
	}
}

func TestCancel_KeepsPartialContent(t *testing.T) {
	c := NewController(ControllerConfig{})
	if _, err := c.Begin("conv1"); err != nil {
		t.Fatal(err)
	}
	_, cancel := context.WithCancel(context.Background())
	cancelled := false
	c.BindCancel("conv1", func() { cancelled = true; cancel() })

	c.Apply("conv1", domain.StreamEvent{Type: domain.StreamToken, Text: "partial answer"})
	c.Cancel("conv1")
	if !cancelled {
		t.Fatal("Cancel must invoke the bound cancel func")
	}

	msg := c.Halt("conv1")
	if msg.Status != domain.StatusStreaming {
		t.Fatalf("cancelled message must stay streaming, got %s", msg.Status)
	}
	if msg.Content != "partial answer\n" {
		t.Fatalf("partial content must be kept: %q", msg.Content)
	}
	if c.Pending("conv1") {
		t.Fatal("pending must clear after halt")
	}
}

func TestNote(t *testing.T) {
	c := NewController(ControllerConfig{})
	c.Note("conv1", TimeoutNote)
	if got := c.Conversation("conv1").Status.Note; got != TimeoutNote {
		t.Fatalf("note not attached: %q", got)
	}
}

func TestAppendLocal_ClearsPendingAndCitations(t *testing.T) {
	c := NewController(ControllerConfig{})
	c.AppendUser("conv1", "anything about chapter 9?")
	msg := c.AppendLocal("conv1", "refusal text")

	if msg.Status != domain.StatusFinal || msg.Role != domain.RoleAssistant {
		t.Fatalf("local reply must be a final assistant message: %+v", msg)
	}
	conv := c.Conversation("conv1")
	if conv.Pending {
		t.Fatal("local reply must not leave the conversation pending")
	}
	if len(conv.Citations) != 0 {
		t.Fatalf("local reply must clear citations: %+v", conv.Citations)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(conv.Messages))
	}
}

func TestStripSentinel(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", "answer text\n{\"done\":true,\"citations\":[]}", "answer text"},
		{"bare json with trailing newline", "answer text\n{\"done\":true,\"citations\":[]}\n", "answer text"},
		{"fenced json", "answer text\n```json\n{\"done\":true,\"citations\":[],\"model\":\"m\"}\n```\n", "answer text"},
		{"fence without language tag", "answer\n```\n{\"done\": true}\n```", "answer"},
		{"no sentinel is byte-identical", "plain answer\n", "plain answer\n"},
		{"done false is kept", "answer\n{\"done\":false}", "answer\n{\"done\":false}"},
		{"code fence without done marker is kept", "answer\n```go\nfmt.Println(1)\n```", "answer\n```go\nfmt.Println(1)\n```"},
		{"braces mid-text are kept", "set {1,2,3} is finite\n", "set {1,2,3} is finite\n"},
		{"only sentinel", "{\"done\":true}", ""},
	}
	for _, c := range cases {
		if got := StripSentinel(c.in); got != c.want {
			t.Fatalf("%s: StripSentinel(%q) = %q, want %q", c.name, c.in, got, c.want)
		}
	}
}
