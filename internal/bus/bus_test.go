package bus

import (
	"testing"

	"studyassist/internal/domain"
)

func TestPublish_RoutesByConversation(t *testing.T) {
	b := New(nil)

	var got []string
	b.Subscribe("conv1", func(evt Event) { got = append(got, evt.Stream.Text) })

	b.Publish(Event{ConversationID: "conv1", Stream: domain.StreamEvent{Type: domain.StreamToken, Text: "a"}})
	b.Publish(Event{ConversationID: "conv2", Stream: domain.StreamEvent{Type: domain.StreamToken, Text: "b"}})

	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("handler must only see its conversation: %v", got)
	}
}

func TestPublish_CatchAllAndUnsubscribe(t *testing.T) {
	b := New(nil)

	all := 0
	b.SubscribeAll(func(Event) { all++ })

	seen := 0
	b.Subscribe("conv1", func(Event) { seen++ })
	b.Publish(Event{ConversationID: "conv1"})
	b.Unsubscribe("conv1")
	b.Publish(Event{ConversationID: "conv1"})

	if seen != 1 {
		t.Fatalf("unsubscribed handler still called: %d", seen)
	}
	if all != 2 {
		t.Fatalf("catch-all must see every event: %d", all)
	}
}

func TestPublish_NoHandlerIsSilent(t *testing.T) {
	b := New(nil)
	// Must not panic or block.
	b.Publish(Event{ConversationID: "ghost", Stream: domain.StreamEvent{Type: domain.StreamDone}})
}
