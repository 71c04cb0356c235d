package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New(0)
	id1, err := pub.Publish(context.Background(), "job-added", map[string]string{"k": "v"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "job-started", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Kind != "job-added" || msgs[1].Kind != "job-started" {
		t.Fatalf("kinds not recorded correctly: %+v", msgs)
	}

	msgs[0].Kind = "modified"
	if pub.Messages()[0].Kind == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherKeepsNewestWithinLimit(t *testing.T) {
	t.Parallel()

	pub := New(2)
	for _, kind := range []string{"a", "b", "c"} {
		if _, err := pub.Publish(context.Background(), kind, nil); err != nil {
			t.Fatalf("publish %s: %v", kind, err)
		}
	}
	msgs := pub.Messages()
	if len(msgs) != 2 || msgs[0].Kind != "b" || msgs[1].Kind != "c" {
		t.Fatalf("expected newest two messages, got %+v", msgs)
	}
}
