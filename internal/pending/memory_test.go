package pending_test

import (
	"context"
	"fmt"
	"testing"

	"devscope-relay/internal/pending"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := pending.NewMemoryQueue(8)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dropped, err := q.Append(ctx, "o1", "d1", []byte(fmt.Sprintf("p%d", i)))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if dropped != 0 {
			t.Fatalf("unexpected drop below the bound")
		}
	}

	payloads, err := q.Drain(ctx, "o1", "d1")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	for i, p := range payloads {
		if string(p) != fmt.Sprintf("p%d", i) {
			t.Fatalf("order broken at %d: %s", i, p)
		}
	}

	// Drain empties the queue.
	payloads, err = q.Drain(ctx, "o1", "d1")
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(payloads) != 0 {
		t.Fatalf("drain did not empty the queue")
	}
}

func TestMemoryQueueDropsOldestWhenFull(t *testing.T) {
	q := pending.NewMemoryQueue(3)
	ctx := context.Background()

	totalDropped := 0
	for i := 0; i < 5; i++ {
		dropped, err := q.Append(ctx, "o1", "d1", []byte(fmt.Sprintf("p%d", i)))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		totalDropped += dropped
	}
	if totalDropped != 2 {
		t.Fatalf("expected 2 drops, got %d", totalDropped)
	}

	payloads, _ := q.Drain(ctx, "o1", "d1")
	want := []string{"p2", "p3", "p4"}
	if len(payloads) != len(want) {
		t.Fatalf("expected %d retained, got %d", len(want), len(payloads))
	}
	for i, w := range want {
		if string(payloads[i]) != w {
			t.Fatalf("position %d: expected %s, got %s", i, w, payloads[i])
		}
	}
}

func TestMemoryQueueKeysIsolated(t *testing.T) {
	q := pending.NewMemoryQueue(8)
	ctx := context.Background()

	_, _ = q.Append(ctx, "o1", "d1", []byte("a"))
	_, _ = q.Append(ctx, "o1", "d2", []byte("b"))
	_, _ = q.Append(ctx, "o2", "d1", []byte("c"))

	payloads, _ := q.Drain(ctx, "o1", "d1")
	if len(payloads) != 1 || string(payloads[0]) != "a" {
		t.Fatalf("queues not isolated per key: %v", payloads)
	}
}
