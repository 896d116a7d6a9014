package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := New()
	for i := 0; i < 3; i++ {
		q.Enqueue(Item{Signature: fmt.Sprint(i)})
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 items, got %d", q.Len())
	}

	for i := 0; i < 3; i++ {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if item.Signature != fmt.Sprint(i) {
			t.Fatalf("expected item %d, got %s", i, item.Signature)
		}
	}
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := New()
	got := make(chan Item, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			got <- item
		}
	}()

	select {
	case <-got:
		t.Fatal("Dequeue returned before anything was enqueued")
	case <-time.After(20 * time.Millisecond):
	}

	q.Enqueue(Item{Content: []byte("x")})
	select {
	case item := <-got:
		if string(item.Content) != "x" {
			t.Fatalf("unexpected item %q", item.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake up")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(Item{})
			}
		}()
	}
	wg.Wait()

	if q.Len() != 800 {
		t.Fatalf("expected 800 items, got %d", q.Len())
	}
}

func TestQueue_ContextCancel(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestQueue_CloseDrainsThenReportsClosed(t *testing.T) {
	q := New()
	q.Enqueue(Item{Signature: "last"})
	q.Close()

	if q.Enqueue(Item{}) {
		t.Fatal("expected Enqueue to fail after Close")
	}
	item, err := q.Dequeue(context.Background())
	if err != nil || item.Signature != "last" {
		t.Fatalf("expected queued item after close, got %+v %v", item, err)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
