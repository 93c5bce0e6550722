package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueuePopOrdersByPriorityThenFIFO(t *testing.T) {
	t.Parallel()
	q := NewQueue(4)
	now := time.Now()
	q.Push(Item{Priority: 2, EnqueuedAt: now, Frame: []byte("low-1")})
	q.Push(Item{Priority: 0, EnqueuedAt: now, Frame: []byte("high-1")})
	q.Push(Item{Priority: 0, EnqueuedAt: now, Frame: []byte("high-2")})
	q.Push(Item{Priority: 2, EnqueuedAt: now, Frame: []byte("low-2")})

	want := []string{"high-1", "high-2", "low-1", "low-2"}
	for _, w := range want {
		it, ok := q.Pop(now)
		if !ok {
			t.Fatalf("expected item %q, got none", w)
		}
		if string(it.Frame) != w {
			t.Fatalf("got %q, want %q", it.Frame, w)
		}
	}
	if _, ok := q.Pop(now); ok {
		t.Fatal("expected queue empty")
	}
}

func TestQueuePushClampsOutOfRangePriority(t *testing.T) {
	t.Parallel()
	q := NewQueue(4)
	now := time.Now()
	q.Push(Item{Priority: 250, EnqueuedAt: now, Frame: []byte("clamped")})
	it, ok := q.Pop(now)
	if !ok || string(it.Frame) != "clamped" {
		t.Fatalf("got %+v, ok=%v", it, ok)
	}
}

func TestQueueExpiresStaleItemsOnPop(t *testing.T) {
	t.Parallel()
	q := NewQueue(4)
	past := time.Now().Add(-time.Hour)
	q.Push(Item{Priority: 0, EnqueuedAt: past, TTL: time.Millisecond, Frame: []byte("stale")})
	q.Push(Item{Priority: 0, EnqueuedAt: time.Now(), TTL: time.Hour, Frame: []byte("fresh")})

	it, ok := q.Pop(time.Now())
	if !ok {
		t.Fatal("expected the fresh item to survive")
	}
	if string(it.Frame) != "fresh" {
		t.Fatalf("got %q, want %q", it.Frame, "fresh")
	}
	if q.Stats().Expired != 1 {
		t.Fatalf("got Expired=%d, want 1", q.Stats().Expired)
	}
}

func TestQueueClearDropsOnlyThatPriority(t *testing.T) {
	t.Parallel()
	q := NewQueue(4)
	now := time.Now()
	q.Push(Item{Priority: 1, EnqueuedAt: now, Frame: []byte("a")})
	q.Push(Item{Priority: 1, EnqueuedAt: now, Frame: []byte("b")})
	q.Push(Item{Priority: 2, EnqueuedAt: now, Frame: []byte("c")})

	q.Clear(1)
	if q.Len() != 1 {
		t.Fatalf("got Len()=%d, want 1", q.Len())
	}
	it, ok := q.Pop(now)
	if !ok || string(it.Frame) != "c" {
		t.Fatalf("got %+v", it)
	}
	if q.Stats().Dropped != 2 {
		t.Fatalf("got Dropped=%d, want 2", q.Stats().Dropped)
	}
}

type fakeSink struct {
	sent     []Item
	failWith error
}

func (s *fakeSink) Enqueue(ctx context.Context, it Item) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.sent = append(s.sent, it)
	return nil
}

func TestDrainSendsEveryItemUntilEmpty(t *testing.T) {
	t.Parallel()
	q := NewQueue(4)
	now := time.Now()
	for i := 0; i < 5; i++ {
		q.Push(Item{Priority: byte(i % 4), EnqueuedAt: now, Frame: []byte{byte(i)}})
	}
	sink := &fakeSink{}
	if err := Drain(context.Background(), q, sink, now); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(sink.sent) != 5 {
		t.Fatalf("got %d items sent, want 5", len(sink.sent))
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue drained, got Len()=%d", q.Len())
	}
}

func TestDrainStopsOnSinkErrorLeavingRemainderQueued(t *testing.T) {
	t.Parallel()
	q := NewQueue(4)
	now := time.Now()
	q.Push(Item{Priority: 0, EnqueuedAt: now, Frame: []byte("a")})
	q.Push(Item{Priority: 0, EnqueuedAt: now, Frame: []byte("b")})

	wantErr := errors.New("backpressure")
	sink := &fakeSink{failWith: wantErr}
	err := Drain(context.Background(), q, sink, now)
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one item still queued after the failed send, got %d", q.Len())
	}
}
