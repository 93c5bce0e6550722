// Package scheduler implements the egress scheduler: one array of
// per-priority FIFOs per data context, drained lowest-priority-number
// first, with TTL-based expiry and stream-vs-datagram election. It never
// interleaves two objects' payload bytes on the same stream and never
// spins on backpressure — a congested context just leaves its queue
// non-empty until the next drain call succeeds.
package scheduler

import (
	"context"
	"time"
)

// StreamAction tells the scheduler what to do to the underlying stream
// before writing the next frame.
type StreamAction int

const (
	StreamActionNone StreamAction = iota
	StreamActionReplaceWithReset
	StreamActionReplaceWithFin
)

// Item is one frame queued for egress.
type Item struct {
	Priority    byte // lower value = higher priority
	EnqueuedAt  time.Time
	TTL         time.Duration // zero means no expiry
	UseReliable bool
	Action      StreamAction
	// StreamKey identifies which logical stream this frame belongs to
	// (typically derived from track alias, group, and subgroup); the
	// sink uses it to route frames for different subgroups to different
	// underlying QUIC streams without interleaving their bytes.
	StreamKey uint64
	// ClosesStreamKey is the logical stream Action applies to when
	// Action != StreamActionNone. It is usually StreamKey itself (ending
	// a stream outright, e.g. a fetch's last object) but may name a
	// different, now-superseded stream (a new group's first object
	// closing out the prior group's stream).
	ClosesStreamKey uint64
	Frame           []byte
}

func (it Item) expired(now time.Time) bool {
	return it.TTL > 0 && now.Sub(it.EnqueuedAt) >= it.TTL
}

// Sink is what a DataContext drains into — transport.DataContext.Enqueue
// adapted to this package's flag vocabulary by the caller.
type Sink interface {
	Enqueue(ctx context.Context, it Item) error
}

// Stats tracks what the scheduler has done with a context's queue, for
// the metrics package to sample.
type Stats struct {
	Enqueued uint64
	Sent     uint64
	Expired  uint64
	Dropped  uint64
}

// Queue is the array-of-FIFOs-by-priority scheduler for one data context.
// numPriorities bounds the array; Push files a priority value >=
// numPriorities under the lowest class, numPriorities-1.
type Queue struct {
	fifos []([]Item)
	stats Stats
}

// NewQueue creates a scheduler with numPriorities priority classes
// (0..numPriorities-1, 0 highest).
func NewQueue(numPriorities int) *Queue {
	return &Queue{fifos: make([][]Item, numPriorities)}
}

// Push appends it to its priority's FIFO. If ClearTxQueue-equivalent
// behavior is needed (a new group superseding a stalled one), the caller
// should call Clear(priority) first.
func (q *Queue) Push(it Item) {
	if int(it.Priority) >= len(q.fifos) {
		it.Priority = byte(len(q.fifos) - 1)
	}
	q.fifos[it.Priority] = append(q.fifos[it.Priority], it)
	q.stats.Enqueued++
}

// Clear drops every item queued at priority p, e.g. when a publisher
// replaces a stalled stream outright.
func (q *Queue) Clear(p byte) {
	if int(p) >= len(q.fifos) {
		return
	}
	q.stats.Dropped += uint64(len(q.fifos[p]))
	q.fifos[p] = nil
}

// expireStale drops any item across all priorities whose TTL has elapsed,
// counting them separately from drops caused by an explicit Clear.
func (q *Queue) expireStale(now time.Time) {
	for p, fifo := range q.fifos {
		if len(fifo) == 0 {
			continue
		}
		kept := fifo[:0]
		for _, it := range fifo {
			if it.expired(now) {
				q.stats.Expired++
				continue
			}
			kept = append(kept, it)
		}
		q.fifos[p] = kept
	}
}

// Pop removes and returns the highest-priority, oldest non-expired item
// queued, or ok=false if the queue is empty.
func (q *Queue) Pop(now time.Time) (Item, bool) {
	q.expireStale(now)
	for p := range q.fifos {
		if len(q.fifos[p]) == 0 {
			continue
		}
		it := q.fifos[p][0]
		q.fifos[p] = q.fifos[p][1:]
		q.stats.Sent++
		return it, true
	}
	return Item{}, false
}

// Len reports the total number of items queued across all priorities.
func (q *Queue) Len() int {
	n := 0
	for _, fifo := range q.fifos {
		n += len(fifo)
	}
	return n
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() Stats { return q.stats }

// Drain pops and sends every deliverable item through sink, stopping at
// the first backpressure error (sink.Enqueue returning an error the
// caller's transport treats as "would block") and leaving whatever
// remains queued for the next Drain call — the scheduler never busy-
// spins waiting for room.
func Drain(ctx context.Context, q *Queue, sink Sink, now time.Time) error {
	for {
		it, ok := q.Pop(now)
		if !ok {
			return nil
		}
		if err := sink.Enqueue(ctx, it); err != nil {
			return err
		}
	}
}
