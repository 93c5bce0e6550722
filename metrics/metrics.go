// Package metrics implements periodic sampling of connection and data
// context counters with min/max/avg aggregation, the shape
// ConnectionContext's "sampled metrics buffer" (spec §3) is built on.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Window aggregates a stream of samples taken over a bounded time span
// into min/max/avg, then resets — the same sliding-window shape used for
// the teacher's FPS/bitrate windows, generalized to any counter.
type Window struct {
	mu    sync.Mutex
	count uint64
	sum   float64
	min   float64
	max   float64
}

func NewWindow() *Window {
	return &Window{min: math.MaxFloat64, max: -math.MaxFloat64}
}

// Observe records one sample.
func (w *Window) Observe(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count++
	w.sum += v
	if v < w.min {
		w.min = v
	}
	if v > w.max {
		w.max = v
	}
}

// Snapshot is a point-in-time min/max/avg/count read, after which the
// window resets for the next sampling period.
type Snapshot struct {
	Count uint64
	Min   float64
	Max   float64
	Avg   float64
}

// Sample returns the window's current aggregate and resets it.
func (w *Window) Sample() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		w.min, w.max = math.MaxFloat64, -math.MaxFloat64
		return Snapshot{}
	}
	s := Snapshot{Count: w.count, Min: w.min, Max: w.max, Avg: w.sum / float64(w.count)}
	w.count, w.sum = 0, 0
	w.min, w.max = math.MaxFloat64, -math.MaxFloat64
	return s
}

// ConnectionCounters holds the atomic counters a connection accumulates
// between samples, mirroring the teacher's atomic-counter-plus-Snapshot
// pattern.
type ConnectionCounters struct {
	ObjectsSent    atomic.Int64
	ObjectsDropped atomic.Int64
	ObjectsExpired atomic.Int64
	BytesSent      atomic.Int64

	QueueDepth Window
}

// ConnectionSnapshot is the aggregate ConnectionCounters produces for one
// sampling period, returned by Sample and passed by a Sampler to its
// onSample callback.
type ConnectionSnapshot struct {
	ObjectsSent    int64
	ObjectsDropped int64
	ObjectsExpired int64
	BytesSent      int64
	QueueDepth     Snapshot
}

func (c *ConnectionCounters) Sample() ConnectionSnapshot {
	return ConnectionSnapshot{
		ObjectsSent:    c.ObjectsSent.Swap(0),
		ObjectsDropped: c.ObjectsDropped.Swap(0),
		ObjectsExpired: c.ObjectsExpired.Swap(0),
		BytesSent:      c.BytesSent.Swap(0),
		QueueDepth:     c.QueueDepth.Sample(),
	}
}

// Sampler periodically invokes a callback with a connection's sampled
// counters, run as a background goroutine supervised by the caller's
// errgroup.
type Sampler struct {
	counters *ConnectionCounters
	interval time.Duration
	onSample func(ConnectionSnapshot)
}

func NewSampler(counters *ConnectionCounters, interval time.Duration, onSample func(ConnectionSnapshot)) *Sampler {
	return &Sampler{counters: counters, interval: interval, onSample: onSample}
}

// Run blocks, sampling at s.interval, until done is closed.
func (s *Sampler) Run(done <-chan struct{}) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			s.onSample(s.counters.Sample())
		}
	}
}
