package moqt

import (
	"context"
	"sync"

	"github.com/zsiec/moqrelay/scheduler"
	"github.com/zsiec/moqrelay/transport"
)

// connSink adapts a transport.Conn into a scheduler.Sink, demultiplexing
// by Item.StreamKey onto one transport.DataContext per logical stream so
// two subgroups never interleave bytes on the same QUIC stream.
type connSink struct {
	conn *transport.Conn

	mu       sync.Mutex
	contexts map[uint64]*transport.DataContext
}

func newConnSink(conn *transport.Conn) *connSink {
	return &connSink{conn: conn, contexts: make(map[uint64]*transport.DataContext)}
}

func (s *connSink) Enqueue(ctx context.Context, it scheduler.Item) error {
	if !it.UseReliable {
		return s.conn.SendDatagram(it.Frame)
	}

	if it.Action != scheduler.StreamActionNone {
		s.closeOrReset(ctx, it.ClosesStreamKey, it.Action)
	}

	if len(it.Frame) == 0 {
		return nil
	}

	s.mu.Lock()
	dc, ok := s.contexts[it.StreamKey]
	s.mu.Unlock()
	if !ok {
		newDC, err := s.conn.CreateDataContext(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.contexts[it.StreamKey] = newDC
		s.mu.Unlock()
		dc = newDC
	}

	return dc.Enqueue(ctx, it.Frame, transport.EnqueueFlags{})
}

// closeOrReset ends the stream at key per action, e.g. a group transition
// FIN'ing the prior group's stream or a fetch FIN'ing its own stream once
// exhausted. A key with no open context (already closed, or a close-only
// item racing the context's creation) is a no-op.
func (s *connSink) closeOrReset(ctx context.Context, key uint64, action scheduler.StreamAction) {
	s.mu.Lock()
	dc, ok := s.contexts[key]
	if ok {
		delete(s.contexts, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if action == scheduler.StreamActionReplaceWithReset {
		dc.Enqueue(ctx, nil, transport.EnqueueFlags{UseReset: true})
		return
	}
	dc.Close()
}
