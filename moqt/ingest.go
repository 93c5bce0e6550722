package moqt

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/forwarder"
	"github.com/zsiec/moqrelay/reassembly"
	"github.com/zsiec/moqrelay/transport"
)

// ServeIncomingData accepts every unidirectional stream the peer opens on
// tConn and decodes it as one subgroup of published objects, inserting
// each object into its track's cache and fanning it out to whatever
// downstream subscribers the relay already has for that track alias. It
// runs until ctx is cancelled or the connection closes.
func (c *Conn) ServeIncomingData(ctx context.Context, tConn *transport.Conn) error {
	for {
		rs, err := tConn.AcceptUniStream(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return err
		}
		go c.ingestStream(ctx, transport.StreamRxContext(rs))
	}
}

func (c *Conn) ingestStream(ctx context.Context, r io.Reader) {
	dr := reassembly.NewDataReassembler(r)
	header, err := dr.Start()
	if err != nil {
		c.log.Warn("data stream start failed", "err", err)
		return
	}
	track := c.relay.cacheFor(header.TrackAlias)

	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := dr.Next()
		switch {
		case err == nil:
		case errors.Is(err, reassembly.ErrBudgetExhausted):
			dr.ResetBudget()
			continue
		case errors.Is(err, io.EOF):
			return
		default:
			c.log.Warn("data stream read failed", "err", err)
			return
		}

		obj := cache.Object{
			GroupID:    frame.Header.GroupID,
			SubgroupID: frame.Header.SubgroupID,
			ObjectID:   frame.ObjectID,
			Priority:   frame.Header.Priority,
			Status:     frame.Status,
			Extensions: frame.Extensions,
			Payload:    frame.Payload,
		}
		track.Insert(obj)

		c.relay.fanOutToSubscribers(header.TrackAlias, func(sub *subscriberHandle) {
			sub.fwd.Forward(forwarder.Object{
				TrackAlias: header.TrackAlias,
				GroupID:    obj.GroupID,
				SubgroupID: obj.SubgroupID,
				ObjectID:   obj.ObjectID,
				Priority:   obj.Priority,
				Status:     obj.Status,
				Extensions: obj.Extensions,
				Payload:    obj.Payload,
			}, time.Now())
		})
	}
}
