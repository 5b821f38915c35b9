package sfu

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/rtp"
)

// DefaultQueueSize is the per-subscriber frame capacity.
const DefaultQueueSize = 100

// Subscription is one consumer's bounded view of a relayed track.
// Packets are shared between subscribers and must not be modified.
type Subscription struct {
	ID       string
	StreamID domain.StreamID

	ch        chan *rtp.Packet
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newSubscription(streamID domain.StreamID, id string, size int) *Subscription {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Subscription{
		ID:       id,
		StreamID: streamID,
		ch:       make(chan *rtp.Packet, size),
	}
}

// offer enqueues without blocking; a full queue drops the newest frame.
// Callers hold the relay read lock.
func (s *Subscription) offer(pkt *rtp.Packet) bool {
	select {
	case s.ch <- pkt:
		s.delivered.Add(1)
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// C is closed when the subscription ends.
func (s *Subscription) C() <-chan *rtp.Packet { return s.ch }

// Next waits for the next frame. It returns domain.ErrFrameTimeout when nothing
// arrived in time and domain.ErrUpstreamEnded once the subscription is closed.
func (s *Subscription) Next(ctx context.Context, timeout time.Duration) (*rtp.Packet, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case pkt, ok := <-s.ch:
		if !ok {
			return nil, domain.ErrUpstreamEnded
		}
		return pkt, nil
	case <-timer.C:
		return nil, domain.ErrFrameTimeout
	}
}

func (s *Subscription) Delivered() uint64 { return s.delivered.Load() }
func (s *Subscription) Dropped() uint64   { return s.dropped.Load() }
