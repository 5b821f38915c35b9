package sfu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// EndedFunc is told when a relay's upstream track stopped on its own.
type EndedFunc func(streamID domain.StreamID, gen uint64, err error)

// Relay reads a source track once and fans every frame out to its subscriptions.
type Relay struct {
	StreamID domain.StreamID
	Src      core.InboundTrack
	Gen      uint64

	queueSize int

	mu      sync.RWMutex
	subs    map[string]*Subscription
	stopped bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(streamID domain.StreamID, gen uint64, src core.InboundTrack, queueSize int, cancel context.CancelFunc) *Relay {
	return &Relay{
		StreamID:  streamID,
		Src:       src,
		Gen:       gen,
		queueSize: queueSize,
		subs:      make(map[string]*Subscription),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// loop is the only reader of the source track.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger, onEnded EndedFunc) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, closing subscriptions")
			r.closeAll()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			r.closeAll()
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("relay upstream ended")
			} else {
				logger.Warn().Err(err).Msg("relay read RTP error, stopping")
			}
			if onEnded != nil {
				onEnded(r.StreamID, r.Gen, fmt.Errorf("%w: %v", domain.ErrUpstreamEnded, err))
			}
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, sub := range r.subs {
		if !sub.offer(pkt) {
			if n := sub.Dropped(); n == 1 || n%500 == 0 {
				logger.Debug().Str("subscriber", id).Uint64("dropped", n).Msg("subscriber queue full, dropping frame")
			}
		}
	}
}

func (r *Relay) subscribe(id string) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, fmt.Errorf("subscribe %s to %s: %w", id, r.StreamID, domain.ErrUpstreamEnded)
	}
	if old, ok := r.subs[id]; ok {
		close(old.ch)
	}
	sub := newSubscription(r.StreamID, id, r.queueSize)
	r.subs[id] = sub
	return sub, nil
}

func (r *Relay) unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return false
	}
	delete(r.subs, id)
	close(sub.ch)
	return true
}

func (r *Relay) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	for id, sub := range r.subs {
		close(sub.ch)
		delete(r.subs, id)
	}
}

func (r *Relay) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Done is closed when the reader goroutine returned.
func (r *Relay) Done() <-chan struct{} { return r.done }
