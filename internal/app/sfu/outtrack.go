package sfu

import (
	"context"
	"sync/atomic"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/rs/zerolog"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateDelete
)

// FailedFunc is called once when an outbound write fails and the pump gave up.
type FailedFunc func(ot *OutTrack, err error)

// OutTrack forwards one subscription into a receiver's outbound track.
type OutTrack struct {
	Track core.OutboundTrack
	sub   *Subscription
	state atomic.Int32 // Zero by default (TrackStateOk)
	done  chan struct{}
}

func NewOutTrack(track core.OutboundTrack, sub *Subscription) *OutTrack {
	return &OutTrack{Track: track, sub: sub, done: make(chan struct{})}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}

func (ot *OutTrack) Subscription() *Subscription { return ot.sub }

// Done is closed when the pump stopped.
func (ot *OutTrack) Done() <-chan struct{} { return ot.done }

// run returns the write error that made it stop, nil otherwise.
func (ot *OutTrack) run(ctx context.Context, logger *zerolog.Logger) error {
	defer close(ot.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-ot.sub.C():
			if !ok {
				logger.Info().Msg("out track subscription closed")
				return nil
			}
			if ot.GetState() == TrackStateDelete {
				return nil
			}
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				return err
			}
		}
	}
}
