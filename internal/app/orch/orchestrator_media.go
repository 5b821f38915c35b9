package orch

import (
	"fmt"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) onSessionEvent(e sessionEvent) {
	c, ok := o.conns[e.id]
	if !ok || c.session != e.session {
		return
	}
	switch ev := e.ev.(type) {
	case core.TrackArrived:
		o.onTrack(c, ev.Track)
	case core.ConnectivityChanged:
		c.logger().Info().Str("ice_state", ev.State).Msg("connectivity changed")
		switch ev.State {
		case "connected", "completed":
			if c.state != domain.StateClosed {
				c.state = domain.StateConnected
			}
		case "failed":
			o.fail(c, fmt.Errorf("%w: ice state failed", domain.ErrNegotiationFailure))
		}
	}
}

// onTrack publishes the first inbound audio track of a sender as a stream.
func (o *Orchestrator) onTrack(c *connection, track core.InboundTrack) {
	logger := c.logger()
	if c.role != domain.RoleSender {
		logger.Warn().Str("track_id", track.ID()).Msg("track from a non-sender ignored")
		return
	}
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		logger.Info().Str("kind", track.Kind().String()).Msg("non-audio track ignored")
		return
	}
	if c.streamID != "" {
		logger.Info().Str("stream_id", string(c.streamID)).Msg("sender already publishes a stream, track ignored")
		return
	}

	id := domain.StreamIDFor(c.id)
	stream, err := o.registry.Create(id, c.id, track, o.now())
	if err != nil {
		logger.Error().Err(err).Msg("create stream")
		return
	}
	c.streamID = id

	o.relays.StartRelay(o.ctx, id, stream.Gen, track, func(sid domain.StreamID, gen uint64, err error) {
		o.post(relayEndedEvent{streamID: sid, gen: gen, err: err})
	})

	if o.transcoder != nil {
		sub, err := o.relays.Subscribe(id, transcoderSubscriber)
		if err != nil {
			logger.Error().Err(err).Msg("subscribe transcoder")
		} else if err := o.transcoder.Start(o.ctx, id, sub); err != nil {
			logger.Error().Err(err).Msg("start transcoder")
			o.relays.Unsubscribe(id, transcoderSubscriber)
		}
	}

	o.broadcast(core.StreamNotice{Type: core.MsgStreamAvailable, StreamID: id})
	if o.announcer != nil {
		o.announcer.StreamAvailable(id)
	}
	logger.Info().Str("stream_id", string(id)).Str("codec", track.Codec().MimeType).Msg("stream available")
}

func (o *Orchestrator) onRelayEnded(e relayEndedEvent) {
	s, err := o.registry.Get(e.streamID)
	if err != nil || s.Gen != e.gen {
		log.Debug().Str("module", "orch").Str("stream_id", string(e.streamID)).Msg("stale relay end ignored")
		return
	}
	log.Info().Str("module", "orch").Str("stream_id", string(e.streamID)).Err(e.err).Msg("upstream ended")
	o.destroyStream(e.streamID, "upstream ended")
}

// onOutboundFailed releases a receiver whose media can no longer be written.
// The signaling channel stays open so the client may start_receiving again.
func (o *Orchestrator) onOutboundFailed(e outboundFailedEvent) {
	c, ok := o.conns[e.id]
	if !ok || c.outTrack != e.track {
		log.Debug().Str("module", "orch").Str("sid", string(e.id)).Msg("stale outbound failure ignored")
		return
	}
	c.logger().Warn().Err(e.err).Str("stream_id", string(c.streamID)).Msg("outbound media failed, receiver released")
	o.resetReceiver(c)
	c.sendError("Audio delivery failed")
}

// onVis is best effort: failed sends are swallowed per recipient.
func (o *Orchestrator) onVis(e visEvent) {
	msg := core.AudioData{
		Type:      core.MsgAudioData,
		StreamID:  e.streamID,
		Data:      e.samples,
		Timestamp: e.timestamp,
	}
	for _, sid := range o.registry.Subscribers(e.streamID) {
		if c, ok := o.conns[sid]; ok {
			c.send(msg)
		}
	}
}
