package orch

import (
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) broadcast(v any) {
	for _, c := range o.conns {
		c.send(v)
	}
}

// destroyStream notifies every remaining connection once, then removes the
// stream and stops its relay and transcoder. Unknown ids are ignored.
func (o *Orchestrator) destroyStream(id domain.StreamID, reason string) {
	s, err := o.registry.Get(id)
	if err != nil {
		return
	}
	o.broadcast(core.StreamNotice{Type: core.MsgStreamEnded, StreamID: id})

	for _, sid := range o.registry.Subscribers(id) {
		c, ok := o.conns[sid]
		if !ok || c.streamID != id {
			continue
		}
		o.resetReceiver(c)
	}
	if owner, ok := o.conns[s.Owner]; ok && owner.streamID == id {
		owner.streamID = ""
	}

	o.registry.Destroy(id)
	o.relays.StopRelay(id)
	if o.transcoder != nil {
		o.transcoder.Stop(id)
	}
	if o.announcer != nil {
		o.announcer.StreamEnded(id)
	}
	log.Info().Str("module", "orch").Str("stream_id", string(id)).Str("reason", reason).Msg("stream destroyed")
}

// leaveStream drops a receiver's subscription.
func (o *Orchestrator) leaveStream(c *connection) {
	if c.streamID == "" {
		return
	}
	if c.outTrack != nil {
		sub := c.outTrack.Subscription()
		c.logger().Info().
			Str("stream_id", string(c.streamID)).
			Uint64("delivered", sub.Delivered()).
			Uint64("dropped", sub.Dropped()).
			Msg("receiver leaving stream")
	}
	o.registry.RemoveSubscriber(c.streamID, c.id)
	o.relays.Unsubscribe(c.streamID, string(c.id))
	c.streamID = ""
	c.outTrack = nil
}

// resetReceiver drops a receiver's subscription and session and returns it to UNASSIGNED.
func (o *Orchestrator) resetReceiver(c *connection) {
	o.leaveStream(c)
	o.closeSession(c)
	c.role = domain.RoleUnassigned
	c.state = domain.StateUnassigned
}

func (o *Orchestrator) releaseMedia(c *connection) {
	switch c.role {
	case domain.RoleSender:
		if c.streamID != "" {
			o.destroyStream(c.streamID, "sender left")
		}
	case domain.RoleReceiver:
		o.leaveStream(c)
	}
}

// closeSession cancels the session's pumps and closes it off the loop.
func (o *Orchestrator) closeSession(c *connection) {
	if c.session == nil {
		return
	}
	sess := c.session
	c.session = nil
	c.outTrack = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	logger := c.logger()
	go func() {
		if err := sess.Close(); err != nil {
			logger.Warn().Err(err).Msg("close session")
		}
	}()
}

// fail handles a negotiation failure: media is torn down, the connection is
// CLOSED and its signaling channel closed. The transport then disconnects it.
func (o *Orchestrator) fail(c *connection, err error) {
	c.logger().Error().Err(err).Msg("negotiation failed")
	o.releaseMedia(c)
	o.closeSession(c)
	c.state = domain.StateClosed
	c.signal.Close()
}

func (o *Orchestrator) disconnect(id domain.ConnectionID) {
	c, ok := o.conns[id]
	if !ok {
		return
	}
	delete(o.conns, id)
	o.releaseMedia(c)
	o.closeSession(c)
	c.state = domain.StateClosed
	c.signal.Close()
	c.logger().Info().Msg("connection closed")
}
