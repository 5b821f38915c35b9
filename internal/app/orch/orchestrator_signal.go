package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/app/sfu"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) accept(e acceptEvent) {
	c := &connection{
		id:          e.id,
		clientToken: e.clientToken,
		signal:      e.signal,
		role:        domain.RoleUnassigned,
		state:       domain.StateUnassigned,
	}
	o.conns[e.id] = c
	c.logger().Info().Msg("connection accepted")
	c.send(core.AvailableStreams{Type: core.MsgAvailableStreams, Streams: o.registry.List()})
}

func (o *Orchestrator) onMessage(id domain.ConnectionID, msg core.Message) {
	c, ok := o.conns[id]
	if !ok {
		log.Debug().Str("module", "orch").Str("sid", string(id)).Str("type", string(msg.Type)).Msg("message for unknown connection dropped")
		return
	}
	var err error
	switch msg.Type {
	case core.MsgStartSending:
		err = o.startSending(c)
	case core.MsgStartReceiving:
		err = o.startReceiving(c, msg.StreamID)
	case core.MsgStopStream:
		o.stopStream(c)
	case core.MsgGetAvailableStreams:
		c.send(core.AvailableStreams{Type: core.MsgAvailableStreams, Streams: o.registry.List()})
	case core.MsgWebRTCOffer:
		err = o.handleOffer(c, msg.Offer)
	case core.MsgWebRTCAnswer:
		err = o.handleAnswer(c, msg.Answer)
	case core.MsgICECandidate:
		err = o.handleICE(c, msg.Candidate)
	case core.MsgLocalIP:
		c.localIP = msg.IP
		c.logger().Info().Str("local_ip", msg.IP).Msg("client reported local ip")
	case core.MsgPing:
		c.send(core.Pong{Type: core.MsgPong})
	default:
		err = fmt.Errorf("%w: unknown message type %q", domain.ErrProtocol, msg.Type)
	}
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrNoStreamAvailable):
		c.logger().Info().Msg("receiver asked for a stream that does not exist")
		c.sendError("No audio stream available")
	case errors.Is(err, domain.ErrProtocol):
		c.logger().Warn().Err(err).Msg("protocol error")
	default:
		c.logger().Error().Err(err).Str("type", string(msg.Type)).Msg("message handling failed")
		c.sendError(err.Error())
	}
}

// openSession creates the connection's negotiation session and starts pumping
// its events into the loop.
func (o *Orchestrator) openSession(c *connection) error {
	sess, err := o.sessions.NewSession(o.ctx, c.id)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	ctx, cancel := context.WithCancel(o.ctx)
	c.session = sess
	c.ctx = ctx
	c.cancel = cancel
	c.endOfCandidates = false
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sess.Events():
				if !ok {
					return
				}
				// Ended only follows closeSession, which already released the connection.
				if _, ended := ev.(core.Ended); ended {
					return
				}
				if !o.post(sessionEvent{id: c.id, session: sess, ev: ev}) {
					return
				}
			}
		}
	}()
	return nil
}

func (o *Orchestrator) startSending(c *connection) error {
	if c.role != domain.RoleUnassigned {
		return fmt.Errorf("%w: start_sending while %s", domain.ErrProtocol, c.role)
	}
	if err := o.openSession(c); err != nil {
		return err
	}
	c.role = domain.RoleSender
	c.state = domain.StateSenderNegotiating
	c.logger().Info().Str("offerer", o.policy.OffererFor(c.role).String()).Msg("sender assigned")
	c.send(core.SenderReady{Type: core.MsgSenderReady, ConnectionID: c.id})
	if o.policy.OffererFor(c.role) == app.OffererServer {
		o.negotiate(c, nil)
	}
	return nil
}

func (o *Orchestrator) startReceiving(c *connection, requested domain.StreamID) error {
	if c.role != domain.RoleUnassigned {
		return fmt.Errorf("%w: start_receiving while %s", domain.ErrProtocol, c.role)
	}
	streamID := requested
	if streamID == "" {
		first, ok := o.registry.First()
		if !ok {
			return domain.ErrNoStreamAvailable
		}
		streamID = first
	}
	stream, err := o.registry.Get(streamID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNoStreamAvailable, err)
	}

	if err := o.openSession(c); err != nil {
		return err
	}
	outbound, err := c.session.AttachOutbound(stream.Track.Codec().RTPCodecCapability, "audio", string(stream.ID))
	if err != nil {
		o.closeSession(c)
		return fmt.Errorf("attach outbound: %w", err)
	}
	id := c.id
	ot, err := o.relays.Attach(c.ctx, stream.ID, string(c.id), outbound, func(ot *sfu.OutTrack, err error) {
		o.post(outboundFailedEvent{id: id, track: ot, err: err})
	})
	if err != nil {
		o.closeSession(c)
		return fmt.Errorf("%w: %v", domain.ErrNoStreamAvailable, err)
	}
	if err := o.registry.AddSubscriber(stream.ID, c.id); err != nil {
		o.relays.Unsubscribe(stream.ID, string(c.id))
		o.closeSession(c)
		return err
	}

	c.role = domain.RoleReceiver
	c.state = domain.StateReceiverNegotiating
	c.streamID = stream.ID
	c.outTrack = ot
	c.logger().Info().Str("stream_id", string(stream.ID)).Str("offerer", o.policy.OffererFor(c.role).String()).Msg("receiver assigned")

	if o.policy.OffererFor(c.role) == app.OffererServer {
		o.negotiate(c, nil)
	}
	return nil
}

// negotiate runs CreateOffer (offer == nil) or AcceptOffer off the loop and
// posts the local description back.
func (o *Orchestrator) negotiate(c *connection, offer *webrtc.SessionDescription) {
	id, sess := c.id, c.session
	ctx, cancel := context.WithTimeout(o.ctx, negotiationTimeout)
	go func() {
		defer cancel()
		var desc *webrtc.SessionDescription
		var err error
		if offer == nil {
			desc, err = sess.CreateOffer(ctx)
		} else {
			desc, err = sess.AcceptOffer(ctx, *offer)
		}
		o.post(negotiatedEvent{id: id, session: sess, desc: desc, err: err})
	}()
}

func (o *Orchestrator) onNegotiated(e negotiatedEvent) {
	c, ok := o.conns[e.id]
	if !ok || c.session != e.session {
		log.Debug().Str("module", "orch").Str("sid", string(e.id)).Msg("stale negotiation result dropped")
		return
	}
	if e.err != nil {
		o.fail(c, fmt.Errorf("%w: %v", domain.ErrNegotiationFailure, e.err))
		return
	}
	switch e.desc.Type {
	case webrtc.SDPTypeOffer:
		c.send(core.OfferMessage{Type: core.MsgWebRTCOffer, Offer: *e.desc})
	case webrtc.SDPTypeAnswer:
		c.send(core.AnswerMessage{Type: core.MsgWebRTCAnswer, Answer: *e.desc})
	}
	c.logger().Info().Str("sdp_type", e.desc.Type.String()).Msg("local description sent")
}

func (o *Orchestrator) handleOffer(c *connection, offer *webrtc.SessionDescription) error {
	if offer == nil {
		return fmt.Errorf("%w: webrtc_offer without offer", domain.ErrProtocol)
	}
	if c.session == nil {
		return fmt.Errorf("%w: webrtc_offer before a role was assigned", domain.ErrProtocol)
	}
	o.negotiate(c, offer)
	return nil
}

func (o *Orchestrator) handleAnswer(c *connection, answer *webrtc.SessionDescription) error {
	if answer == nil {
		return fmt.Errorf("%w: webrtc_answer without answer", domain.ErrProtocol)
	}
	if c.session == nil {
		return fmt.Errorf("%w: webrtc_answer before a role was assigned", domain.ErrProtocol)
	}
	if err := c.session.SetRemoteDescription(*answer); err != nil {
		return fmt.Errorf("%w: set remote answer: %v", domain.ErrProtocol, err)
	}
	c.logger().Info().Msg("remote answer applied")
	return nil
}

func (o *Orchestrator) handleICE(c *connection, cand *webrtc.ICECandidateInit) error {
	if c.session == nil {
		return fmt.Errorf("%w: ice_candidate before a role was assigned", domain.ErrProtocol)
	}
	if c.endOfCandidates {
		return nil
	}
	if cand == nil || cand.Candidate == "" {
		c.endOfCandidates = true
		c.logger().Debug().Msg("end of remote candidates")
		return nil
	}
	if !c.session.HasRemoteDescription() {
		c.logger().Warn().Msg("ice candidate before remote description, dropped")
		return nil
	}
	if err := c.session.AddICECandidate(*cand); err != nil {
		c.logger().Warn().Err(err).Msg("add ice candidate")
	}
	return nil
}

// stopStream releases the connection's media but keeps the signaling channel.
func (o *Orchestrator) stopStream(c *connection) {
	switch c.role {
	case domain.RoleSender:
		if c.streamID != "" {
			o.destroyStream(c.streamID, "stopped by sender")
		}
	case domain.RoleReceiver:
		o.leaveStream(c)
	default:
		c.logger().Debug().Msg("stop_stream without a role")
		return
	}
	o.closeSession(c)
	c.role = domain.RoleUnassigned
	c.state = domain.StateUnassigned
	c.streamID = ""
}
