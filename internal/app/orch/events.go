package orch

import (
	"github.com/dkeye/VoiceRelay/internal/app/sfu"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/webrtc/v4"
)

type event interface{}

type acceptEvent struct {
	id          domain.ConnectionID
	clientToken string
	signal      core.SignalConnection
}

type messageEvent struct {
	id  domain.ConnectionID
	msg core.Message
}

type disconnectEvent struct {
	id domain.ConnectionID
}

// sessionEvent carries the session it came from so late events of a
// replaced session can be told apart.
type sessionEvent struct {
	id      domain.ConnectionID
	session core.NegotiationSession
	ev      core.SessionEvent
}

// negotiatedEvent is the result of an off-loop CreateOffer or AcceptOffer.
type negotiatedEvent struct {
	id      domain.ConnectionID
	session core.NegotiationSession
	desc    *webrtc.SessionDescription
	err     error
}

type relayEndedEvent struct {
	streamID domain.StreamID
	gen      uint64
	err      error
}

// outboundFailedEvent reports a receiver whose outbound pump stopped on a write error.
type outboundFailedEvent struct {
	id    domain.ConnectionID
	track *sfu.OutTrack
	err   error
}

type visEvent struct {
	streamID  domain.StreamID
	samples   []int16
	timestamp float64
}

type snapshotEvent struct {
	reply chan Snapshot
}

func (o *Orchestrator) handle(ev event) {
	switch e := ev.(type) {
	case acceptEvent:
		o.accept(e)
	case messageEvent:
		o.onMessage(e.id, e.msg)
	case disconnectEvent:
		o.disconnect(e.id)
	case sessionEvent:
		o.onSessionEvent(e)
	case negotiatedEvent:
		o.onNegotiated(e)
	case relayEndedEvent:
		o.onRelayEnded(e)
	case outboundFailedEvent:
		o.onOutboundFailed(e)
	case visEvent:
		o.onVis(e)
	case snapshotEvent:
		e.reply <- o.snapshot()
	}
}
