package core

import (
	"context"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// InboundTrack is the producer side of a stream. *webrtc.TrackRemote satisfies it.
type InboundTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// OutboundTrack is a local track attached to a receiver's session.
type OutboundTrack interface {
	WriteRTP(*rtp.Packet) error
}

// SessionEvent is one of TrackArrived, ConnectivityChanged or Ended.
type SessionEvent interface {
	sessionEvent()
}

type TrackArrived struct {
	Track InboundTrack
}

// ConnectivityChanged carries the ICE connection state name ("checking", "connected",
// "completed", "failed", ...).
type ConnectivityChanged struct {
	State string
}

type Ended struct{}

func (TrackArrived) sessionEvent()        {}
func (ConnectivityChanged) sessionEvent() {}
func (Ended) sessionEvent()               {}

// NegotiationSession is an opaque per-connection peer session.
type NegotiationSession interface {
	// Events delivers session events; it is closed after Ended.
	Events() <-chan SessionEvent
	// CreateOffer sets and returns the local offer once candidate gathering settled.
	CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error)
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(webrtc.ICECandidateInit) error
	// AttachOutbound adds a local RTP track with the given codec.
	AttachOutbound(codec webrtc.RTPCodecCapability, trackID, label string) (OutboundTrack, error)
	// Close is idempotent.
	Close() error
}

type SessionFactory interface {
	NewSession(ctx context.Context, id domain.ConnectionID) (NegotiationSession, error)
}
