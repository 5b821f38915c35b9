package app

import "github.com/dkeye/VoiceRelay/internal/domain"

// Offerer names the side that creates the SDP offer.
type Offerer int

const (
	OffererClient Offerer = iota
	OffererServer
)

func (o Offerer) String() string {
	if o == OffererServer {
		return "server"
	}
	return "client"
}

// NegotiationPolicy decides who initiates negotiation for a role.
type NegotiationPolicy interface {
	OffererFor(role domain.Role) Offerer
}

// OutboundOffersPolicy makes the side that adds an outbound track create the offer:
// senders publish their microphone, so they offer; the server adds the relayed
// track for receivers, so it offers to them.
type OutboundOffersPolicy struct{}

func (OutboundOffersPolicy) OffererFor(role domain.Role) Offerer {
	if role == domain.RoleReceiver {
		return OffererServer
	}
	return OffererClient
}
