package orch

import (
	"context"
	"encoding/json"

	"github.com/dkeye/VoiceRelay/internal/app/sfu"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// connection is one signaling channel. Only the loop goroutine touches it.
type connection struct {
	id          domain.ConnectionID
	clientToken string
	signal      core.SignalConnection
	role        domain.Role
	state       domain.ConnState
	session     core.NegotiationSession
	// streamID is the published stream for a sender, the subscribed one for a receiver.
	streamID domain.StreamID
	outTrack *sfu.OutTrack
	// ctx scopes the session's event pump and outbound pump.
	ctx    context.Context
	cancel context.CancelFunc

	endOfCandidates bool
	localIP         string
}

func (c *connection) logger() *zerolog.Logger {
	lc := log.With().
		Str("module", "orch").
		Str("sid", string(c.id)).
		Str("role", string(c.role))
	if c.clientToken != "" {
		lc = lc.Str("client", c.clientToken)
	}
	if c.localIP != "" {
		lc = lc.Str("local_ip", c.localIP)
	}
	l := lc.Logger()
	return &l
}

// send is best effort: backpressure and closed channels are logged and swallowed.
func (c *connection) send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger().Error().Err(err).Msg("marshal signaling message")
		return false
	}
	if err := c.signal.TrySend(core.Frame(data)); err != nil {
		c.logger().Debug().Err(err).Msg("signaling send dropped")
		return false
	}
	return true
}

func (c *connection) sendError(msg string) {
	c.send(core.ErrorMessage{Type: core.MsgError, Message: msg})
}
