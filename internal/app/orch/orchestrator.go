// Package orch is the connection/session manager: one event loop owns every
// connection and the stream registry.
package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/app/sfu"
	"github.com/dkeye/VoiceRelay/internal/app/transcode"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Transcoder is the per-stream HTTP encoder. *transcode.Manager satisfies it.
type Transcoder interface {
	Start(ctx context.Context, streamID domain.StreamID, src transcode.FrameSource) error
	Stop(streamID domain.StreamID)
}

type Deps struct {
	Sessions   core.SessionFactory
	Relays     *sfu.RelayManager
	Transcoder Transcoder         // optional
	Announcer  core.StreamAnnouncer // optional
	Policy     app.NegotiationPolicy
}

const (
	eventQueueSize     = 1024
	negotiationTimeout = 15 * time.Second
	// transcoderSubscriber is the relay subscription id used by the HTTP encoder.
	transcoderSubscriber = "transcoder"
)

type Orchestrator struct {
	sessions   core.SessionFactory
	relays     *sfu.RelayManager
	transcoder Transcoder
	announcer  core.StreamAnnouncer
	policy     app.NegotiationPolicy

	// owned by the loop goroutine
	registry *app.StreamRegistry
	conns    map[domain.ConnectionID]*connection
	ctx      context.Context

	events chan event
	done   chan struct{}
	now    func() time.Time
}

func New(d Deps) *Orchestrator {
	if d.Policy == nil {
		d.Policy = app.OutboundOffersPolicy{}
	}
	return &Orchestrator{
		sessions:   d.Sessions,
		relays:     d.Relays,
		transcoder: d.Transcoder,
		announcer:  d.Announcer,
		policy:     d.Policy,
		registry:   app.NewStreamRegistry(),
		conns:      make(map[domain.ConnectionID]*connection),
		events:     make(chan event, eventQueueSize),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run processes events until ctx is cancelled, then releases every connection.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	defer close(o.done)
	log.Info().Str("module", "orch").Msg("event loop started")
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			log.Info().Str("module", "orch").Msg("event loop stopped")
			return nil
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

func (o *Orchestrator) shutdown() {
	for id := range o.conns {
		o.disconnect(id)
	}
}

// post hands an event to the loop; it gives up once the loop stopped.
func (o *Orchestrator) post(ev event) bool {
	select {
	case o.events <- ev:
		return true
	case <-o.done:
		return false
	}
}

// tryPost drops the event when the loop is busy.
func (o *Orchestrator) tryPost(ev event) bool {
	select {
	case o.events <- ev:
		return true
	default:
		return false
	}
}

// Accept registers a new UNASSIGNED connection and returns its id.
func (o *Orchestrator) Accept(sig core.SignalConnection, clientToken string) domain.ConnectionID {
	id := domain.ConnectionID(uuid.NewString())
	o.post(acceptEvent{id: id, clientToken: clientToken, signal: sig})
	return id
}

// Dispatch routes one inbound signaling message.
func (o *Orchestrator) Dispatch(id domain.ConnectionID, msg core.Message) {
	o.post(messageEvent{id: id, msg: msg})
}

// Disconnect releases everything the connection owns. Calling it twice is a no-op.
func (o *Orchestrator) Disconnect(id domain.ConnectionID) {
	o.post(disconnectEvent{id: id})
}

// Snapshot is a read-only view for health and status endpoints.
type Snapshot struct {
	Streams     []domain.StreamInfo
	Senders     int
	Receivers   int
	Connections int
}

func (s Snapshot) StreamIDs() []domain.StreamID {
	out := make([]domain.StreamID, 0, len(s.Streams))
	for _, st := range s.Streams {
		out = append(out, st.ID)
	}
	return out
}

// Latest is the most recently created stream.
func (s Snapshot) Latest() (domain.StreamID, bool) {
	if len(s.Streams) == 0 {
		return "", false
	}
	return s.Streams[len(s.Streams)-1].ID, true
}

var ErrStopped = errors.New("orchestrator stopped")

func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case o.events <- snapshotEvent{reply: reply}:
	case <-o.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-o.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (o *Orchestrator) snapshot() Snapshot {
	s := Snapshot{Streams: o.registry.Infos(), Connections: len(o.conns)}
	for _, c := range o.conns {
		switch c.role {
		case domain.RoleSender:
			s.Senders++
		case domain.RoleReceiver:
			s.Receivers++
		}
	}
	return s
}

// Visualize forwards decoded samples to a stream's receivers. Samples are
// dropped when the loop is busy.
func (o *Orchestrator) Visualize(streamID domain.StreamID, samples []int16, timestamp float64) {
	o.tryPost(visEvent{streamID: streamID, samples: samples, timestamp: timestamp})
}
