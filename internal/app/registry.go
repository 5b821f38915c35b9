package app

import (
	"fmt"
	"slices"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Stream is the live audio produced by one sender connection.
type Stream struct {
	ID        domain.StreamID
	Owner     domain.ConnectionID
	Track     core.InboundTrack
	CreatedAt time.Time
	// Gen distinguishes incarnations of the same deterministic stream id.
	Gen uint64

	subscribers map[domain.ConnectionID]struct{}
}

func (s *Stream) Info() domain.StreamInfo {
	return domain.StreamInfo{
		ID:          s.ID,
		Owner:       s.Owner,
		Subscribers: len(s.subscribers),
		CreatedAt:   s.CreatedAt,
	}
}

// StreamRegistry maps stream ids to streams in creation order.
// It is not safe for concurrent use: the orchestrator loop is its only writer.
type StreamRegistry struct {
	streams map[domain.StreamID]*Stream
	order   []domain.StreamID
	gen     uint64
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		streams: make(map[domain.StreamID]*Stream),
	}
}

func (r *StreamRegistry) Create(id domain.StreamID, owner domain.ConnectionID, track core.InboundTrack, at time.Time) (*Stream, error) {
	if _, ok := r.streams[id]; ok {
		return nil, fmt.Errorf("create %s: %w", id, domain.ErrStreamExists)
	}
	r.gen++
	s := &Stream{
		ID:          id,
		Owner:       owner,
		Track:       track,
		CreatedAt:   at,
		Gen:         r.gen,
		subscribers: make(map[domain.ConnectionID]struct{}),
	}
	r.streams[id] = s
	r.order = append(r.order, id)
	log.Info().Str("module", "app.registry").Str("stream_id", string(id)).Str("owner", string(owner)).Msg("stream created")
	return s, nil
}

func (r *StreamRegistry) Get(id domain.StreamID) (*Stream, error) {
	s, ok := r.streams[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, domain.ErrStreamNotFound)
	}
	return s, nil
}

// List returns stream ids in creation order. It is never nil so an empty
// registry encodes as [].
func (r *StreamRegistry) List() []domain.StreamID {
	out := make([]domain.StreamID, 0, len(r.order))
	return append(out, r.order...)
}

// First is the oldest live stream, used when a receiver does not name one.
func (r *StreamRegistry) First() (domain.StreamID, bool) {
	if len(r.order) == 0 {
		return "", false
	}
	return r.order[0], true
}

func (r *StreamRegistry) Infos() []domain.StreamInfo {
	out := make([]domain.StreamInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.streams[id].Info())
	}
	return out
}

func (r *StreamRegistry) AddSubscriber(id domain.StreamID, sub domain.ConnectionID) error {
	s, ok := r.streams[id]
	if !ok {
		return fmt.Errorf("subscribe %s: %w", id, domain.ErrStreamNotFound)
	}
	s.subscribers[sub] = struct{}{}
	log.Info().Str("module", "app.registry").Str("stream_id", string(id)).Str("sid", string(sub)).Msg("subscriber added")
	return nil
}

func (r *StreamRegistry) RemoveSubscriber(id domain.StreamID, sub domain.ConnectionID) {
	s, ok := r.streams[id]
	if !ok {
		return
	}
	if _, ok := s.subscribers[sub]; !ok {
		return
	}
	delete(s.subscribers, sub)
	log.Info().Str("module", "app.registry").Str("stream_id", string(id)).Str("sid", string(sub)).Msg("subscriber removed")
}

// Subscribers returns the subscriber connections of a stream, sorted for stable fan-out.
func (r *StreamRegistry) Subscribers(id domain.StreamID) []domain.ConnectionID {
	s, ok := r.streams[id]
	if !ok {
		return nil
	}
	out := make([]domain.ConnectionID, 0, len(s.subscribers))
	for sid := range s.subscribers {
		out = append(out, sid)
	}
	slices.Sort(out)
	return out
}

// Destroy removes a stream. It reports false when the stream was already gone.
func (r *StreamRegistry) Destroy(id domain.StreamID) bool {
	if _, ok := r.streams[id]; !ok {
		return false
	}
	delete(r.streams, id)
	r.order = slices.DeleteFunc(r.order, func(s domain.StreamID) bool { return s == id })
	log.Info().Str("module", "app.registry").Str("stream_id", string(id)).Msg("stream destroyed")
	return true
}
