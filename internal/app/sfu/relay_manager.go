package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

type RelayManager struct {
	queueSize int

	mu     sync.RWMutex
	relays map[domain.StreamID]*Relay
}

func NewRelayManager(queueSize int) *RelayManager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &RelayManager{
		queueSize: queueSize,
		relays:    make(map[domain.StreamID]*Relay),
	}
}

// StartRelay creates the Relay for a stream and starts its reader loop.
// onEnded is called from the reader goroutine when the track ends by itself.
func (m *RelayManager) StartRelay(ctx context.Context, streamID domain.StreamID, gen uint64, track core.InboundTrack, onEnded EndedFunc) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("stream_id", string(streamID)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(streamID, gen, track, m.queueSize, cancel)

	m.mu.Lock()
	if old, ok := m.relays[streamID]; ok {
		logger.Info().Msg("replacing existing relay for stream")
		old.cancel()
		old.closeAll()
	}
	m.relays[streamID] = relay
	m.mu.Unlock()

	logger.Info().Str("track_id", track.ID()).Msg("starting relay loop")

	go relay.loop(relayCtx, &logger, func(id domain.StreamID, g uint64, err error) {
		m.forget(id, relay)
		if onEnded != nil {
			onEnded(id, g, err)
		}
	})
	return relay
}

func (m *RelayManager) forget(streamID domain.StreamID, relay *Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relays[streamID] == relay {
		delete(m.relays, streamID)
	}
}

func (m *RelayManager) get(streamID domain.StreamID) (*Relay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[streamID]
	if !ok {
		return nil, fmt.Errorf("relay %s: %w", streamID, domain.ErrStreamNotFound)
	}
	return relay, nil
}

// Subscribe opens a new bounded queue on the stream's relay.
func (m *RelayManager) Subscribe(streamID domain.StreamID, subscriberID string) (*Subscription, error) {
	relay, err := m.get(streamID)
	if err != nil {
		return nil, err
	}
	return relay.subscribe(subscriberID)
}

// Unsubscribe closes a subscriber's queue; unknown ids are ignored.
func (m *RelayManager) Unsubscribe(streamID domain.StreamID, subscriberID string) {
	relay, err := m.get(streamID)
	if err != nil {
		return
	}
	if relay.unsubscribe(subscriberID) {
		log.Info().Str("module", "relay").Str("stream_id", string(streamID)).Str("subscriber", subscriberID).Msg("unsubscribed")
	}
}

// Attach subscribes a receiver and pumps the relayed frames into its outbound track.
// When a write fails the receiver is unsubscribed and onFailed is called from the pump goroutine.
func (m *RelayManager) Attach(ctx context.Context, streamID domain.StreamID, subscriberID string, track core.OutboundTrack, onFailed FailedFunc) (*OutTrack, error) {
	sub, err := m.Subscribe(streamID, subscriberID)
	if err != nil {
		return nil, err
	}
	ot := NewOutTrack(track, sub)
	logger := log.With().
		Str("module", "relay").
		Str("stream_id", string(streamID)).
		Str("subscriber", subscriberID).
		Logger()
	go func() {
		err := ot.run(ctx, &logger)
		if ot.GetState() != TrackStateDelete {
			return
		}
		m.Unsubscribe(streamID, subscriberID)
		if onFailed != nil {
			onFailed(ot, err)
		}
	}()
	return ot, nil
}

// StopRelay stops a relay and removes it from the manager. Safe to call twice.
func (m *RelayManager) StopRelay(streamID domain.StreamID) {
	m.mu.Lock()
	relay, ok := m.relays[streamID]
	if ok {
		delete(m.relays, streamID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	subscribers := relay.SubscriberCount()
	relay.cancel()
	relay.closeAll()
	log.Info().Str("module", "relay").Str("stream_id", string(streamID)).Int("subscribers", subscribers).Msg("relay stopped")
}
