package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Session is a core.NegotiationSession backed by a pion PeerConnection.
type Session struct {
	pc         *webrtc.PeerConnection
	sid        domain.ConnectionID
	gatherWait time.Duration

	events chan core.SessionEvent
	done   chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func newSession(pc *webrtc.PeerConnection, sid domain.ConnectionID, gatherWait time.Duration) *Session {
	s := &Session{
		pc:         pc,
		sid:        sid,
		gatherWait: gatherWait,
		events:     make(chan core.SessionEvent, 16),
		done:       make(chan struct{}),
	}

	pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(sid)).Str("ice_state", st.String()).Msg("ICE state")
		s.emit(core.ConnectivityChanged{State: st.String()})
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(sid)).Str("peer_connection_state", st.String()).Msg("Peer state")
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			log.Debug().Str("module", "webrtc").Str("sid", string(sid)).Str("candidate", cand.String()).Msg("local candidate")
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		s.emit(core.TrackArrived{Track: track})
	})
	return s
}

// emit blocks until the event is consumed or the session is closed.
func (s *Session) emit(ev core.SessionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) Events() <-chan core.SessionEvent { return s.events }

func (s *Session) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	return s.setLocal(ctx, offer)
}

func (s *Session) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	return s.setLocal(ctx, answer)
}

// setLocal applies the description and waits for candidate gathering, at
// most gatherWait, so the returned SDP carries the host candidates.
func (s *Session) setLocal(ctx context.Context, desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("set local %s: %w", desc.Type, err)
	}
	timer := time.NewTimer(s.gatherWait)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		log.Debug().Str("module", "webrtc").Str("sid", string(s.sid)).Msg("gathering still running, sending current candidates")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.pc.LocalDescription(), nil
}

func (s *Session) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return s.pc.SetRemoteDescription(desc)
}

func (s *Session) HasRemoteDescription() bool {
	return s.pc.RemoteDescription() != nil
}

func (s *Session) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(ci)
}

// AttachOutbound adds a local static RTP track and drains the RTCP its sender receives.
func (s *Session) AttachOutbound(codec webrtc.RTPCodecCapability, trackID, label string) (core.OutboundTrack, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(codec, trackID, label)
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return track, nil
}

func (s *Session) Close() error {
	first := false
	s.closeOnce.Do(func() {
		first = true
		// emit holds the read lock while blocked; closing done releases it.
		close(s.done)
		s.mu.Lock()
		s.closed = true
		select {
		case s.events <- core.Ended{}:
		default:
		}
		close(s.events)
		s.mu.Unlock()
	})
	if !first {
		return nil
	}
	if err := s.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("sid", string(s.sid)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("sid", string(s.sid)).Msg("closed")
	return nil
}
