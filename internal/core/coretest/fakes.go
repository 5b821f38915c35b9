// Package coretest provides in-memory implementations of the core capabilities for tests.
package coretest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var OpusCodec = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	PayloadType:        111,
}

// Track is an InboundTrack fed by Push. ReadRTP returns io.EOF after End.
type Track struct {
	id     string
	kind   webrtc.RTPCodecType
	frames chan *rtp.Packet
	reads  atomic.Int64
	once   sync.Once
}

func NewTrack(id string) *Track {
	return &Track{id: id, kind: webrtc.RTPCodecTypeAudio, frames: make(chan *rtp.Packet, 1024)}
}

func NewVideoTrack(id string) *Track {
	t := NewTrack(id)
	t.kind = webrtc.RTPCodecTypeVideo
	return t
}

func (t *Track) ID() string                       { return t.id }
func (t *Track) Kind() webrtc.RTPCodecType        { return t.kind }
func (t *Track) Codec() webrtc.RTPCodecParameters { return OpusCodec }

func (t *Track) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-t.frames
	if !ok {
		return nil, nil, io.EOF
	}
	t.reads.Add(1)
	return pkt, nil, nil
}

// Push produces one frame with the given sequence number and payload.
func (t *Track) Push(seq uint16, payload []byte) {
	t.frames <- &rtp.Packet{Header: rtp.Header{SequenceNumber: seq, PayloadType: 111}, Payload: payload}
}

// End makes ReadRTP return io.EOF once the queued frames are drained.
func (t *Track) End() { t.once.Do(func() { close(t.frames) }) }

// Reads is the number of frames handed out by ReadRTP.
func (t *Track) Reads() int64 { return t.reads.Load() }

// Outbound records every packet written to it.
type Outbound struct {
	mu      sync.Mutex
	packets []*rtp.Packet
	fail    atomic.Bool
}

func (o *Outbound) WriteRTP(p *rtp.Packet) error {
	if o.fail.Load() {
		return errors.New("outbound closed")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.packets = append(o.packets, p)
	return nil
}

func (o *Outbound) Fail() { o.fail.Store(true) }

func (o *Outbound) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.packets)
}

// Session is a scripted NegotiationSession.
type Session struct {
	ID     domain.ConnectionID
	events chan core.SessionEvent

	mu         sync.Mutex
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	outbound   []*Outbound
	offers     int
	answers    int
	closed     bool
	closeCount int
	failOffer  error
}

func NewSession(id domain.ConnectionID) *Session {
	return &Session{ID: id, events: make(chan core.SessionEvent, 16)}
}

func (s *Session) Events() <-chan core.SessionEvent { return s.events }

// Emit delivers an event as the transport engine would.
func (s *Session) Emit(ev core.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

func (s *Session) FailOffers(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOffer = err
}

func (s *Session) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOffer != nil {
		return nil, s.failOffer
	}
	s.offers++
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 server-offer " + string(s.ID)}, nil
}

func (s *Session) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = &offer
	s.answers++
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 server-answer " + string(s.ID)}, nil
}

func (s *Session) SetRemoteDescription(d webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = &d
	return nil
}

func (s *Session) HasRemoteDescription() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote != nil
}

func (s *Session) AddICECandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, c)
	return nil
}

func (s *Session) AttachOutbound(codec webrtc.RTPCodecCapability, trackID, label string) (core.OutboundTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := &Outbound{}
	s.outbound = append(s.outbound, o)
	return o, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	if s.closed {
		return nil
	}
	s.closed = true
	select {
	case s.events <- core.Ended{}:
	default:
	}
	close(s.events)
	return nil
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Candidates() []webrtc.ICECandidateInit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), s.candidates...)
}

func (s *Session) Outbound() []*Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Outbound(nil), s.outbound...)
}

func (s *Session) Offers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offers
}

func (s *Session) Answers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers
}

// SessionFactory hands out Sessions and remembers them by connection.
type SessionFactory struct {
	mu       sync.Mutex
	sessions map[domain.ConnectionID]*Session
}

func NewSessionFactory() *SessionFactory {
	return &SessionFactory{sessions: make(map[domain.ConnectionID]*Session)}
}

func (f *SessionFactory) NewSession(_ context.Context, id domain.ConnectionID) (core.NegotiationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := NewSession(id)
	f.sessions[id] = s
	return s, nil
}

func (f *SessionFactory) Session(id domain.ConnectionID) (*Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	return s, ok
}

// Signal is a SignalConnection that records every frame sent to it.
type Signal struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (s *Signal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrSignalClosed
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *Signal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Signal) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Messages decodes every frame sent so far.
func (s *Signal) Messages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.frames))
	for _, f := range s.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// OfType returns the decoded messages with the given type.
func (s *Signal) OfType(t core.MessageType) []map[string]any {
	var out []map[string]any
	for _, m := range s.Messages() {
		if m["type"] == string(t) {
			out = append(out, m)
		}
	}
	return out
}
