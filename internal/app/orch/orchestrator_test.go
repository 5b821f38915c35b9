package orch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/VoiceRelay/internal/app/sfu"
	"github.com/dkeye/VoiceRelay/internal/app/transcode"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/core/coretest"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/webrtc/v4"
)

type fakeTranscoder struct {
	mu      sync.Mutex
	started []domain.StreamID
	stopped []domain.StreamID
}

func (f *fakeTranscoder) Start(_ context.Context, id domain.StreamID, _ transcode.FrameSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeTranscoder) Stop(id domain.StreamID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
}

type fakeAnnouncer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeAnnouncer) StreamAvailable(id domain.StreamID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "available:"+string(id))
}

func (f *fakeAnnouncer) StreamEnded(id domain.StreamID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "ended:"+string(id))
}

type harness struct {
	t        *testing.T
	o        *Orchestrator
	sessions *coretest.SessionFactory
	factory  *failingFactory
	tc       *fakeTranscoder
	ann      *fakeAnnouncer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		sessions: coretest.NewSessionFactory(),
		tc:       &fakeTranscoder{},
		ann:      &fakeAnnouncer{},
	}
	h.factory = &failingFactory{SessionFactory: h.sessions, err: errors.New("no ice agent")}
	h.o = New(Deps{
		Sessions:   h.factory,
		Relays:     sfu.NewRelayManager(0),
		Transcoder: h.tc,
		Announcer:  h.ann,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.o.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// sync waits until every event posted so far has been handled.
func (h *harness) sync() Snapshot {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := h.o.Snapshot(ctx)
	if err != nil {
		h.t.Fatalf("snapshot: %v", err)
	}
	return s
}

func (h *harness) eventually(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.sync()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) connect() (domain.ConnectionID, *coretest.Signal) {
	sig := &coretest.Signal{}
	id := h.o.Accept(sig, "token")
	return id, sig
}

func (h *harness) session(id domain.ConnectionID) *coretest.Session {
	h.t.Helper()
	s, ok := h.sessions.Session(id)
	if !ok {
		h.t.Fatalf("no session for %s", id)
	}
	return s
}

// publish runs a sender through offer/answer and track arrival.
func (h *harness) publish() (domain.ConnectionID, *coretest.Signal, *coretest.Track) {
	h.t.Helper()
	id, sig := h.connect()
	h.o.Dispatch(id, core.Message{Type: core.MsgStartSending})
	h.o.Dispatch(id, core.Message{Type: core.MsgWebRTCOffer, Offer: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 client"}})
	h.eventually("sender answer", func() bool { return len(sig.OfType(core.MsgWebRTCAnswer)) == 1 })

	track := coretest.NewTrack("mic-" + string(id))
	h.session(id).Emit(core.TrackArrived{Track: track})
	h.eventually("stream creation", func() bool {
		return slices.Contains(h.sync().StreamIDs(), domain.StreamIDFor(id))
	})
	return id, sig, track
}

func streamsOf(m map[string]any) []string {
	var out []string
	raw, _ := m["streams"].([]any)
	for _, s := range raw {
		out = append(out, s.(string))
	}
	return out
}

func TestAccept_SendsAvailableStreams(t *testing.T) {
	h := newHarness(t)
	_, sig := h.connect()
	h.sync()

	msgs := sig.OfType(core.MsgAvailableStreams)
	if len(msgs) != 1 {
		t.Fatalf("available_streams=%v", msgs)
	}
	// An empty list must reach the client as [] rather than null.
	if streams, ok := msgs[0]["streams"].([]any); !ok || len(streams) != 0 {
		t.Fatalf("streams=%#v, want []", msgs[0]["streams"])
	}
}

func TestSenderScenario(t *testing.T) {
	h := newHarness(t)
	watcherID, watcher := h.connect()

	senderID, sender, _ := h.publish()

	ready := sender.OfType(core.MsgSenderReady)
	if len(ready) != 1 || ready[0]["connection_id"] != string(senderID) {
		t.Fatalf("sender_ready=%v", ready)
	}
	want := string(domain.StreamIDFor(senderID))
	avail := watcher.OfType(core.MsgStreamAvailable)
	if len(avail) != 1 || avail[0]["stream_id"] != want {
		t.Fatalf("stream_available=%v", avail)
	}

	h.o.Dispatch(watcherID, core.Message{Type: core.MsgGetAvailableStreams})
	h.sync()
	lists := watcher.OfType(core.MsgAvailableStreams)
	if got := streamsOf(lists[len(lists)-1]); !slices.Equal(got, []string{want}) {
		t.Fatalf("streams=%v, want [%s]", got, want)
	}

	h.tc.mu.Lock()
	started := slices.Clone(h.tc.started)
	h.tc.mu.Unlock()
	if !slices.Equal(started, []domain.StreamID{domain.StreamID(want)}) {
		t.Fatalf("transcoder started=%v", started)
	}

	snap := h.sync()
	if snap.Senders != 1 || snap.Connections != 2 {
		t.Fatalf("snapshot=%+v", snap)
	}

	h.o.Disconnect(senderID)
	h.o.Disconnect(senderID)
	h.o.Dispatch(watcherID, core.Message{Type: core.MsgGetAvailableStreams})
	h.sync()

	if ended := watcher.OfType(core.MsgStreamEnded); len(ended) != 1 || ended[0]["stream_id"] != want {
		t.Fatalf("stream_ended=%v", ended)
	}
	lists = watcher.OfType(core.MsgAvailableStreams)
	if got := streamsOf(lists[len(lists)-1]); len(got) != 0 {
		t.Fatalf("streams after disconnect=%v", got)
	}
	if !sender.IsClosed() {
		t.Fatal("sender signal should be closed")
	}
	h.eventually("sender session closed", func() bool { return h.session(senderID).Closed() })

	h.ann.mu.Lock()
	defer h.ann.mu.Unlock()
	if !slices.Equal(h.ann.calls, []string{"available:" + want, "ended:" + want}) {
		t.Fatalf("announcer=%v", h.ann.calls)
	}
}

func TestSender_SecondTrackIgnored(t *testing.T) {
	h := newHarness(t)
	senderID, _, _ := h.publish()

	h.session(senderID).Emit(core.TrackArrived{Track: coretest.NewTrack("again")})
	h.session(senderID).Emit(core.TrackArrived{Track: coretest.NewVideoTrack("cam")})
	time.Sleep(50 * time.Millisecond)

	if snap := h.sync(); len(snap.Streams) != 1 {
		t.Fatalf("streams=%v", snap.Streams)
	}
}

func TestReceiverScenario(t *testing.T) {
	h := newHarness(t)
	senderID, _, track := h.publish()

	rid, rsig := h.connect()
	h.o.Dispatch(rid, core.Message{Type: core.MsgStartReceiving})
	h.eventually("server offer", func() bool { return len(rsig.OfType(core.MsgWebRTCOffer)) == 1 })

	rs := h.session(rid)
	if rs.Offers() != 1 || len(rs.Outbound()) != 1 {
		t.Fatalf("offers=%d outbound=%d", rs.Offers(), len(rs.Outbound()))
	}
	h.o.Dispatch(rid, core.Message{Type: core.MsgWebRTCAnswer, Answer: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}})
	rs.Emit(core.ConnectivityChanged{State: "connected"})

	for i := 0; i < 5; i++ {
		track.Push(uint16(i), []byte{1})
	}
	out := rs.Outbound()[0]
	h.eventually("frames relayed to receiver", func() bool { return out.Len() == 5 })

	h.o.Visualize(domain.StreamIDFor(senderID), []int16{1, 2, 3}, 12.5)
	h.eventually("audio_data", func() bool { return len(rsig.OfType(core.MsgAudioData)) == 1 })

	if snap := h.sync(); snap.Receivers != 1 || snap.Streams[0].Subscribers != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}

	h.o.Disconnect(senderID)
	h.eventually("receiver released", func() bool { return rs.Closed() })
	if ended := rsig.OfType(core.MsgStreamEnded); len(ended) != 1 {
		t.Fatalf("stream_ended=%v", ended)
	}
}

func TestReceiver_OutboundWriteFailureReleasesReceiver(t *testing.T) {
	h := newHarness(t)
	senderID, _, track := h.publish()
	streamID := domain.StreamIDFor(senderID)

	rid, rsig := h.connect()
	h.o.Dispatch(rid, core.Message{Type: core.MsgStartReceiving})
	h.eventually("server offer", func() bool { return len(rsig.OfType(core.MsgWebRTCOffer)) == 1 })
	rs := h.session(rid)
	rs.Outbound()[0].Fail()

	track.Push(1, []byte{1})
	track.Push(2, []byte{1})

	h.eventually("receiver released", func() bool {
		snap := h.sync()
		return snap.Receivers == 0 && len(snap.Streams) == 1 && snap.Streams[0].Subscribers == 0
	})
	h.eventually("receiver session closed", rs.Closed)
	if errs := rsig.OfType(core.MsgError); len(errs) != 1 {
		t.Fatalf("errors=%v", errs)
	}
	if rsig.IsClosed() {
		t.Fatal("signaling channel should stay open")
	}

	h.o.Visualize(streamID, []int16{1}, 1)
	h.sync()
	if got := rsig.OfType(core.MsgAudioData); len(got) != 0 {
		t.Fatalf("released receiver still gets audio_data: %v", got)
	}

	// The connection can subscribe again.
	h.o.Dispatch(rid, core.Message{Type: core.MsgStartReceiving})
	h.eventually("second offer", func() bool { return len(rsig.OfType(core.MsgWebRTCOffer)) == 2 })
	if snap := h.sync(); snap.Receivers != 1 || snap.Streams[0].Subscribers != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestReceiver_NoStreamAvailable(t *testing.T) {
	h := newHarness(t)
	id, sig := h.connect()
	h.o.Dispatch(id, core.Message{Type: core.MsgStartReceiving})
	h.o.Dispatch(id, core.Message{Type: core.MsgStartReceiving, StreamID: "stream_missing"})
	h.o.Dispatch(id, core.Message{Type: core.MsgPing})
	h.sync()

	errs := sig.OfType(core.MsgError)
	if len(errs) != 2 || errs[0]["message"] != "No audio stream available" {
		t.Fatalf("errors=%v", errs)
	}
	if len(sig.OfType(core.MsgPong)) != 1 {
		t.Fatal("connection should keep working after NoStreamAvailable")
	}
	if _, ok := h.sessions.Session(id); ok {
		t.Fatal("no session should be opened")
	}
}

func TestUnknownMessageIsNotFatal(t *testing.T) {
	h := newHarness(t)
	id, sig := h.connect()
	h.o.Dispatch(id, core.Message{Type: "dance"})
	h.o.Dispatch(id, core.Message{Type: core.MsgLocalIP, IP: "192.168.1.20"})
	h.o.Dispatch(id, core.Message{Type: core.MsgPing})
	h.sync()
	if len(sig.OfType(core.MsgPong)) != 1 || sig.IsClosed() {
		t.Fatal("connection should survive unknown message types")
	}
}

func TestICECandidates(t *testing.T) {
	h := newHarness(t)
	id, _ := h.connect()
	h.o.Dispatch(id, core.Message{Type: core.MsgStartSending})
	cand := &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 192.168.1.2 5000 typ host"}

	// No remote description yet: dropped.
	h.o.Dispatch(id, core.Message{Type: core.MsgICECandidate, Candidate: cand})
	h.sync()
	sess := h.session(id)
	if len(sess.Candidates()) != 0 {
		t.Fatal("candidate before remote description must be dropped")
	}

	h.o.Dispatch(id, core.Message{Type: core.MsgWebRTCOffer, Offer: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}})
	h.eventually("remote description", sess.HasRemoteDescription)
	h.o.Dispatch(id, core.Message{Type: core.MsgICECandidate, Candidate: cand})
	h.o.Dispatch(id, core.Message{Type: core.MsgICECandidate, Candidate: nil})
	h.o.Dispatch(id, core.Message{Type: core.MsgICECandidate, Candidate: cand})
	h.sync()

	if got := len(sess.Candidates()); got != 1 {
		t.Fatalf("candidates=%d, want 1 (end-of-candidates stops the rest)", got)
	}
}

func TestConnectivityFailedTearsDown(t *testing.T) {
	h := newHarness(t)
	watcherID, watcher := h.connect()
	senderID, sender, _ := h.publish()

	h.session(senderID).Emit(core.ConnectivityChanged{State: "failed"})
	h.eventually("stream torn down", func() bool { return len(h.sync().Streams) == 0 })

	if !sender.IsClosed() {
		t.Fatal("failed connection must close its signaling channel")
	}
	h.eventually("session closed", func() bool { return h.session(senderID).Closed() })
	if len(watcher.OfType(core.MsgStreamEnded)) != 1 {
		t.Fatal("watcher should get stream_ended")
	}

	// The transport disconnects after the channel closed; no second broadcast.
	h.o.Disconnect(senderID)
	h.o.Dispatch(watcherID, core.Message{Type: core.MsgPing})
	h.sync()
	if len(watcher.OfType(core.MsgStreamEnded)) != 1 {
		t.Fatal("stream_ended must be broadcast exactly once")
	}
}

func TestUpstreamEndDestroysStream(t *testing.T) {
	h := newHarness(t)
	_, watcher := h.connect()
	senderID, _, track := h.publish()

	track.End()
	h.eventually("stream ended", func() bool { return len(watcher.OfType(core.MsgStreamEnded)) == 1 })
	if snap := h.sync(); len(snap.Streams) != 0 {
		t.Fatalf("streams=%v", snap.Streams)
	}

	h.tc.mu.Lock()
	stopped := slices.Clone(h.tc.stopped)
	h.tc.mu.Unlock()
	if !slices.Equal(stopped, []domain.StreamID{domain.StreamIDFor(senderID)}) {
		t.Fatalf("transcoder stopped=%v", stopped)
	}
}

func TestStopStreamKeepsConnection(t *testing.T) {
	h := newHarness(t)
	senderID, sender, _ := h.publish()

	h.o.Dispatch(senderID, core.Message{Type: core.MsgStopStream})
	h.o.Dispatch(senderID, core.Message{Type: core.MsgStopStream})
	snap := h.sync()
	if len(snap.Streams) != 0 || snap.Connections != 1 || snap.Senders != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if len(sender.OfType(core.MsgStreamEnded)) != 1 || sender.IsClosed() {
		t.Fatal("stop_stream should end the stream once and keep the channel")
	}

	// The connection can publish again.
	h.o.Dispatch(senderID, core.Message{Type: core.MsgStartSending})
	h.sync()
	if len(sender.OfType(core.MsgSenderReady)) != 2 {
		t.Fatal("second start_sending should be accepted")
	}
}

func TestNegotiationErrorFailsConnection(t *testing.T) {
	h := newHarness(t)
	h.publish()

	rid, rsig := h.connect()
	h.o.Dispatch(rid, core.Message{Type: core.MsgGetAvailableStreams})
	h.sync()

	// Make the next session refuse to create offers before it negotiates.
	h.factory.fail.Store(true)
	h.o.Dispatch(rid, core.Message{Type: core.MsgStartReceiving})

	h.eventually("receiver failed", rsig.IsClosed)
	if snap := h.sync(); snap.Streams[0].Subscribers != 0 {
		t.Fatalf("failed receiver must leave the stream: %+v", snap.Streams[0])
	}
}

// failingFactory hands out sessions that refuse to negotiate once fail is set.
type failingFactory struct {
	*coretest.SessionFactory
	err  error
	fail atomic.Bool
}

func (f *failingFactory) NewSession(ctx context.Context, id domain.ConnectionID) (core.NegotiationSession, error) {
	s, err := f.SessionFactory.NewSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.fail.Load() {
		s.(*coretest.Session).FailOffers(f.err)
	}
	return s, nil
}
