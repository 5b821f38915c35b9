package rtc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/pion/webrtc/v4"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(config.WebRTCConfig{GatherWait: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return f
}

var opusCap = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}

func TestSession_OfferAnswer(t *testing.T) {
	f := newTestFactory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, err := f.NewSession(ctx, "server")
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	client, err := f.NewSession(ctx, "client")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if _, err := server.AttachOutbound(opusCap, "audio", "stream_x"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	offer, err := server.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || !strings.Contains(offer.SDP, "m=audio") {
		t.Fatalf("offer=%v", offer)
	}

	answer, err := client.AcceptOffer(ctx, *offer)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !client.HasRemoteDescription() || server.HasRemoteDescription() {
		t.Fatal("remote descriptions out of step")
	}
	if err := server.SetRemoteDescription(*answer); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if !server.HasRemoteDescription() {
		t.Fatal("server should have the answer")
	}
}

func TestSession_CloseIsIdempotentAndEndsEvents(t *testing.T) {
	f := newTestFactory(t)
	s, err := f.NewSession(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	var sawEnded bool
	for ev := range s.Events() {
		if _, ok := ev.(core.Ended); ok {
			sawEnded = true
		}
	}
	if !sawEnded {
		t.Fatal("Ended not delivered")
	}
}

func TestNewFactory_BadPortRange(t *testing.T) {
	if _, err := NewFactory(config.WebRTCConfig{PortMin: 6000, PortMax: 5000}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoggerFactory(t *testing.T) {
	l := LoggerFactory{}.NewLogger("ice")
	l.Debugf("candidate %d", 1)
	l.Warn("careful")
}
