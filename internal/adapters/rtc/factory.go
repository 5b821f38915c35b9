package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Factory opens LAN-only sessions: no STUN or TURN servers, host candidates only.
type Factory struct {
	api        *webrtc.API
	gatherWait time.Duration
}

func NewFactory(cfg config.WebRTCConfig) (*Factory, error) {
	se := webrtc.SettingEngine{}
	se.LoggerFactory = LoggerFactory{}
	if cfg.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	if len(cfg.NAT1To1IPs) > 0 {
		se.SetNAT1To1IPs(cfg.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	gatherWait := cfg.GatherWait
	if gatherWait <= 0 {
		gatherWait = 500 * time.Millisecond
	}

	log.Info().
		Str("module", "webrtc").
		Uint16("port_min", cfg.PortMin).
		Uint16("port_max", cfg.PortMax).
		Strs("nat_1to1_ips", cfg.NAT1To1IPs).
		Dur("gather_wait", gatherWait).
		Msg("webrtc api ready")

	return &Factory{
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)),
		gatherWait: gatherWait,
	}, nil
}

func (f *Factory) NewSession(_ context.Context, sid domain.ConnectionID) (core.NegotiationSession, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newSession(pc, sid, f.gatherWait), nil
}
