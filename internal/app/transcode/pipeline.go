// Package transcode turns relayed Opus frames into a compressed HTTP bitstream.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// FrameSource is a relay subscription.
type FrameSource interface {
	Next(ctx context.Context, timeout time.Duration) (*rtp.Packet, error)
}

// Decoder turns one Opus payload into interleaved s16 PCM and returns the
// number of samples per channel.
type Decoder interface {
	Decode(payload []byte, pcm []int16) (int, error)
}

// Encoder consumes interleaved s16 PCM. Encode returns whatever encoded bytes
// became available; Close flushes the rest.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
	Close() ([]byte, error)
}

type EncoderConfig struct {
	Format      Format
	BitrateKbps int
	SampleRate  int
	Channels    int
}

// Codecs builds the per-stream decoder and encoder.
type Codecs interface {
	NewDecoder(sampleRate, channels int) (Decoder, error)
	NewEncoder(ctx context.Context, cfg EncoderConfig) (Encoder, error)
}

// Visualizer receives a coarse sample of the decoded audio.
type Visualizer func(streamID domain.StreamID, samples []int16, timestamp float64)

const (
	// DecodeRate and DecodeChannels are what the Opus decoder produces.
	DecodeRate     = 48000
	DecodeChannels = 2
	// 120 ms is the longest Opus frame.
	maxFrameSamples = DecodeRate * 120 / 1000
	visStride       = 100
)

type pipeline struct {
	streamID     domain.StreamID
	src          FrameSource
	dec          Decoder
	enc          Encoder
	resampler    *Resampler
	buf          *Buffer
	frameTimeout time.Duration
	visEvery     int
	vis          Visualizer
	now          func() time.Time
	logger       zerolog.Logger
}

// run returns nil when the upstream ended or ctx was cancelled, and an
// ErrEncodeFailure otherwise.
func (p *pipeline) run(ctx context.Context) error {
	pcm := make([]int16, maxFrameSamples*DecodeChannels)
	frames := 0
	for {
		pkt, err := p.src.Next(ctx, p.frameTimeout)
		switch {
		case errors.Is(err, domain.ErrFrameTimeout):
			p.logger.Debug().Dur("timeout", p.frameTimeout).Msg("no frame received, waiting")
			continue
		case errors.Is(err, domain.ErrUpstreamEnded), ctx.Err() != nil:
			p.flush()
			return nil
		case err != nil:
			return fmt.Errorf("%w: read frame: %v", domain.ErrEncodeFailure, err)
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		n, err := p.dec.Decode(pkt.Payload, pcm)
		if err != nil {
			return fmt.Errorf("%w: decode: %v", domain.ErrEncodeFailure, err)
		}
		decoded := pcm[:n*DecodeChannels]

		frames++
		if p.vis != nil && p.visEvery > 0 && frames%p.visEvery == 0 {
			p.vis(p.streamID, downsample(decoded, visStride), float64(p.now().UnixMilli())/1000)
		}

		data, err := p.enc.Encode(p.resampler.Process(decoded))
		if err != nil {
			return fmt.Errorf("%w: encode: %v", domain.ErrEncodeFailure, err)
		}
		p.buf.Write(data)
	}
}

func (p *pipeline) flush() {
	tail, err := p.enc.Close()
	if err != nil {
		p.logger.Warn().Err(err).Msg("encoder flush failed")
	}
	p.buf.Write(tail)
}

func downsample(pcm []int16, stride int) []int16 {
	out := make([]int16, 0, len(pcm)/stride+1)
	for i := 0; i < len(pcm); i += stride {
		out = append(out, pcm[i])
	}
	return out
}
