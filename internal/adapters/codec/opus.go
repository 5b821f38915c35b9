// Package codec wires real codecs into the transcoding pipeline: libopus for
// decoding relayed frames and an ffmpeg subprocess for the HTTP bitstream.
package codec

import (
	"context"

	"github.com/dkeye/VoiceRelay/internal/app/transcode"
	"gopkg.in/hraban/opus.v2"
)

// OpusDecoder decodes one Opus packet per call into interleaved s16 PCM.
type OpusDecoder struct {
	dec *opus.Decoder
}

func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &OpusDecoder{dec: dec}, nil
}

func (d *OpusDecoder) Decode(payload []byte, pcm []int16) (int, error) {
	return d.dec.Decode(payload, pcm)
}

// Codecs builds Opus decoders and ffmpeg encoders.
type Codecs struct {
	FFmpegPath string
}

func (c Codecs) NewDecoder(sampleRate, channels int) (transcode.Decoder, error) {
	return NewOpusDecoder(sampleRate, channels)
}

func (c Codecs) NewEncoder(ctx context.Context, cfg transcode.EncoderConfig) (transcode.Encoder, error) {
	return StartFFmpeg(ctx, c.FFmpegPath, cfg)
}
