package codec

import (
	"context"
	"math"
	"os/exec"
	"testing"

	"github.com/dkeye/VoiceRelay/internal/app/transcode"
	"gopkg.in/hraban/opus.v2"
)

func sine(frames, channels int) []int16 {
	pcm := make([]int16, frames*channels)
	for i := 0; i < frames; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/48000))
		for c := 0; c < channels; c++ {
			pcm[i*channels+c] = v
		}
	}
	return pcm
}

func TestOpusDecoder_RoundTrip(t *testing.T) {
	enc, err := opus.NewEncoder(48000, 2, opus.AppAudio)
	if err != nil {
		t.Fatal(err)
	}
	packet := make([]byte, 1500)
	n, err := enc.Encode(sine(960, 2), packet)
	if err != nil {
		t.Fatal(err)
	}

	dec, err := NewOpusDecoder(48000, 2)
	if err != nil {
		t.Fatal(err)
	}
	pcm := make([]int16, 5760*2)
	samples, err := dec.Decode(packet[:n], pcm)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if samples != 960 {
		t.Fatalf("samples=%d, want 960", samples)
	}

	if _, err := dec.Decode([]byte{0xff, 0xff, 0xff}, pcm); err == nil {
		t.Fatal("garbage should not decode")
	}
}

func TestFFmpegEncoder_ProducesMP3(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	f, _ := transcode.LookupFormat("mp3")
	enc, err := Codecs{}.NewEncoder(context.Background(), transcode.EncoderConfig{
		Format:      f,
		BitrateKbps: 64,
		SampleRate:  48000,
		Channels:    2,
	})
	if err != nil {
		t.Fatal(err)
	}

	var out []byte
	for i := 0; i < 100; i++ {
		data, err := enc.Encode(sine(960, 2))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		out = append(out, data...)
	}
	tail, err := enc.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	out = append(out, tail...)

	if len(out) < 1000 {
		t.Fatalf("encoded %d bytes for 2 s of audio", len(out))
	}
	// MPEG audio frame sync or an ID3 tag.
	if !(out[0] == 0xff && out[1]&0xe0 == 0xe0) && string(out[:3]) != "ID3" {
		t.Fatalf("not an mp3 stream: % x", out[:4])
	}
}
