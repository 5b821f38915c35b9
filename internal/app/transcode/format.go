package transcode

import (
	"fmt"
	"strconv"
)

// Format describes one HTTP bitstream and how ffmpeg produces it.
type Format struct {
	Name        string
	Ext         string
	ContentType string
	Encoder     string // ffmpeg -c:a
	Muxer       string // ffmpeg -f
	// SampleRate is forced by the codec when non zero.
	SampleRate int
}

var formats = map[string]Format{
	"mp3":  {Name: "mp3", Ext: "mp3", ContentType: "audio/mpeg", Encoder: "libmp3lame", Muxer: "mp3"},
	"aac":  {Name: "aac", Ext: "aac", ContentType: "audio/aac", Encoder: "aac", Muxer: "adts"},
	"opus": {Name: "opus", Ext: "ogg", ContentType: "audio/ogg", Encoder: "libopus", Muxer: "ogg", SampleRate: 48000},
}

func LookupFormat(name string) (Format, error) {
	f, ok := formats[name]
	if !ok {
		return Format{}, fmt.Errorf("unknown stream format %q", name)
	}
	return f, nil
}

// FFmpegArgs reads interleaved s16le PCM on stdin and writes the bitstream on stdout.
func (f Format) FFmpegArgs(bitrateKbps, sampleRate, channels int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
		"-c:a", f.Encoder,
		"-b:a", strconv.Itoa(bitrateKbps) + "k",
		"-flush_packets", "1",
		"-f", f.Muxer,
		"pipe:1",
	}
}
