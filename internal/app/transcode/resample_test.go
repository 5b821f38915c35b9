package transcode

import (
	"slices"
	"testing"
)

func TestResampler_Passthrough(t *testing.T) {
	r := NewResampler(48000, 2, 48000, 2)
	in := []int16{1, 2, 3, 4}
	if got := r.Process(in); !slices.Equal(got, in) {
		t.Fatalf("got %v", got)
	}
}

func TestResampler_StereoToMono(t *testing.T) {
	r := NewResampler(48000, 2, 48000, 1)
	got := r.Process([]int16{10, 20, -4, 4})
	if !slices.Equal(got, []int16{15, 0}) {
		t.Fatalf("got %v", got)
	}
}

func TestResampler_DownsampleKeepsRate(t *testing.T) {
	r := NewResampler(48000, 1, 24000, 1)
	total := 0
	for chunk := 0; chunk < 10; chunk++ {
		in := make([]int16, 960)
		for i := range in {
			in[i] = int16(chunk*960 + i)
		}
		out := r.Process(in)
		total += len(out)
		for i := 1; i < len(out); i++ {
			if out[i] <= out[i-1] {
				t.Fatalf("chunk %d not monotonic at %d: %v", chunk, i, out[i-1:i+1])
			}
		}
	}
	if total < 4790 || total > 4810 {
		t.Fatalf("total=%d, want about 4800", total)
	}
}

func TestResampler_UpsampleInterpolates(t *testing.T) {
	r := NewResampler(24000, 1, 48000, 1)
	out := r.Process([]int16{0, 100, 200})
	if !slices.Equal(out, []int16{0, 50, 100, 150}) {
		t.Fatalf("got %v", out)
	}
}
