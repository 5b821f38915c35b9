package transcode

import "math"

// Resampler converts interleaved s16 PCM between sample rates and channel
// layouts with linear interpolation. State carries across calls so chunk
// boundaries do not click.
type Resampler struct {
	inRate, outRate int
	inCh, outCh     int

	step    float64
	pos     float64
	last    []int16
	hasLast bool
}

func NewResampler(inRate, inCh, outRate, outCh int) *Resampler {
	return &Resampler{
		inRate:  inRate,
		outRate: outRate,
		inCh:    inCh,
		outCh:   outCh,
		step:    float64(inRate) / float64(outRate),
		last:    make([]int16, outCh),
	}
}

func (r *Resampler) Passthrough() bool {
	return r.inRate == r.outRate && r.inCh == r.outCh
}

func (r *Resampler) Process(in []int16) []int16 {
	if r.Passthrough() {
		return in
	}
	mixed := r.remix(in)
	if r.inRate == r.outRate {
		return mixed
	}

	n := len(mixed) / r.outCh
	if n == 0 {
		return nil
	}
	if !r.hasLast {
		r.pos = 0
	}
	out := make([]int16, 0, int(float64(n)/r.step+2)*r.outCh)
	for r.pos < float64(n-1) {
		i0 := int(math.Floor(r.pos))
		frac := r.pos - float64(i0)
		for c := 0; c < r.outCh; c++ {
			var s0 int16
			if i0 < 0 {
				s0 = r.last[c]
			} else {
				s0 = mixed[i0*r.outCh+c]
			}
			s1 := mixed[(i0+1)*r.outCh+c]
			out = append(out, int16(float64(s0)+(float64(s1)-float64(s0))*frac))
		}
		r.pos += r.step
	}
	r.pos -= float64(n)
	copy(r.last, mixed[(n-1)*r.outCh:])
	r.hasLast = true
	return out
}

func (r *Resampler) remix(in []int16) []int16 {
	if r.inCh == r.outCh {
		return in
	}
	frames := len(in) / r.inCh
	out := make([]int16, frames*r.outCh)
	for f := 0; f < frames; f++ {
		src := in[f*r.inCh : (f+1)*r.inCh]
		dst := out[f*r.outCh : (f+1)*r.outCh]
		switch {
		case r.outCh == 1:
			sum := 0
			for _, s := range src {
				sum += int(s)
			}
			dst[0] = int16(sum / len(src))
		case r.inCh == 1:
			for c := range dst {
				dst[c] = src[0]
			}
		default:
			for c := range dst {
				dst[c] = src[min(c, len(src)-1)]
			}
		}
	}
	return out
}
