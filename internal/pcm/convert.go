package pcm

import (
	"encoding/binary"
	"time"
)

// Recognition format: 16 kHz, mono, signed 16-bit little endian.
const (
	TargetRate     = 16000
	BytesPerSample = 2
)

// FrameBytes returns the size of a mono s16le frame of duration d at rate.
func FrameBytes(rate int, d time.Duration) int {
	samples := int(int64(rate) * int64(d) / int64(time.Second))
	return samples * BytesPerSample
}

// Samples decodes s16le bytes. A trailing odd byte is ignored.
func Samples(data []byte) []int16 {
	out := make([]int16, len(data)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// Bytes encodes samples as s16le.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Downmix averages interleaved channels into mono.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Resampler converts a mono stream between rates by linear interpolation.
// It keeps the fractional read position and the last input sample across
// calls, so consecutive buffers join without clicks.
type Resampler struct {
	from, to int
	pos      float64
	last     int16
	primed   bool
}

func NewResampler(from, to int) *Resampler {
	return &Resampler{from: from, to: to}
}

// Process resamples one buffer of mono samples.
func (r *Resampler) Process(in []int16) []int16 {
	if r.from == r.to || len(in) == 0 {
		return in
	}

	// index -1 refers to the last sample of the previous buffer
	at := func(i int) float64 {
		if i < 0 {
			return float64(r.last)
		}
		return float64(in[i])
	}

	step := float64(r.from) / float64(r.to)
	if !r.primed {
		r.last = in[0]
		r.primed = true
	}

	out := make([]int16, 0, int(float64(len(in))/step)+1)
	for r.pos < float64(len(in)-1) {
		i := int(r.pos)
		if r.pos < 0 {
			i = -1
		}
		frac := r.pos - float64(i)
		v := at(i) + (at(i+1)-at(i))*frac
		out = append(out, int16(v))
		r.pos += step
	}

	r.pos -= float64(len(in))
	r.last = in[len(in)-1]
	return out
}
