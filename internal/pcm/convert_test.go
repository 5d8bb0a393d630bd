package pcm

import (
	"testing"
	"time"
)

func TestFrameBytes(t *testing.T) {
	tests := []struct {
		rate int
		d    time.Duration
		want int
	}{
		{16000, 100 * time.Millisecond, 3200},
		{16000, 20 * time.Millisecond, 640},
		{48000, 10 * time.Millisecond, 960},
	}
	for _, tt := range tests {
		if got := FrameBytes(tt.rate, tt.d); got != tt.want {
			t.Errorf("FrameBytes(%d, %v) = %d, want %d", tt.rate, tt.d, got, tt.want)
		}
	}
}

func TestSamplesBytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	out := Samples(Bytes(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestDownmix(t *testing.T) {
	stereo := []int16{100, 200, -50, 50, 1000, 0}
	got := Downmix(stereo, 2)
	want := []int16{150, 0, 500}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}

	mono := []int16{1, 2, 3}
	if got := Downmix(mono, 1); len(got) != 3 {
		t.Errorf("Downmix mono changed length to %d", len(got))
	}
}

func TestResamplerRatio(t *testing.T) {
	r := NewResampler(48000, 16000)
	in := make([]int16, 4800)
	total := 0
	for i := 0; i < 10; i++ {
		total += len(r.Process(in))
	}
	// 10 x 100ms at 48k should give about 1s at 16k
	if total < 15990 || total > 16010 {
		t.Errorf("resampled %d samples, want ~16000", total)
	}
}

func TestResamplerPassThrough(t *testing.T) {
	r := NewResampler(16000, 16000)
	in := []int16{1, 2, 3}
	if got := r.Process(in); len(got) != 3 || got[2] != 3 {
		t.Errorf("Process() = %v, want input unchanged", got)
	}
}

func TestResamplerInterpolates(t *testing.T) {
	r := NewResampler(8000, 16000)
	got := r.Process([]int16{0, 100, 200})
	want := []int16{0, 50, 100, 150}
	if len(got) != len(want) {
		t.Fatalf("Process() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}
