package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-audio/wav"
	"github.com/leonardotrapani/speechrelay/internal/pcm"
	"github.com/leonardotrapani/speechrelay/internal/recording"
	"github.com/leonardotrapani/speechrelay/internal/testutil"
)

type fakeSource struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
	frames   chan recording.AudioFrame
	errs     chan error
	closed   bool
}

func newFakeSource() *fakeSource { return &fakeSource{} }

func (s *fakeSource) Start(ctx context.Context) (<-chan recording.AudioFrame, <-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startErr != nil {
		return nil, nil, s.startErr
	}
	s.frames = make(chan recording.AudioFrame, 64)
	s.errs = make(chan error, 1)
	s.closed = false
	return s.frames, s.errs, nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.frames != nil && !s.closed {
		s.closed = true
		close(s.frames)
		close(s.errs)
	}
	return nil
}

func (s *fakeSource) push(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.frames <- recording.AudioFrame{Data: data, Timestamp: time.Now()}
	}
}

// fail reports a device error and closes the channels like the recorder does
func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.errs <- err
	s.closed = true
	close(s.frames)
	close(s.errs)
}

// pending is the number of reads the adapter has not taken yet
func (s *fakeSource) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSource) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

type fakeTransport struct {
	mu       sync.Mutex
	started  []string
	ended    int
	frames   [][]byte
	startErr error
	sendErr  error
	done     chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{})}
}

func (t *fakeTransport) StartSession(ctx context.Context, hint string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return t.startErr
	}
	t.started = append(t.started, hint)
	return nil
}

func (t *fakeTransport) SendFrame(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.frames = append(t.frames, frame)
	return nil
}

func (t *fakeTransport) EndSession() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended++
	return nil
}

func (t *fakeTransport) Done() <-chan struct{} { return t.done }

func (t *fakeTransport) Frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.frames...)
}

func (t *fakeTransport) Ended() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func newAdapter(cfg Config, src Source, tr Transport) *Adapter {
	return New(cfg, src, tr, log.New(io.Discard))
}

func TestStartStopMonoPassthrough(t *testing.T) {
	src, tr := newFakeSource(), newFakeTransport()
	a := newAdapter(DefaultConfig(), src, tr)

	if err := a.Start(context.Background(), "en-US"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(context.Background(), "en-US"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v", err)
	}

	// 250ms of audio in uneven reads: two full 100ms frames plus a tail
	for seq := uint32(0); seq < 5; seq++ {
		src.push(testutil.PCMFrame(seq, 1600))
	}
	testutil.WaitForCondition(t, func() bool { return len(tr.Frames()) == 2 && src.pending() == 0 }, time.Second)

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	frames := tr.Frames()
	if len(frames) != 3 {
		t.Fatalf("sent %d frames, want 2 full plus the padded tail", len(frames))
	}
	for i, f := range frames {
		if len(f) != 3200 {
			t.Errorf("frame %d is %d bytes, want 3200", i, len(f))
		}
	}
	// the first frame starts with the first device read
	if got := testutil.FrameSeq(frames[0]); got != 0 {
		t.Errorf("first frame seq = %d", got)
	}
	if got := testutil.FrameSeq(frames[0][1600:]); got != 1 {
		t.Errorf("second read seq = %d", got)
	}

	if starts, stops := src.counts(); starts != 1 || stops < 1 {
		t.Errorf("device starts=%d stops=%d", starts, stops)
	}
	if tr.Ended() != 1 {
		t.Errorf("EndSession called %d times", tr.Ended())
	}
	if a.Running() {
		t.Error("still running after Stop")
	}
	if err := a.Stop(); err != nil {
		t.Errorf("Stop when idle = %v", err)
	}
	if tr.Ended() != 1 {
		t.Errorf("idle Stop ended the session again")
	}
}

func TestDeviceErrorReturnedBeforeSession(t *testing.T) {
	for _, want := range []error{recording.ErrDeviceUnavailable, recording.ErrPermissionDenied} {
		src, tr := newFakeSource(), newFakeTransport()
		src.startErr = want
		a := newAdapter(DefaultConfig(), src, tr)

		if err := a.Start(context.Background(), ""); !errors.Is(err, want) {
			t.Errorf("Start = %v, want %v", err, want)
		}
		if len(tr.started) != 0 {
			t.Errorf("session requested despite device error")
		}
		if a.Running() {
			t.Error("running after failed start")
		}
	}
}

func TestSessionRefusedReleasesDevice(t *testing.T) {
	src, tr := newFakeSource(), newFakeTransport()
	tr.startErr = errors.New("backend_unavailable")
	a := newAdapter(DefaultConfig(), src, tr)

	if err := a.Start(context.Background(), ""); err == nil {
		t.Fatal("Start succeeded without a session")
	}
	if starts, stops := src.counts(); starts != 1 || stops != 1 {
		t.Errorf("device starts=%d stops=%d, want 1/1", starts, stops)
	}
}

func TestDeviceLostMidCapture(t *testing.T) {
	src, tr := newFakeSource(), newFakeTransport()
	a := newAdapter(DefaultConfig(), src, tr)
	if err := a.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	src.fail(recording.ErrDeviceUnavailable)

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("adapter did not notice the device failure")
	}
	if !errors.Is(a.Err(), recording.ErrDeviceUnavailable) {
		t.Errorf("Err = %v", a.Err())
	}
	if tr.Ended() != 1 {
		t.Errorf("session not ended after device loss")
	}
}

func TestTransportDisconnectReleasesDevice(t *testing.T) {
	src, tr := newFakeSource(), newFakeTransport()
	a := newAdapter(DefaultConfig(), src, tr)
	if err := a.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	close(tr.done)

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("adapter kept running after disconnect")
	}
	if !errors.Is(a.Err(), ErrDisconnected) {
		t.Errorf("Err = %v", a.Err())
	}
	if _, stops := src.counts(); stops < 1 {
		t.Error("device not released")
	}
	if tr.Ended() != 0 {
		t.Error("EndSession sent on a dead connection")
	}
}

func TestSendFailureStops(t *testing.T) {
	src, tr := newFakeSource(), newFakeTransport()
	tr.sendErr = errors.New("broken pipe")
	a := newAdapter(DefaultConfig(), src, tr)
	if err := a.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	src.push(make([]byte, 3200))

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("adapter kept running after send failure")
	}
	if !errors.Is(a.Err(), ErrDisconnected) {
		t.Errorf("Err = %v", a.Err())
	}
}

func TestStereoDownsample(t *testing.T) {
	cfg := Config{SourceRate: 48000, SourceChannels: 2, FrameDuration: 100 * time.Millisecond}
	src, tr := newFakeSource(), newFakeTransport()
	a := newAdapter(cfg, src, tr)
	if err := a.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	// one second of 48kHz stereo in 100ms reads, split off-sample to
	// exercise the carry
	second := make([]byte, 48000*2*2)
	for i := 0; i < len(second); i += 19201 {
		end := min(i+19201, len(second))
		src.push(second[i:end])
	}
	testutil.WaitForCondition(t, func() bool { return len(tr.Frames()) >= 9 && src.pending() == 0 }, time.Second)
	if err := a.Stop(); err != nil {
		t.Fatal(err)
	}

	frames := tr.Frames()
	// 16000 samples of output give 10 frames of 1600 samples, give or take
	// the resampler's edge sample and the padded tail
	if len(frames) < 10 || len(frames) > 11 {
		t.Errorf("got %d frames, want about 10", len(frames))
	}
	for i, f := range frames {
		if len(f) != 3200 {
			t.Errorf("frame %d is %d bytes", i, len(f))
		}
	}
}

func TestWAVCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent.wav")
	cfg := DefaultConfig()
	cfg.RecordWAV = path

	src, tr := newFakeSource(), newFakeTransport()
	a := newAdapter(cfg, src, tr)
	if err := a.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		src.push(pcm.Bytes(make([]int16, 1600)))
	}
	testutil.WaitForCondition(t, func() bool { return len(tr.Frames()) == 3 }, time.Second)
	if err := a.Stop(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("not a valid wav file")
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("format = %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("read pcm: %v", err)
	}
	if got := len(buf.Data); got != 3*1600 {
		t.Errorf("wav holds %d samples, want %d", got, 3*1600)
	}
}

func TestFrameSize(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{100 * time.Millisecond, 3200},
		{20 * time.Millisecond, 640},
		{time.Second, 32000},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.FrameDuration = tt.d
		if got := cfg.FrameSize(); got != tt.want {
			t.Errorf("FrameSize(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}
