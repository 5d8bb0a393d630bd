// Package recording reads raw PCM from the microphone through pw-record.
package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

var (
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrPermissionDenied  = errors.New("audio capture permission denied")
	ErrAlreadyRecording  = errors.New("already recording")
)

// startupTimeout bounds the wait for the first audio read after pw-record
// starts; start failures are reported from Start, not from the error channel.
const startupTimeout = 3 * time.Second

// overridden in tests
var (
	execCommand    = exec.CommandContext
	checkAvailable = CheckPipeWireAvailable
)

type AudioFrame struct {
	Data      []byte
	Timestamp time.Time
}

type Config struct {
	SampleRate        int
	Channels          int
	Format            string
	BufferSize        int
	Device            string
	ChannelBufferSize int
}

func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		Channels:          1,
		Format:            "s16",
		BufferSize:        3200,
		Device:            "",
		ChannelBufferSize: 30,
	}
}

type Recorder struct {
	config    Config
	logger    *log.Logger
	recording atomic.Bool

	mu     sync.Mutex // guards cmd and cancel
	cmd    *exec.Cmd
	cancel context.CancelFunc

	wg sync.WaitGroup
}

func NewRecorder(config Config) *Recorder {
	return &Recorder{config: config, logger: log.Default().With("component", "recording")}
}

func NewDefaultRecorder() *Recorder { return NewRecorder(DefaultConfig()) }

func (r *Recorder) IsRecording() bool {
	return r.recording.Load()
}

// Start launches pw-record and waits until the device delivered its first
// audio. Missing tools, unknown targets and denied access come back here as
// ErrDeviceUnavailable or ErrPermissionDenied; later failures arrive on the
// error channel. Both channels are closed when capture ends.
func (r *Recorder) Start(ctx context.Context) (<-chan AudioFrame, <-chan error, error) {
	if !r.recording.CompareAndSwap(false, true) {
		return nil, nil, ErrAlreadyRecording
	}

	frameCh, errCh, err := r.start(ctx)
	if err != nil {
		r.recording.Store(false)
		return nil, nil, err
	}
	return frameCh, errCh, nil
}

func (r *Recorder) start(ctx context.Context) (<-chan AudioFrame, <-chan error, error) {
	if err := r.validateConfig(); err != nil {
		return nil, nil, err
	}
	if err := checkAvailable(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	recordingCtx, cancel := context.WithCancel(ctx)
	cmd := execCommand(recordingCtx, "pw-record", r.buildPwRecordArgs()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	var stderr lockedBuffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, nil, classify(err, "")
	}

	first, err := r.firstRead(stdout)
	if err != nil {
		cancel()
		waitErr := cmd.Wait()
		if waitErr != nil {
			err = waitErr
		}
		return nil, nil, classify(err, stderr.String())
	}

	r.mu.Lock()
	r.cmd = cmd
	r.cancel = cancel
	r.mu.Unlock()

	frameCh := make(chan AudioFrame, r.config.ChannelBufferSize)
	errCh := make(chan error, 1)
	frameCh <- AudioFrame{Data: first, Timestamp: time.Now()}

	r.wg.Add(1)
	go r.captureLoop(recordingCtx, stdout, &stderr, frameCh, errCh)

	return frameCh, errCh, nil
}

// firstRead blocks until pw-record produced audio, exited, or the startup
// timeout passed.
func (r *Recorder) firstRead(stdout io.Reader) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, r.config.BufferSize)
		n, err := io.ReadAtLeast(stdout, buf, 1)
		ch <- result{buf[:n], err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.data, nil
	case <-time.After(startupTimeout):
		return nil, fmt.Errorf("no audio within %v", startupTimeout)
	}
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) captureLoop(ctx context.Context, stdout io.Reader, stderr *lockedBuffer, frameCh chan<- AudioFrame, errCh chan<- error) {
	defer func() {
		r.mu.Lock()
		if r.cmd != nil {
			_ = r.cmd.Wait()
			r.cmd = nil
		}
		r.cancel = nil
		r.mu.Unlock()

		close(frameCh)
		close(errCh)
		r.recording.Store(false)
		r.wg.Done()
	}()

	buffer := make([]byte, r.config.BufferSize)
	var dropped int
	lastDropLog := time.Now()

	for {
		n, readErr := stdout.Read(buffer)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buffer[:n])

			select {
			case frameCh <- AudioFrame{Data: data, Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			default:
				dropped++
				if time.Since(lastDropLog) > time.Second {
					r.logger.Warn("dropped frames due to backpressure", "count", dropped)
					lastDropLog = time.Now()
					dropped = 0
				}
			}
		}

		if readErr != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(readErr, io.EOF) {
				// pw-record exiting on its own means the device went away
				r.emitErr(errCh, classify(errors.New("capture ended"), stderr.String()))
				return
			}
			r.emitErr(errCh, fmt.Errorf("read audio: %w", readErr))
			return
		}
	}
}

func (r *Recorder) emitErr(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
	r.logger.Error("recording error", "err", err)
}

func (r *Recorder) buildPwRecordArgs() []string {
	args := []string{
		"--format", r.config.Format,
		"--rate", strconv.Itoa(r.config.SampleRate),
		"--channels", strconv.Itoa(r.config.Channels),
		"-", // stdout
	}
	if r.config.Device != "" {
		args = append(args, "--target", r.config.Device)
	}
	return args
}

// classify maps a pw-record failure onto the capture error taxonomy
func classify(err error, stderr string) error {
	msg := strings.ToLower(stderr + " " + err.Error())
	detail := strings.TrimSpace(lastLine(stderr))
	if detail == "" {
		detail = err.Error()
	}
	switch {
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "access denied"),
		strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "operation not permitted"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
	default:
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, detail)
	}
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func CheckPipeWireAvailable(ctx context.Context) error {
	if _, err := exec.LookPath("pw-record"); err != nil {
		return fmt.Errorf("pw-record not found: %w (install pipewire-tools)", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	cmd := exec.CommandContext(checkCtx, "pw-cli", "info")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("PipeWire not running or accessible: %w", err)
	}
	return nil
}

func (r *Recorder) validateConfig() error {
	if r.config.SampleRate <= 0 {
		return fmt.Errorf("invalid SampleRate: %d", r.config.SampleRate)
	}
	if r.config.Channels <= 0 {
		return fmt.Errorf("invalid Channels: %d", r.config.Channels)
	}
	if r.config.BufferSize <= 0 {
		return fmt.Errorf("invalid BufferSize: %d", r.config.BufferSize)
	}
	if r.config.ChannelBufferSize <= 0 {
		return fmt.Errorf("invalid ChannelBufferSize: %d", r.config.ChannelBufferSize)
	}
	if r.config.Format == "" {
		return fmt.Errorf("invalid Format: empty")
	}
	if r.config.Format == "s16" {
		frameBytes := 2 * r.config.Channels
		if r.config.BufferSize%frameBytes != 0 {
			r.logger.Warn("buffer size not aligned to sample frames", "buffer", r.config.BufferSize, "frame", frameBytes)
		}
	}
	return nil
}

// lockedBuffer collects pw-record's stderr for error reports
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// keep the tail only
	if b.buf.Len() > 8192 {
		b.buf.Reset()
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
