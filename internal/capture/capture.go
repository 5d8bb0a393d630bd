// Package capture turns microphone audio into the fixed 16 kHz mono frames
// the relay expects and streams them over a session transport.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/leonardotrapani/speechrelay/internal/pcm"
	"github.com/leonardotrapani/speechrelay/internal/recording"
)

var (
	ErrAlreadyRunning = errors.New("capture already running")
	ErrDisconnected   = errors.New("transport disconnected")
)

// Source is an audio device; *recording.Recorder implements it.
type Source interface {
	Start(ctx context.Context) (<-chan recording.AudioFrame, <-chan error, error)
	Stop() error
}

// Transport carries one recognition session to the relay.
type Transport interface {
	StartSession(ctx context.Context, languageHint string) error
	SendFrame(frame []byte) error
	EndSession() error
	// Done is closed when the connection is gone
	Done() <-chan struct{}
}

type Config struct {
	SourceRate     int
	SourceChannels int
	TargetRate     int
	FrameDuration  time.Duration
	// RecordWAV, when set, keeps a copy of the sent audio at this path
	RecordWAV string
}

func DefaultConfig() Config {
	return Config{
		SourceRate:     16000,
		SourceChannels: 1,
		TargetRate:     pcm.TargetRate,
		FrameDuration:  100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SourceRate <= 0 {
		c.SourceRate = d.SourceRate
	}
	if c.SourceChannels <= 0 {
		c.SourceChannels = d.SourceChannels
	}
	if c.TargetRate <= 0 {
		c.TargetRate = d.TargetRate
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = d.FrameDuration
	}
	return c
}

// FrameSize is the byte size of every frame sent to the relay
func (c Config) FrameSize() int {
	return pcm.FrameBytes(c.TargetRate, c.FrameDuration)
}

// Adapter owns the device between Start and Stop. It asks the source for the
// device once per Start and releases it when stopped, when the device fails
// or when the transport disconnects.
type Adapter struct {
	cfg       Config
	source    Source
	transport Transport
	logger    *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	endErr  error
	sent    int
}

func New(cfg Config, source Source, transport Transport, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	done := make(chan struct{})
	close(done)
	return &Adapter{
		cfg:       cfg.withDefaults(),
		source:    source,
		transport: transport,
		logger:    logger.With("component", "capture"),
		done:      done,
	}
}

// Start opens the device and then the relay session. Device errors
// (recording.ErrDeviceUnavailable, recording.ErrPermissionDenied) are
// returned before any session is requested.
func (a *Adapter) Start(ctx context.Context, languageHint string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	frames, errs, err := a.source.Start(runCtx)
	if err != nil {
		cancel()
		return err
	}

	if err := a.transport.StartSession(ctx, languageHint); err != nil {
		cancel()
		_ = a.source.Stop()
		drain(frames, errs)
		return fmt.Errorf("start session: %w", err)
	}

	var tee *wavTee
	if a.cfg.RecordWAV != "" {
		tee, err = openWAV(a.cfg.RecordWAV, a.cfg.TargetRate)
		if err != nil {
			a.logger.Warn("wav copy disabled", "path", a.cfg.RecordWAV, "err", err)
		}
	}

	a.running = true
	a.cancel = cancel
	a.done = make(chan struct{})
	a.err = nil
	a.endErr = nil
	a.sent = 0

	go a.pump(runCtx, frames, errs, tee, a.done)

	a.logger.Info("capture started", "frame_bytes", a.cfg.FrameSize(), "source_rate", a.cfg.SourceRate, "source_channels", a.cfg.SourceChannels)
	return nil
}

// Stop releases the device and waits for the session to be ended. Calling
// it when idle is a no-op.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	cancel()
	<-done

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endErr
}

// Done is closed once capture ended for any reason
func (a *Adapter) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Err reports why capture ended on its own: a device failure or
// ErrDisconnected. It is nil after a plain Stop.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Running reports whether the device is held
func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// FramesSent counts frames handed to the transport since the last Start
func (a *Adapter) FramesSent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent
}

func (a *Adapter) pump(ctx context.Context, frames <-chan recording.AudioFrame, errs <-chan error, tee *wavTee, done chan struct{}) {
	conv := newConverter(a.cfg)
	var exitErr error

	defer func() {
		_ = a.source.Stop()
		drain(frames, errs)
		if tee != nil {
			if err := tee.close(); err != nil {
				a.logger.Warn("close wav copy", "err", err)
			}
		}

		var endErr error
		if !errors.Is(exitErr, ErrDisconnected) {
			endErr = a.transport.EndSession()
		}

		a.mu.Lock()
		a.running = false
		a.err = exitErr
		a.endErr = endErr
		a.mu.Unlock()
		close(done)
	}()

	send := func(frame []byte) bool {
		if err := a.transport.SendFrame(frame); err != nil {
			a.logger.Warn("send frame failed", "err", err)
			exitErr = fmt.Errorf("%w: %v", ErrDisconnected, err)
			return false
		}
		a.mu.Lock()
		a.sent++
		a.mu.Unlock()
		if tee != nil {
			if err := tee.write(frame); err != nil {
				a.logger.Warn("wav copy failed, disabling", "err", err)
				_ = tee.close()
				tee = nil
			}
		}
		return true
	}

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				// the device closed; its error, if any, is pending on errs
				if errs != nil {
					if err, ok := <-errs; ok && err != nil {
						exitErr = err
					}
				}
				return
			}
			for _, frame := range conv.process(f.Data) {
				if !send(frame) {
					return
				}
			}

		case err, ok := <-errs:
			if ok && err != nil {
				a.logger.Error("capture device failed", "err", err)
				exitErr = err
				return
			}
			errs = nil

		case <-a.transport.Done():
			a.logger.Warn("relay connection lost, releasing device")
			exitErr = ErrDisconnected
			return

		case <-ctx.Done():
			// send the partial tail so the last words reach the relay
			if tail := conv.flush(); tail != nil {
				send(tail)
			}
			return
		}
	}
}

func drain(frames <-chan recording.AudioFrame, errs <-chan error) {
	go func() {
		for range frames {
		}
		for range errs {
		}
	}()
}

// converter downmixes and resamples device audio and cuts it into frames
type converter struct {
	channels  int
	resampler *pcm.Resampler
	chunker   *pcm.Chunker
	carry     []byte
}

func newConverter(cfg Config) *converter {
	c := &converter{
		channels: cfg.SourceChannels,
		chunker:  pcm.NewChunker(cfg.FrameSize()),
	}
	if cfg.SourceRate != cfg.TargetRate {
		c.resampler = pcm.NewResampler(cfg.SourceRate, cfg.TargetRate)
	}
	return c
}

func (c *converter) process(data []byte) [][]byte {
	// device reads may split a sample frame; keep the remainder for next time
	data = append(c.carry, data...)
	align := pcm.BytesPerSample * c.channels
	whole := len(data) - len(data)%align
	c.carry = append([]byte(nil), data[whole:]...)
	data = data[:whole]

	if c.channels == 1 && c.resampler == nil {
		return c.chunker.Write(data)
	}

	samples := pcm.Downmix(pcm.Samples(data), c.channels)
	if c.resampler != nil {
		samples = c.resampler.Process(samples)
	}
	return c.chunker.Write(pcm.Bytes(samples))
}

func (c *converter) flush() []byte {
	return c.chunker.Flush()
}
