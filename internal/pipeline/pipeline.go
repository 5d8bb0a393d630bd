// Package pipeline runs one listening session from the capturing side:
// microphone to relay, transcripts back to the terminal.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/leonardotrapani/speechrelay/internal/capture"
	"github.com/leonardotrapani/speechrelay/internal/client"
	"github.com/leonardotrapani/speechrelay/internal/notify"
	"github.com/leonardotrapani/speechrelay/internal/protocol"
	"github.com/muesli/termenv"
)

type Status string

const (
	Idle       Status = "idle"
	Connecting Status = "connecting"
	Listening  Status = "listening"
	Stopping   Status = "stopping"
)

const defaultStopTimeout = 3 * time.Second

// Conn is the relay connection a pipeline drives. *client.Client implements
// it.
type Conn interface {
	capture.Transport
	Events() <-chan protocol.Message
	Close() error
}

type Dialer func(ctx context.Context) (Conn, error)

// DialRelay returns a Dialer for a relay websocket URL.
func DialRelay(url string, logger *log.Logger) Dialer {
	return func(ctx context.Context) (Conn, error) {
		return client.Dial(ctx, url, logger)
	}
}

type Options struct {
	Dial         Dialer
	Source       capture.Source
	Capture      capture.Config
	LanguageHint string
	Notifier     notify.Notifier
	// Out receives transcripts. Interim results are only shown when Out is
	// a terminal.
	Out    io.Writer
	Logger *log.Logger
	// StopTimeout bounds the wait for session_stopped after capture ends
	StopTimeout time.Duration
}

type Pipeline struct {
	opts    Options
	logger  *log.Logger
	printer *printer
	status  atomic.Value

	mu      sync.Mutex
	finals  []string
	stopped string
	remote  error
}

func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	p := &Pipeline{
		opts:    opts,
		logger:  opts.Logger.With("component", "pipeline"),
		printer: newPrinter(opts.Out),
	}
	p.status.Store(Idle)
	return p
}

func (p *Pipeline) Status() Status {
	return p.status.Load().(Status)
}

// Transcript joins the final results received so far.
func (p *Pipeline) Transcript() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.finals, " ")
}

// StopReason is the reason from the relay's session_stopped, "" until one
// arrived.
func (p *Pipeline) StopReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Run listens until ctx ends, the relay stops the session or capture fails.
// Cancelling ctx is the normal way to stop and returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	p.status.Store(Connecting)
	defer p.status.Store(Idle)

	conn, err := p.opts.Dial(ctx)
	if err != nil {
		p.opts.Notifier.Error("cannot reach relay")
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	adapter := capture.New(p.opts.Capture, p.opts.Source, conn, p.logger)
	if err := adapter.Start(ctx, p.opts.LanguageHint); err != nil {
		p.opts.Notifier.Error(err.Error())
		return err
	}
	p.status.Store(Listening)

	events := conn.Events()
	for {
		select {
		case m, ok := <-events:
			if !ok {
				_ = adapter.Stop()
				p.printer.done()
				if err := adapter.Err(); err != nil {
					return err
				}
				return capture.ErrDisconnected
			}
			if p.handle(m) {
				p.status.Store(Stopping)
				_ = adapter.Stop()
				p.printer.done()
				// a device failure can race its own session_stopped here
				if err := adapter.Err(); err != nil {
					return err
				}
				return p.remoteErr()
			}

		case <-adapter.Done():
			p.status.Store(Stopping)
			capErr := adapter.Err()
			if capErr != nil {
				p.logger.Error("capture ended", "err", capErr)
				p.opts.Notifier.Error(capErr.Error())
			}
			p.await(events)
			p.printer.done()
			return capErr

		case <-ctx.Done():
			p.status.Store(Stopping)
			if err := adapter.Stop(); err != nil {
				p.logger.Debug("end session", "err", err)
			}
			p.await(events)
			p.printer.done()
			return nil
		}
	}
}

// await drains events until the session is reported stopped, so finals
// produced while the relay finalizes still get printed.
func (p *Pipeline) await(events <-chan protocol.Message) {
	timeout := time.NewTimer(p.opts.StopTimeout)
	defer timeout.Stop()
	for {
		select {
		case m, ok := <-events:
			if !ok || p.handle(m) {
				return
			}
		case <-timeout.C:
			p.logger.Debug("no session_stopped before timeout")
			return
		}
	}
}

// handle reports whether m ended the session
func (p *Pipeline) handle(m protocol.Message) bool {
	switch m := m.(type) {
	case *protocol.SessionStarted:
		p.logger.Info("listening", "session_id", m.SessionID, "language", m.Language)
		p.opts.Notifier.SessionStarted(m.SessionID, m.Language)

	case *protocol.Transcript:
		if m.IsFinal {
			p.mu.Lock()
			p.finals = append(p.finals, m.Text)
			p.mu.Unlock()
			p.printer.final(m.Text)
		} else if !m.Stale {
			p.printer.interim(m.Text)
		}

	case *protocol.TimeRemaining:
		p.logger.Warn("session ending soon", "minutes_left", m.MinutesLeft)
		p.opts.Notifier.TimeRemaining(m.MinutesLeft)

	case *protocol.Error:
		if m.Code == protocol.CodeBackpressure || m.Code == protocol.CodeNoSession {
			p.logger.Debug("relay warning", "code", m.Code, "message", m.Message)
			return false
		}
		p.logger.Warn("relay error", "code", m.Code, "message", m.Message)
		p.mu.Lock()
		p.remote = &client.RemoteError{Code: m.Code, Message: m.Message}
		p.mu.Unlock()
		p.opts.Notifier.Error(m.Message)

	case *protocol.SessionStopped:
		p.logger.Info("session stopped", "reason", m.Reason)
		p.mu.Lock()
		p.stopped = m.Reason
		p.mu.Unlock()
		p.opts.Notifier.SessionStopped(m.Reason)
		return true
	}
	return false
}

// remoteErr is the error that preceded a relay-side stop, if any
func (p *Pipeline) remoteErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

// printer writes finals one per line; on a terminal the current interim is
// shown faint and overwritten in place.
type printer struct {
	mu      sync.Mutex
	out     *termenv.Output
	tty     bool
	pending bool
}

func newPrinter(w io.Writer) *printer {
	o := termenv.NewOutput(w)
	return &printer{out: o, tty: o.Profile != termenv.Ascii}
}

func (p *printer) interim(text string) {
	if !p.tty {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.ClearLine()
	fmt.Fprint(p.out, "\r"+p.out.String(text).Faint().String())
	p.pending = true
}

func (p *printer) final(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending {
		p.out.ClearLine()
		fmt.Fprint(p.out, "\r")
		p.pending = false
	}
	fmt.Fprintln(p.out, text)
}

// done clears a dangling interim line
func (p *printer) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending {
		p.out.ClearLine()
		fmt.Fprint(p.out, "\r")
		p.pending = false
	}
}
