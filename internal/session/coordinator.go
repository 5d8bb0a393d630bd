package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/leonardotrapani/speechrelay/internal/backend"
	"github.com/leonardotrapani/speechrelay/internal/language"
	"github.com/leonardotrapani/speechrelay/internal/metrics"
)

// Backends hands out the recognition backend a new sub-stream should use.
// *backend.Store implements it.
type Backends interface {
	Acquire() (*backend.Handle, error)
}

type Option func(*Coordinator)

func WithClock(c clockwork.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

func WithLogger(l *log.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(co *Coordinator) { co.metrics = m }
}

// Coordinator owns at most one Session per client connection.
type Coordinator struct {
	cfg      Config
	backends Backends
	sink     Sink
	clock    clockwork.Clock
	logger   *log.Logger
	metrics  *metrics.Metrics

	startMu sync.Mutex
	current atomic.Pointer[Session]
	closed  atomic.Bool
}

func NewCoordinator(cfg Config, backends Backends, sink Sink, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg.withDefaults(),
		backends: backends,
		sink:     sink,
		clock:    clockwork.NewRealClock(),
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.Discard()
	}
	return c
}

// Start begins a new session and returns its id. A session already running
// is stopped first with ReasonReplaced. If the backend is unavailable or the
// first sub-stream cannot be opened no session is created.
func (c *Coordinator) Start(ctx context.Context, hint string) (string, error) {
	lang, err := language.ParseHint(hint)
	if err != nil {
		return "", err
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.closed.Load() {
		return "", ErrClosed
	}

	if prev := c.current.Load(); prev != nil {
		prev.stop(ReasonReplaced)
	}

	s := newSession(uuid.NewString(), lang, c.cfg, c.backends, c.sink, c.clock, c.metrics, c.logger)
	if err := s.open(ctx); err != nil {
		s.cancel()
		s.inbox.Close()
		s.logger.Warn("session start failed", "err", err)
		return "", err
	}
	c.current.Store(s)
	s.begin()
	return s.id, nil
}

// PushFrame hands one PCM frame to the current session. It never blocks;
// ErrBackpressure is returned once per overflow burst, the frame itself is
// still queued.
func (c *Coordinator) PushFrame(frame []byte) error {
	s := c.current.Load()
	if s == nil {
		return ErrNoActiveSession
	}
	return s.push(frame)
}

// Stop ends the current session. Stopping when nothing is running is a no-op.
func (c *Coordinator) Stop(reason StopReason) {
	if s := c.current.Load(); s != nil {
		s.stop(reason)
	}
}

// Close stops any session with ReasonDisconnected and refuses new ones.
func (c *Coordinator) Close() {
	c.closed.Store(true)
	c.startMu.Lock()
	defer c.startMu.Unlock()
	c.Stop(ReasonDisconnected)
}

func (c *Coordinator) State() State {
	s := c.current.Load()
	if s == nil {
		return Idle
	}
	st := s.State()
	if st == Stopped {
		return Idle
	}
	return st
}

// SessionID of the running session, "" when idle
func (c *Coordinator) SessionID() string {
	s := c.current.Load()
	if s == nil || s.State() == Stopped {
		return ""
	}
	return s.id
}

// Current returns the most recent session, running or not.
func (c *Coordinator) Current() *Session {
	return c.current.Load()
}
