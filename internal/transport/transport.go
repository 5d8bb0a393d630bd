// Package transport serves the relay websocket: one connection per client,
// each with its own recognition session coordinator.
package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/leonardotrapani/speechrelay/internal/backend"
	"github.com/leonardotrapani/speechrelay/internal/metrics"
	"github.com/leonardotrapani/speechrelay/internal/session"
)

// Backends is what connections need from the backend store.
type Backends interface {
	session.Backends
	AcquireSynthesizer() (*backend.Handle, error)
	Update(ctx context.Context, providerName string, c backend.Credentials) error
}

type Config struct {
	// ReadLimit caps a single incoming message, audio frames included
	ReadLimit    int64
	OutboxSize   int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration

	SynthesisTimeout   time.Duration
	CredentialsTimeout time.Duration

	// AllowedOrigins lists browser origins allowed to connect; "*" allows
	// any. Empty keeps the same-origin check.
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		ReadLimit:          1 << 20,
		OutboxSize:         256,
		PingInterval:       25 * time.Second,
		PongWait:           60 * time.Second,
		WriteWait:          10 * time.Second,
		SynthesisTimeout:   30 * time.Second,
		CredentialsTimeout: 15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = d.OutboxSize
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval * 12 / 5
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = d.SynthesisTimeout
	}
	if c.CredentialsTimeout <= 0 {
		c.CredentialsTimeout = d.CredentialsTimeout
	}
	return c
}

// Stats is a snapshot for the control socket
type Stats struct {
	Connections int
	Sessions    int
}

// Handler upgrades requests to relay connections.
type Handler struct {
	cfg         Config
	sessionCfg  session.Config
	backends    Backends
	metrics     *metrics.Metrics
	logger      *log.Logger
	sessionOpts []session.Option
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	conns   map[*Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

func NewHandler(cfg Config, sessionCfg session.Config, backends Backends, m *metrics.Metrics, logger *log.Logger, opts ...session.Option) *Handler {
	if m == nil {
		m = metrics.Discard()
	}
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{
		cfg:         cfg.withDefaults(),
		sessionCfg:  sessionCfg,
		backends:    backends,
		metrics:     m,
		logger:      logger.With("component", "transport"),
		sessionOpts: opts,
		conns:       make(map[*Conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	if len(h.cfg.AllowedOrigins) == 0 {
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newConn(h, ws)
	h.track(c, true)
	defer h.track(c, false)

	c.serve()
}

func (h *Handler) track(c *Conn, add bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if add {
		h.conns[c] = struct{}{}
		h.metrics.Connections.Inc()
		if h.closing {
			c.interrupt()
		}
	} else {
		delete(h.conns, c)
		h.metrics.Connections.Dec()
	}
}

func (h *Handler) snapshot() []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *Handler) Stats() Stats {
	conns := h.snapshot()
	st := Stats{Connections: len(conns)}
	for _, c := range conns {
		if c.coord.State() != session.Idle {
			st.Sessions++
		}
	}
	return st
}

// StopSessions ends every running session; connections stay open.
func (h *Handler) StopSessions(reason session.StopReason) int {
	n := 0
	for _, c := range h.snapshot() {
		if c.coord.State() != session.Idle {
			c.coord.Stop(reason)
			n++
		}
	}
	return n
}

// Shutdown refuses new connections and closes the open ones, waiting until
// they are gone or ctx ends.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	for _, c := range h.snapshot() {
		c.interrupt()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
