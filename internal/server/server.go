// Package server exposes the relay over HTTP: the websocket endpoint plus
// health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HealthFunc reports the details shown on /healthz. A non-nil error turns
// the answer into a 503.
type HealthFunc func() (map[string]any, error)

type Options struct {
	Addr    string
	Relay   http.Handler // serves /ws
	Metrics http.Handler // serves /metrics, optional
	Health  HealthFunc   // optional
	Logger  *log.Logger
}

type Server struct {
	opts   Options
	logger *log.Logger
	router chi.Router
	http   *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		opts:   opts,
		logger: logger.With("component", "http"),
	}
	s.router = s.routes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	if s.opts.Relay != nil {
		r.Method(http.MethodGet, "/ws", s.opts.Relay)
	}
	return r
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// websocket requests end when the connection does
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
			"took", time.Since(start).Round(time.Millisecond),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	status := http.StatusOK

	if s.opts.Health != nil {
		details, err := s.opts.Health()
		for k, v := range details {
			body[k] = v
		}
		if err != nil {
			body["status"] = "unavailable"
			body["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("write health", "err", err)
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening", "url", "http://"+ln.Addr().String(), "ws", "ws://"+ln.Addr().String()+"/ws")

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "err", err)
		}
	}()
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Hijacked websocket connections are not tracked here; close them through
// the relay handler first.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
