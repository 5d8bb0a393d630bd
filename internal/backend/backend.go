// Package backend owns the provider clients built from the current
// credentials. Clients are bundled in reference-counted handles: a credential
// change installs a new handle for future users while existing holders keep
// the one they acquired until they release it.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/leonardotrapani/speechrelay/internal/metrics"
	"github.com/leonardotrapani/speechrelay/internal/provider"
	"github.com/leonardotrapani/speechrelay/internal/synth"
	"github.com/leonardotrapani/speechrelay/internal/transcriber"
)

var (
	ErrBackendUnavailable   = errors.New("no transcription backend configured")
	ErrSynthesisUnavailable = errors.New("no speech synthesis backend configured")
	ErrStoreClosed          = errors.New("backend store closed")
)

// Credentials for one provider. Google uses CredentialsJSON or
// CredentialsFile, everything else APIKey.
type Credentials struct {
	APIKey          string
	CredentialsJSON string
	CredentialsFile string
}

func (c Credentials) IsZero() bool {
	return c.APIKey == "" && c.CredentialsJSON == "" && c.CredentialsFile == ""
}

// Options selects which providers and models the handles are built for.
type Options struct {
	RecognitionProvider string
	RecognitionModel    string
	SynthesisProvider   string
	SynthesisModel      string
	DefaultVoice        string
	SynthesisTimeout    time.Duration
}

// Factory builds provider clients. Implementations must not keep references
// to the credentials beyond the returned client.
type Factory interface {
	NewRecognizer(ctx context.Context, providerName, model string, creds Credentials) (transcriber.Client, error)
	NewSynthesizer(ctx context.Context, providerName string, opts synth.Options, creds Credentials) (synth.Synthesizer, error)
}

// Handle is one immutable generation of provider clients.
type Handle struct {
	generation  uint64
	recognizer  transcriber.Client
	synthesizer synth.Synthesizer

	refs   atomic.Int64
	closed atomic.Bool
	logger *log.Logger
}

func (h *Handle) Generation() uint64 { return h.generation }

// Recognizer is nil when recognition credentials are missing.
func (h *Handle) Recognizer() transcriber.Client { return h.recognizer }

// Synthesizer is nil when no synthesis provider is configured.
func (h *Handle) Synthesizer() synth.Synthesizer { return h.synthesizer }

// Closed reports whether the clients were shut down
func (h *Handle) Closed() bool { return h.closed.Load() }

// Release drops one reference; the last one closes the clients.
func (h *Handle) Release() {
	if h.refs.Add(-1) != 0 {
		return
	}
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	if h.recognizer != nil {
		if err := h.recognizer.Close(); err != nil {
			h.logger.Warn("close recognizer", "generation", h.generation, "err", err)
		}
	}
	if h.synthesizer != nil {
		if err := h.synthesizer.Close(); err != nil {
			h.logger.Warn("close synthesizer", "generation", h.generation, "err", err)
		}
	}
	h.logger.Debug("handle closed", "generation", h.generation)
}

// Status is a snapshot for the control socket
type Status struct {
	Generation  uint64
	Recognizer  string
	Synthesizer string
}

type Store struct {
	factory Factory
	metrics *metrics.Metrics
	logger  *log.Logger

	// buildMu serialises rebuilds; mu guards the swap and reference taking
	buildMu sync.Mutex
	mu      sync.Mutex
	current *Handle
	opts    Options
	creds   map[string]Credentials
	gen     uint64
	closed  bool
}

func NewStore(factory Factory, m *metrics.Metrics, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		factory: factory,
		metrics: m,
		logger:  logger.With("component", "backend"),
		creds:   make(map[string]Credentials),
	}
}

// Load replaces options and all credentials, then installs a new handle;
// used at startup and on config reload. Credentials clients pushed with
// Update are dropped in favour of creds.
//
// On the first load, parts that fail to build are left out of the handle.
// Once a handle is installed, a load with any failing part changes nothing,
// so a broken reload cannot take down working backends.
func (s *Store) Load(ctx context.Context, opts Options, creds map[string]Credentials) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	next := make(map[string]Credentials, len(creds))
	for name, c := range creds {
		next[name] = c
	}

	h, err := s.build(ctx, opts, next)
	if err != nil {
		s.mu.Lock()
		current := s.current
		s.mu.Unlock()
		if current != nil {
			h.refs.Store(1)
			h.Release()
			s.logger.Warn("reload failed, keeping current backends", "generation", current.generation, "err", err)
			return err
		}
	}
	s.install(h, opts, next)
	return err
}

// Update swaps the credentials of one provider. Nothing changes if the new
// clients cannot be built.
func (s *Store) Update(ctx context.Context, providerName string, c Credentials) error {
	p := provider.GetProvider(providerName)
	if p == nil {
		return fmt.Errorf("unknown provider %q", providerName)
	}
	if c.IsZero() {
		return fmt.Errorf("%s: no credentials given", providerName)
	}
	if p.CredentialKind() == provider.CredentialAPIKey && !p.ValidateAPIKey(c.APIKey) {
		return fmt.Errorf("%s: invalid api key", providerName)
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	s.mu.Lock()
	opts := s.opts
	next := make(map[string]Credentials, len(s.creds)+1)
	for name, existing := range s.creds {
		next[name] = existing
	}
	s.mu.Unlock()
	next[providerName] = c

	h, err := s.build(ctx, opts, next)
	if err != nil {
		if h != nil {
			h.refs.Store(1)
			h.Release()
		}
		return err
	}
	s.install(h, opts, next)
	return nil
}

func (s *Store) build(ctx context.Context, opts Options, creds map[string]Credentials) (*Handle, error) {
	h := &Handle{logger: s.logger}
	var errs []error

	if name := opts.RecognitionProvider; name != "" {
		if c := creds[name]; !c.IsZero() {
			rec, err := s.factory.NewRecognizer(ctx, name, opts.RecognitionModel, c)
			if err != nil {
				errs = append(errs, fmt.Errorf("recognizer %s: %w", name, err))
			} else {
				h.recognizer = rec
			}
		} else {
			s.logger.Warn("no credentials for recognition provider", "provider", name)
		}
	}

	if name := opts.SynthesisProvider; name != "" {
		if c := creds[name]; !c.IsZero() {
			so := synth.Options{Model: opts.SynthesisModel, DefaultVoice: opts.DefaultVoice, Timeout: opts.SynthesisTimeout}
			syn, err := s.factory.NewSynthesizer(ctx, name, so, c)
			if err != nil {
				errs = append(errs, fmt.Errorf("synthesizer %s: %w", name, err))
			} else {
				h.synthesizer = syn
			}
		}
	}

	return h, errors.Join(errs...)
}

func (s *Store) install(h *Handle, opts Options, creds map[string]Credentials) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.refs.Store(1)
		h.Release()
		return
	}
	s.gen++
	h.generation = s.gen
	h.refs.Store(1) // the store's own reference
	old := s.current
	s.current = h
	s.opts = opts
	s.creds = creds
	s.mu.Unlock()

	if old != nil {
		old.Release()
		if s.metrics != nil {
			s.metrics.CredentialSwaps.Inc()
		}
	}
	s.logger.Info("backend installed", "generation", h.generation, "recognizer", clientName(h.recognizer), "synthesizer", synthName(h.synthesizer))
}

// Acquire returns the current handle with a reference the caller must
// Release. It fails with ErrBackendUnavailable when no recognizer exists.
func (s *Store) Acquire() (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.current == nil || s.current.recognizer == nil {
		return nil, ErrBackendUnavailable
	}
	s.current.refs.Add(1)
	return s.current, nil
}

// AcquireSynthesizer is Acquire for text-to-speech.
func (s *Store) AcquireSynthesizer() (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.current == nil || s.current.synthesizer == nil {
		return nil, ErrSynthesisUnavailable
	}
	s.current.refs.Add(1)
	return s.current, nil
}

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Status{}
	}
	return Status{
		Generation:  s.current.generation,
		Recognizer:  clientName(s.current.recognizer),
		Synthesizer: synthName(s.current.synthesizer),
	}
}

// Close drops the store's reference; handles still held stay usable until
// released.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	h := s.current
	s.current = nil
	s.mu.Unlock()

	if h != nil {
		h.Release()
	}
}

func clientName(c transcriber.Client) string {
	if c == nil {
		return ""
	}
	return c.Name()
}

func synthName(s synth.Synthesizer) string {
	if s == nil {
		return ""
	}
	return s.Name()
}
