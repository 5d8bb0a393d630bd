package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"github.com/leonardotrapani/speechrelay/internal/backend"
	"github.com/leonardotrapani/speechrelay/internal/metrics"
	"github.com/leonardotrapani/speechrelay/internal/pcm"
	"github.com/leonardotrapani/speechrelay/internal/transcriber"
)

// sub-stream open causes, also the metrics label
const (
	causeStart    = "start"
	causeRestart  = "restart"
	causeFinalize = "finalize"
	causeRetry    = "retry"
)

type event any

type resultEvent struct {
	gen    uint64
	result transcriber.Result
}

type streamEndedEvent struct {
	gen uint64
}

type openedEvent struct {
	token  uint64
	stream transcriber.Stream
	handle *backend.Handle
	err    error
}

type stopRequest struct {
	reason StopReason
}

// subStream is one provider call. Its language and backend handle are fixed
// at open.
type subStream struct {
	gen      uint64
	stream   transcriber.Stream
	handle   *backend.Handle
	language string
	openedAt time.Time
	cause    string

	fragments int
	ended     chan struct{}
}

type pendingOpen struct {
	token       uint64
	cause       string
	requestedAt time.Time
}

// Session is one recording lifecycle. All mutable state below the marker is
// owned by the run goroutine.
type Session struct {
	id       string
	language string
	cfg      Config
	backends Backends
	sink     Sink
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	logger   *log.Logger

	state       atomic.Int32
	inbox       *pcm.Queue
	overflowing atomic.Bool
	events      chan event
	done        chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	workers     sync.WaitGroup

	// loop-owned
	timers    *timerBank
	active    *subStream
	draining  map[uint64]*subStream
	pending   *pendingOpen
	handover  [][]byte
	gen       uint64
	openSeq   uint64
	startedAt time.Time
	failures   int
	crashes    int
	retryCause string
	stopped    bool
}

func newSession(id, lang string, cfg Config, backends Backends, sink Sink, clock clockwork.Clock, m *metrics.Metrics, logger *log.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		language: lang,
		cfg:      cfg,
		backends: backends,
		sink:     sink,
		clock:    clock,
		metrics:  m,
		logger:   logger.With("session_id", id),
		inbox:    pcm.NewQueue(cfg.InboxSize),
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		draining: make(map[uint64]*subStream),
	}
	s.timers = newTimerBank(clock, s.post)
	s.state.Store(int32(Starting))
	return s
}

func (s *Session) ID() string { return s.id }

// Language is the canonical tag the session was started with, "" for auto.
func (s *Session) Language() string { return s.language }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.logger.Debug("state", "from", old, "to", st)
	}
}

func (s *Session) streamConfig() transcriber.StreamConfig {
	return transcriber.StreamConfig{
		Language:       s.language,
		AutoLanguages:  s.cfg.AutoLanguages,
		SampleRate:     s.cfg.SampleRate,
		InterimResults: s.cfg.InterimResults,
		QueueSize:      s.cfg.SendQueue,
	}
}

// open creates the first sub-stream synchronously. The loop starts with begin.
func (s *Session) open(ctx context.Context) error {
	handle, err := s.backends.Acquire()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpenTimeout)
	defer cancel()

	stream, err := handle.Recognizer().Open(ctx, s.streamConfig())
	if err != nil {
		handle.Release()
		return newProviderError(err)
	}

	s.startedAt = s.clock.Now()
	s.install(stream, handle, causeStart)
	s.timers.arm(timerTotalDuration, s.cfg.MaxDuration)
	s.timers.arm(timerRemainingTick, s.cfg.TickInterval)
	s.setState(Streaming)

	s.metrics.ActiveSessions.Inc()
	s.metrics.SessionsStarted.Inc()
	s.logger.Info("session started", "language", languageLabel(s.language), "generation", s.gen)

	return nil
}

// begin announces the session and starts its loop.
func (s *Session) begin() {
	s.sink.Started(s.id, s.language)
	go s.run()
}

// push queues a frame for the loop. It never blocks.
func (s *Session) push(frame []byte) error {
	if s.State() == Stopped {
		return ErrNoActiveSession
	}
	dropped, err := s.inbox.Push(frame)
	if err != nil {
		return ErrNoActiveSession
	}
	s.metrics.FramesReceived.Inc()
	if dropped {
		s.metrics.FramesDropped.WithLabelValues("inbox").Inc()
		if s.overflowing.CompareAndSwap(false, true) {
			return ErrBackpressure
		}
	}
	return nil
}

// stop asks the loop to stop and waits until it has. Repeated calls and
// calls after the session ended on its own do nothing.
func (s *Session) stop(reason StopReason) {
	select {
	case s.events <- stopRequest{reason: reason}:
	case <-s.done:
		return
	}
	<-s.done
}

// Done is closed once the session has stopped
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) run() {
	defer s.exit()

	for !s.stopped {
		select {
		case <-s.inbox.Ready():
			s.drainInbox()
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	case stopRequest:
		s.shutdown(ev.reason)
	case timerFired:
		if s.timers.fired(ev) {
			s.onTimer(ev.name)
		}
	case resultEvent:
		s.onResult(ev)
	case streamEndedEvent:
		s.onStreamEnded(ev.gen)
	case openedEvent:
		s.onOpened(ev)
	}
}

func (s *Session) drainInbox() { s.drainInboxInto(s.route) }

func (s *Session) drainInboxInto(fn func([]byte)) {
	for {
		frame, ok := s.inbox.TryPop()
		if !ok {
			s.overflowing.Store(false)
			return
		}
		fn(frame)
	}
}

// route writes a frame to the sub-stream currently taking audio, or to the
// handover buffer while there is none.
func (s *Session) route(frame []byte) {
	if s.active != nil {
		err := s.active.stream.Send(frame)
		switch {
		case err == nil:
			return
		case errors.Is(err, transcriber.ErrQueueFull):
			s.metrics.FramesDropped.WithLabelValues("provider").Inc()
			return
		case errors.Is(err, transcriber.ErrStreamClosed):
			// the call died under us; its end event will start a replacement
		default:
			s.logger.Warn("send failed", "generation", s.active.gen, "err", err)
		}
	}

	if len(s.handover) >= s.cfg.HandoverFrames {
		s.handover = s.handover[1:]
		s.metrics.FramesDropped.WithLabelValues("handover").Inc()
	}
	s.handover = append(s.handover, frame)
}

// install makes a freshly opened stream the one taking audio and flushes
// anything buffered during the handover, oldest first.
func (s *Session) install(stream transcriber.Stream, handle *backend.Handle, cause string) {
	s.gen++
	sub := &subStream{
		gen:      s.gen,
		stream:   stream,
		handle:   handle,
		language: s.language,
		openedAt: s.clock.Now(),
		cause:    cause,
		ended:    make(chan struct{}),
	}
	s.active = sub
	s.metrics.SubStreamsOpened.WithLabelValues(cause).Inc()

	s.workers.Add(1)
	go s.forward(sub)

	buffered := s.handover
	s.handover = nil
	for _, frame := range buffered {
		s.route(frame)
	}

	// the previous utterance is committed by the old stream's half-close
	s.timers.cancel(timerSilence)
	s.timers.arm(timerMaxDuration, s.cfg.StreamLimit)
	s.logger.Debug("sub-stream installed", "generation", sub.gen, "cause", cause, "flushed", len(buffered), "backend", handle.Generation())
}

// forward relays a stream's results into the loop until the stream ends.
func (s *Session) forward(sub *subStream) {
	defer s.workers.Done()
	defer close(sub.ended)

	posting := true
	for r := range sub.stream.Results() {
		if posting && !s.post(resultEvent{gen: sub.gen, result: r}) {
			posting = false
		}
	}
	if posting {
		s.post(streamEndedEvent{gen: sub.gen})
	}
}

// openAsync starts opening a replacement sub-stream; the result comes back
// as an openedEvent. Credentials are picked up here, so replacements use
// whatever the backend store holds now.
func (s *Session) openAsync(cause string) {
	handle, err := s.backends.Acquire()
	if err != nil {
		s.onOpenFailed(cause, err)
		return
	}

	s.openSeq++
	token := s.openSeq
	s.pending = &pendingOpen{token: token, cause: cause, requestedAt: s.clock.Now()}
	cfg := s.streamConfig()

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.OpenTimeout)
		stream, err := handle.Recognizer().Open(ctx, cfg)
		cancel()

		if err != nil {
			handle.Release()
			handle = nil
		}
		if !s.post(openedEvent{token: token, stream: stream, handle: handle, err: err}) {
			discardOpened(openedEvent{stream: stream, handle: handle})
		}
	}()
}

func discardOpened(ev openedEvent) {
	if ev.stream != nil {
		ev.stream.Close()
	}
	if ev.handle != nil {
		ev.handle.Release()
	}
}

func (s *Session) onOpened(ev openedEvent) {
	if s.pending == nil || ev.token != s.pending.token {
		discardOpened(ev)
		return
	}
	p := s.pending
	s.pending = nil

	if ev.err != nil {
		s.onOpenFailed(p.cause, ev.err)
		return
	}

	s.failures = 0
	// a finalize can install a stream while a failed restart waits to retry
	s.timers.cancel(timerRetry)
	s.retryCause = ""
	old := s.active
	s.install(ev.stream, ev.handle, p.cause)
	if old != nil {
		s.drain(old)
	}
	s.setState(Streaming)
	s.metrics.RestartLatency.Observe(s.clock.Since(p.requestedAt).Seconds())
}

func (s *Session) onOpenFailed(cause string, err error) {
	pe := newProviderError(err)
	s.metrics.SubStreamErrors.WithLabelValues(pe.Class.String()).Inc()

	if pe.Fatal() {
		s.logger.Error("provider rejected credentials", "err", err)
		s.sink.Error(s.id, pe)
		s.shutdown(ReasonAuthFailed)
		return
	}

	s.failures++
	if s.failures > s.cfg.MaxRetries {
		s.logger.Error("giving up opening sub-stream", "attempts", s.failures, "err", err)
		s.sink.Error(s.id, pe)
		s.shutdown(ReasonProviderUnavailable)
		return
	}

	delay := s.cfg.backoff(s.failures)
	s.logger.Warn("sub-stream open failed, retrying", "cause", cause, "attempt", s.failures, "in", delay, "err", err)
	s.retryCause = cause
	s.timers.arm(timerRetry, delay)
}

// drain half-closes a sub-stream that no longer takes audio. Its remaining
// results are still delivered, marked stale; after CloseTimeout it is cut.
func (s *Session) drain(sub *subStream) {
	if s.active == sub {
		s.active = nil
	}
	if err := sub.stream.CloseSend(); err != nil {
		s.logger.Debug("close send", "generation", sub.gen, "err", err)
	}
	s.draining[sub.gen] = sub
	s.timers.arm(drainTimer(sub.gen), s.cfg.CloseTimeout)
}

// retire drops a dead or failing sub-stream without waiting for its tail.
func (s *Session) retire(sub *subStream) {
	if s.active == sub {
		s.active = nil
	}
	delete(s.draining, sub.gen)
	s.timers.cancel(drainTimer(sub.gen))
	go release(sub)
}

func release(sub *subStream) {
	sub.stream.Close()
	sub.handle.Release()
}

func drainTimer(gen uint64) string {
	return timerDrainPrefix + strconv.FormatUint(gen, 10)
}

// replace opens a new sub-stream unless one is already on its way.
func (s *Session) replace(cause string) {
	if s.pending != nil || s.timers.armed(timerRetry) {
		return
	}
	s.setState(Restarting)
	s.openAsync(cause)
}

func (s *Session) onTimer(name string) {
	switch name {
	case timerMaxDuration:
		// preemptive restart: the current stream keeps taking audio until
		// the replacement is open
		if s.active == nil || s.pending != nil {
			return
		}
		s.logger.Debug("stream limit reached, restarting", "generation", s.active.gen, "age", s.clock.Since(s.active.openedAt))
		s.setState(Restarting)
		s.openAsync(causeRestart)

	case timerSilence:
		s.finalize()

	case timerTotalDuration:
		s.shutdown(ReasonDurationLimit)

	case timerRemainingTick:
		elapsed := s.clock.Since(s.startedAt)
		remaining := s.cfg.MaxDuration - elapsed
		if remaining <= 0 {
			s.shutdown(ReasonDurationLimit)
			return
		}
		s.timers.arm(timerRemainingTick, s.cfg.TickInterval)
		if remaining <= s.cfg.WarnBefore {
			minutes := int((remaining + time.Minute - 1) / time.Minute)
			s.sink.TimeRemaining(s.id, minutes)
		}

	case timerRetry:
		if s.pending == nil {
			s.openAsync(s.retryCause)
		}

	default:
		if gen, ok := parseDrainTimer(name); ok {
			if sub := s.draining[gen]; sub != nil {
				s.logger.Debug("drain timed out", "generation", gen)
				s.retire(sub)
			}
		}
	}
}

func parseDrainTimer(name string) (uint64, bool) {
	if len(name) <= len(timerDrainPrefix) || name[:len(timerDrainPrefix)] != timerDrainPrefix {
		return 0, false
	}
	gen, err := strconv.ParseUint(name[len(timerDrainPrefix):], 10, 64)
	return gen, err == nil
}

// finalize ends the current utterance: the stream is half-closed so the
// provider commits a final, and audio is buffered until a replacement is
// open. A restart already in flight doubles as the replacement.
func (s *Session) finalize() {
	if s.active == nil {
		return
	}
	s.logger.Debug("silence, finalizing", "generation", s.active.gen)
	s.drain(s.active)
	s.setState(Finalizing)
	if s.pending == nil {
		s.openAsync(causeFinalize)
	}
}

func (s *Session) onResult(ev resultEvent) {
	r := ev.result
	isActive := s.active != nil && s.active.gen == ev.gen

	if r.Err != nil {
		s.onStreamError(ev.gen, isActive, r.Err)
		return
	}

	if !isActive && s.draining[ev.gen] == nil {
		// stream already retired
		return
	}

	kind := "stale"
	if isActive {
		kind = "interim"
		if r.IsFinal {
			kind = "final"
		}
		s.active.fragments++
		s.crashes = 0
		if r.IsFinal {
			s.timers.cancel(timerSilence)
		} else {
			s.timers.arm(timerSilence, s.cfg.SilenceWindow)
		}
	}
	s.metrics.Transcripts.WithLabelValues(kind).Inc()

	s.sink.Transcript(s.id, Fragment{
		Text:       r.Text,
		IsFinal:    r.IsFinal,
		Language:   r.Language,
		Generation: ev.gen,
		Stale:      !isActive,
	})
}

func (s *Session) onStreamError(gen uint64, isActive bool, err error) {
	pe := newProviderError(err)
	s.metrics.SubStreamErrors.WithLabelValues(pe.Class.String()).Inc()

	if !isActive {
		s.logger.Debug("error from superseded sub-stream", "generation", gen, "err", err)
		return
	}

	switch pe.Class {
	case transcriber.ClassFatalAuth:
		s.logger.Error("provider rejected credentials", "generation", gen, "err", err)
		s.sink.Error(s.id, pe)
		s.shutdown(ReasonAuthFailed)

	case transcriber.ClassRecoverableTimeout:
		s.logger.Debug("sub-stream timed out, replacing", "generation", gen, "err", err)
		s.retire(s.active)
		s.replace(causeRetry)

	default:
		s.logger.Warn("provider error", "generation", gen, "err", err)
		s.sink.Error(s.id, pe)
	}
}

func (s *Session) onStreamEnded(gen uint64) {
	if sub := s.draining[gen]; sub != nil {
		s.retire(sub)
		return
	}
	if s.active == nil || s.active.gen != gen {
		return
	}

	sub := s.active
	if sub.fragments == 0 {
		s.crashes++
		if s.crashes > s.cfg.MaxRetries {
			s.retire(sub)
			s.sink.Error(s.id, &ProviderError{Class: transcriber.ClassProvider, Err: errors.New("recognition stream keeps ending without results")})
			s.shutdown(ReasonProviderUnavailable)
			return
		}
	}
	s.logger.Debug("sub-stream ended by provider, replacing", "generation", gen)
	s.retire(sub)
	s.replace(causeRetry)
}

// shutdown is the single way into Stopped. Timers are cancelled before
// anything else so no fire can be acted on afterwards.
func (s *Session) shutdown(reason StopReason) {
	if s.stopped {
		return
	}
	s.stopped = true
	s.timers.cancelAll()
	s.setState(Stopped)
	s.inbox.Close()
	s.cancel()

	if s.active != nil {
		go s.closeClean(s.active)
		s.active = nil
	}
	for gen, sub := range s.draining {
		go s.closeClean(sub)
		delete(s.draining, gen)
	}
	s.handover = nil
	s.pending = nil

	elapsed := s.clock.Since(s.startedAt)
	s.metrics.ActiveSessions.Dec()
	s.metrics.SessionsStopped.WithLabelValues(string(reason)).Inc()
	s.metrics.SessionDuration.Observe(elapsed.Seconds())
	s.logger.Info("session stopped", "reason", reason, "elapsed", elapsed.Round(time.Millisecond), "generations", s.gen)

	s.sink.Stopped(s.id, reason)
}

// closeClean ends a sub-stream with a half-close, giving the provider
// CloseTimeout to hang up before the call is cut.
func (s *Session) closeClean(sub *subStream) {
	_ = sub.stream.CloseSend()
	select {
	case <-sub.ended:
	case <-s.clock.After(s.cfg.CloseTimeout):
		s.logger.Debug("close timed out", "generation", sub.gen)
	}
	release(sub)
}

// exit runs when the loop ends. Workers still running may post events
// nobody will handle; opened streams among them must be closed.
func (s *Session) exit() {
	close(s.done)

	go func() {
		finished := make(chan struct{})
		go func() {
			s.workers.Wait()
			close(finished)
		}()
		for {
			select {
			case ev := <-s.events:
				if o, ok := ev.(openedEvent); ok {
					discardOpened(o)
				}
			case <-finished:
				for {
					select {
					case ev := <-s.events:
						if o, ok := ev.(openedEvent); ok {
							discardOpened(o)
						}
					default:
						return
					}
				}
			}
		}
	}()
}

func languageLabel(lang string) string {
	if lang == "" {
		return "auto"
	}
	return lang
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s)", s.id, s.State())
}
