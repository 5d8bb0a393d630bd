// Package emitter turns session events into protocol messages for one
// client connection.
package emitter

import (
	"errors"

	"github.com/charmbracelet/log"
	"github.com/leonardotrapani/speechrelay/internal/backend"
	"github.com/leonardotrapani/speechrelay/internal/language"
	"github.com/leonardotrapani/speechrelay/internal/metrics"
	"github.com/leonardotrapani/speechrelay/internal/protocol"
	"github.com/leonardotrapani/speechrelay/internal/session"
	"github.com/leonardotrapani/speechrelay/internal/transcriber"
)

// ErrOutboxClosed is returned by an Outbox whose connection is gone.
var ErrOutboxClosed = errors.New("outbox closed")

// Outbox queues messages for a connection's writer, in order. Send must not
// block; it returns an error when the message was dropped.
type Outbox interface {
	Send(m protocol.Message) error
}

// Emitter implements session.Sink.
type Emitter struct {
	out     Outbox
	metrics *metrics.Metrics
	logger  *log.Logger
}

func New(out Outbox, m *metrics.Metrics, logger *log.Logger) *Emitter {
	if m == nil {
		m = metrics.Discard()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Emitter{out: out, metrics: m, logger: logger.With("component", "emitter")}
}

func (e *Emitter) Transcript(sessionID string, f session.Fragment) {
	e.send(&protocol.Transcript{
		SessionID:        sessionID,
		Text:             f.Text,
		IsFinal:          f.IsFinal,
		DetectedLanguage: f.Language,
		Generation:       f.Generation,
		Stale:            f.Stale,
	})
}

func (e *Emitter) TimeRemaining(sessionID string, minutes int) {
	e.send(&protocol.TimeRemaining{SessionID: sessionID, MinutesLeft: minutes})
}

func (e *Emitter) Error(sessionID string, err error) {
	e.SendError(err)
}

func (e *Emitter) Stopped(sessionID string, reason session.StopReason) {
	e.send(&protocol.SessionStopped{SessionID: sessionID, Reason: string(reason)})
}

// Started acknowledges start_session.
func (e *Emitter) Started(sessionID, lang string) {
	e.send(&protocol.SessionStarted{SessionID: sessionID, Language: lang})
}

// SendError reports err to the client with its error code.
func (e *Emitter) SendError(err error) {
	code := ErrorCode(err)
	e.metrics.Errors.WithLabelValues(code).Inc()
	e.send(&protocol.Error{Message: err.Error(), Code: code})
}

// Send passes any other message through, keeping it ordered with the
// session's events.
func (e *Emitter) Send(m protocol.Message) {
	e.send(m)
}

func (e *Emitter) send(m protocol.Message) {
	if err := e.out.Send(m); err != nil {
		if errors.Is(err, ErrOutboxClosed) {
			e.logger.Debug("connection gone, event discarded", "type", m.MessageType())
			return
		}
		e.metrics.EventsDropped.Inc()
		e.logger.Warn("event dropped", "type", m.MessageType(), "err", err)
	}
}

// ErrorCode maps an error onto the protocol's error codes.
func ErrorCode(err error) string {
	var pe *session.ProviderError
	switch {
	case errors.As(err, &pe):
		if pe.Fatal() {
			return protocol.CodeFatalAuth
		}
		return protocol.CodeProviderError
	case errors.Is(err, backend.ErrBackendUnavailable), errors.Is(err, backend.ErrStoreClosed):
		return protocol.CodeBackendUnavailable
	case errors.Is(err, session.ErrBackpressure):
		return protocol.CodeBackpressure
	case errors.Is(err, session.ErrNoActiveSession):
		return protocol.CodeNoSession
	case errors.Is(err, language.ErrUnsupportedLanguage),
		errors.Is(err, protocol.ErrMalformed),
		errors.Is(err, protocol.ErrUnknownType),
		errors.Is(err, protocol.ErrInvalid):
		return protocol.CodeBadRequest
	case transcriber.Classify(err) == transcriber.ClassFatalAuth:
		return protocol.CodeFatalAuth
	}
	return protocol.CodeInternal
}
