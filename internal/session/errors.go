package session

import (
	"errors"

	"github.com/leonardotrapani/speechrelay/internal/transcriber"
)

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrBackpressure    = errors.New("audio arriving faster than it can be forwarded, oldest frames dropped")
	ErrClosed          = errors.New("coordinator closed")
)

// ProviderError is a recognition failure forwarded to the client.
type ProviderError struct {
	Class transcriber.ErrorClass
	Err   error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return "provider error"
	}
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Fatal reports whether the error ends the session
func (e *ProviderError) Fatal() bool { return e.Class == transcriber.ClassFatalAuth }

func newProviderError(err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Class: transcriber.Classify(err), Err: err}
}
