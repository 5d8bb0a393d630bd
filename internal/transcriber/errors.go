package transcriber

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrQueueFull    = errors.New("send queue full, oldest frame dropped")
	ErrStreamClosed = errors.New("stream closed")
	ErrUnauthorized = errors.New("provider rejected credentials")
)

// FatalTranscriptionError marks an error as non-recoverable for the current session.
type FatalTranscriptionError struct {
	Err error
}

func (e *FatalTranscriptionError) Error() string {
	if e == nil || e.Err == nil {
		return "fatal transcription error"
	}
	return e.Err.Error()
}

func (e *FatalTranscriptionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewFatalTranscriptionError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalTranscriptionError{Err: err}
}

func IsFatalTranscriptionError(err error) bool {
	var fatal *FatalTranscriptionError
	return errors.As(err, &fatal)
}

// RecoverableTimeoutError is the provider ending a call because it hit its
// own stream length or idle limit. A new call with the same config fixes it.
type RecoverableTimeoutError struct {
	Err error
}

func (e *RecoverableTimeoutError) Error() string {
	if e == nil || e.Err == nil {
		return "recognition stream timed out"
	}
	return e.Err.Error()
}

func (e *RecoverableTimeoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewRecoverableTimeoutError(err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableTimeoutError{Err: err}
}

func IsRecoverableTimeout(err error) bool {
	var timeout *RecoverableTimeoutError
	return errors.As(err, &timeout)
}

type ErrorClass int

const (
	ClassProvider ErrorClass = iota
	ClassRecoverableTimeout
	ClassFatalAuth
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRecoverableTimeout:
		return "recoverable_timeout"
	case ClassFatalAuth:
		return "fatal_auth"
	default:
		return "provider"
	}
}

// Classify maps a stream error onto the session's error taxonomy. Adapters
// wrap what they know; bare gRPC statuses are mapped here as a fallback.
func Classify(err error) ErrorClass {
	switch {
	case IsFatalTranscriptionError(err), errors.Is(err, ErrUnauthorized):
		return ClassFatalAuth
	case IsRecoverableTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return ClassRecoverableTimeout
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return ClassFatalAuth
		case codes.OutOfRange, codes.DeadlineExceeded:
			return ClassRecoverableTimeout
		}
	}
	return ClassProvider
}
