package transcriber

import "context"

// StreamConfig is the per-call configuration of a recognition stream. It is
// copied into the stream at Open and never changes afterwards.
type StreamConfig struct {
	// Language is a BCP 47 tag, empty for automatic detection
	Language string
	// AutoLanguages are the candidates offered to providers that need an
	// explicit list when Language is empty
	AutoLanguages  []string
	SampleRate     int
	InterimResults bool
	// QueueSize bounds the frames buffered between Send and the network
	QueueSize int
}

// Result is a single transcription update or a stream error.
type Result struct {
	Text     string
	IsFinal  bool
	Language string // detected language, if the provider reports one
	Err      error
}

// Stream is one streaming recognition call.
type Stream interface {
	// Send queues a frame without blocking. When the queue is full the oldest
	// frame is dropped and ErrQueueFull is returned; the new frame is kept.
	Send(frame []byte) error

	// Results delivers updates in provider order and is closed when the call
	// has ended, either after CloseSend drained or on error.
	Results() <-chan Result

	// CloseSend flushes queued frames and tells the provider no more audio is
	// coming, which makes it commit a final result for the pending utterance.
	CloseSend() error

	// Close tears the call down immediately.
	Close() error
}

// Client opens recognition streams against one provider with one set of
// credentials.
type Client interface {
	Name() string
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
	Close() error
}

const defaultQueueSize = 64
