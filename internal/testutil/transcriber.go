package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leonardotrapani/speechrelay/internal/transcriber"
)

// FakeStream is a scripted recognition call. Tests push results with Emit
// and end it with End or Fail.
type FakeStream struct {
	Index  int
	Config transcriber.StreamConfig
	Client *FakeClient

	// FinalOnCloseSend, when set, is emitted as a final result on CloseSend
	// before the results channel closes.
	FinalOnCloseSend string
	// KeepOpenOnCloseSend leaves the results channel open after CloseSend,
	// like a provider that is slow to acknowledge.
	KeepOpenOnCloseSend bool

	mu         sync.Mutex
	frames     [][]byte
	sendClosed bool
	closed     bool
	ended      bool
	results    chan transcriber.Result
}

func newFakeStream(c *FakeClient, index int, cfg transcriber.StreamConfig) *FakeStream {
	return &FakeStream{
		Index:               index,
		Config:              cfg,
		Client:              c,
		FinalOnCloseSend:    c.FinalOnCloseSend,
		KeepOpenOnCloseSend: c.KeepOpenOnCloseSend,
		results:             make(chan transcriber.Result, 100),
	}
}

func (s *FakeStream) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendClosed || s.closed {
		return transcriber.ErrStreamClosed
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *FakeStream) Results() <-chan transcriber.Result { return s.results }

func (s *FakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendClosed {
		return nil
	}
	s.sendClosed = true
	if s.FinalOnCloseSend != "" && !s.ended {
		s.results <- transcriber.Result{Text: s.FinalOnCloseSend, IsFinal: true}
	}
	if !s.KeepOpenOnCloseSend {
		s.endLocked()
	}
	return nil
}

func (s *FakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.endLocked()
	return nil
}

// Emit delivers a result as if the provider produced it.
func (s *FakeStream) Emit(r transcriber.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.results <- r
}

// Interim and Final are Emit shorthands
func (s *FakeStream) Interim(text string) { s.Emit(transcriber.Result{Text: text}) }
func (s *FakeStream) Final(text string)   { s.Emit(transcriber.Result{Text: text, IsFinal: true}) }

// Fail delivers err and ends the call.
func (s *FakeStream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.results <- transcriber.Result{Err: err}
	s.endLocked()
}

// End closes the results channel, the provider hanging up.
func (s *FakeStream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked()
}

func (s *FakeStream) endLocked() {
	if s.ended {
		return
	}
	s.ended = true
	close(s.results)
}

func (s *FakeStream) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *FakeStream) SendClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendClosed
}

func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FakeClient implements transcriber.Client and records every stream it opens.
type FakeClient struct {
	NameValue string
	// Tag identifies the credentials the client was built with
	Tag string

	FinalOnCloseSend    string
	KeepOpenOnCloseSend bool

	// Gate, when non-nil, makes Open wait for a receive before returning
	Gate chan struct{}

	mu       sync.Mutex
	streams  []*FakeStream
	openErrs []error
	closed   atomic.Bool
}

func NewFakeClient(tag string) *FakeClient {
	return &FakeClient{NameValue: "fake", Tag: tag}
}

func (c *FakeClient) Name() string { return c.NameValue }

// FailNextOpen queues errors returned by the next Open calls, in order.
func (c *FakeClient) FailNextOpen(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErrs = append(c.openErrs, errs...)
}

func (c *FakeClient) Open(ctx context.Context, cfg transcriber.StreamConfig) (transcriber.Stream, error) {
	if c.closed.Load() {
		return nil, errors.New("fake client closed")
	}
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.openErrs) > 0 {
		err := c.openErrs[0]
		c.openErrs = c.openErrs[1:]
		return nil, err
	}
	s := newFakeStream(c, len(c.streams), cfg)
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *FakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *FakeClient) Closed() bool { return c.closed.Load() }

func (c *FakeClient) Streams() []*FakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*FakeStream, len(c.streams))
	copy(out, c.streams)
	return out
}

// WaitForStreams blocks until at least n streams were opened and returns the nth.
func (c *FakeClient) WaitForStreams(t *testing.T, n int) *FakeStream {
	t.Helper()
	WaitForCondition(t, func() bool { return len(c.Streams()) >= n }, 2*time.Second)
	return c.Streams()[n-1]
}
