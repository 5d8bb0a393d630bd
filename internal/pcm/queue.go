package pcm

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded FIFO of frames. Push never blocks; when the queue is
// full the oldest frame is discarded to make room.
type Queue struct {
	mu      sync.Mutex
	frames  [][]byte
	head    int
	size    int
	closed  bool
	dropped uint64

	ready chan struct{}
}

// NewQueue creates a queue holding at most capacity frames.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		frames: make([][]byte, capacity),
		ready:  make(chan struct{}, 1),
	}
}

// Push appends frame. It reports whether an older frame had to be dropped.
func (q *Queue) Push(frame []byte) (dropped bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrQueueClosed
	}

	if q.size == len(q.frames) {
		q.frames[q.head] = nil
		q.head = (q.head + 1) % len(q.frames)
		q.size--
		q.dropped++
		dropped = true
	}

	q.frames[(q.head+q.size)%len(q.frames)] = frame
	q.size++
	q.signal()
	return dropped, nil
}

// TryPop removes the oldest frame without blocking.
func (q *Queue) TryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Pop blocks until a frame is available. It returns false once the queue is
// closed and drained, or ctx is done.
func (q *Queue) Pop(ctx context.Context) ([]byte, bool) {
	for {
		q.mu.Lock()
		frame, ok := q.popLocked()
		closed := q.closed
		q.mu.Unlock()

		if ok {
			return frame, true
		}
		if closed {
			return nil, false
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Ready is signalled whenever a frame is pushed or the queue closes.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Close stops accepting frames; queued frames can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signal()
}

// Closed reports whether Close was called
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued frames
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns how many frames were discarded for lack of room
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) popLocked() ([]byte, bool) {
	if q.size == 0 {
		return nil, false
	}
	frame := q.frames[q.head]
	q.frames[q.head] = nil
	q.head = (q.head + 1) % len(q.frames)
	q.size--
	if q.size > 0 {
		q.signal()
	}
	return frame, true
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
