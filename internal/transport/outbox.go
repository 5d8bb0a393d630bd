package transport

import (
	"errors"
	"sync"

	"github.com/leonardotrapani/speechrelay/internal/emitter"
	"github.com/leonardotrapani/speechrelay/internal/protocol"
)

var ErrOutboxFull = errors.New("outbox full")

// outbox is the bounded, ordered queue in front of the write pump.
// Terminal messages are always accepted so a client never misses the end of
// a session; everything else is dropped once limit is reached.
type outbox struct {
	mu     sync.Mutex
	msgs   []protocol.Message
	limit  int
	ready  chan struct{}
	closed bool
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit, ready: make(chan struct{}, 1)}
}

func (o *outbox) Send(m protocol.Message) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return emitter.ErrOutboxClosed
	}
	if len(o.msgs) >= o.limit && !protocol.Terminal(m) {
		o.mu.Unlock()
		return ErrOutboxFull
	}
	o.msgs = append(o.msgs, m)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return nil
}

// take removes everything queued so far
func (o *outbox) take() []protocol.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.msgs
	o.msgs = nil
	return msgs
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}
