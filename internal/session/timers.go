package session

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// timer names
const (
	timerMaxDuration   = "max-duration"
	timerSilence       = "silence"
	timerTotalDuration = "total-duration"
	timerRemainingTick = "remaining-tick"
	timerRetry         = "retry"
	timerDrainPrefix   = "drain-"
)

// timerFired is posted to the session loop when a timer goes off. The token
// lets the loop ignore fires from timers re-armed or cancelled after the
// callback was already scheduled.
type timerFired struct {
	name  string
	token uint64
}

type armedTimer struct {
	token    uint64
	timer    clockwork.Timer
	deadline time.Time
}

// timerBank holds the named timers of one session. It is owned by the
// session loop; only the fire callbacks run elsewhere, and they just post.
type timerBank struct {
	clock  clockwork.Clock
	post   func(event) bool
	timers map[string]*armedTimer
	seq    uint64
}

func newTimerBank(clock clockwork.Clock, post func(event) bool) *timerBank {
	return &timerBank{
		clock:  clock,
		post:   post,
		timers: make(map[string]*armedTimer),
	}
}

// arm (re)starts the named timer; an earlier arming is cancelled.
func (b *timerBank) arm(name string, d time.Duration) {
	b.cancel(name)
	b.seq++
	token := b.seq
	t := b.clock.AfterFunc(d, func() {
		b.post(timerFired{name: name, token: token})
	})
	b.timers[name] = &armedTimer{token: token, timer: t, deadline: b.clock.Now().Add(d)}
}

func (b *timerBank) cancel(name string) {
	if t, ok := b.timers[name]; ok {
		t.timer.Stop()
		delete(b.timers, name)
	}
}

// cancelAll stops every timer. Fires already in flight carry tokens that no
// longer match and are dropped by fired.
func (b *timerBank) cancelAll() {
	for name, t := range b.timers {
		t.timer.Stop()
		delete(b.timers, name)
	}
}

// fired consumes a fire event and reports whether it is current.
func (b *timerBank) fired(ev timerFired) bool {
	t, ok := b.timers[ev.name]
	if !ok || t.token != ev.token {
		return false
	}
	delete(b.timers, ev.name)
	return true
}

func (b *timerBank) armed(name string) bool {
	_, ok := b.timers[name]
	return ok
}

// deadline of an armed timer, zero if not armed
func (b *timerBank) deadline(name string) time.Time {
	if t, ok := b.timers[name]; ok {
		return t.deadline
	}
	return time.Time{}
}
