package session

import (
	"sync"
	"time"
)

// ExpireFunc is called when a participant has been idle for the full
// timeout. generation is the session the timer was armed for; the callee
// must ignore the call when that session is no longer current.
type ExpireFunc func(participantID, generation string)

// IdleTimers keeps one cancellable delayed task per participant.
type IdleTimers struct {
	timeout  time.Duration
	onExpire ExpireFunc

	mu     sync.Mutex
	timers map[string]*idleTimer
	closed bool
}

type idleTimer struct {
	generation string
	timer      *time.Timer
}

// NewIdleTimers creates an IdleTimers that calls onExpire after timeout.
func NewIdleTimers(timeout time.Duration, onExpire ExpireFunc) *IdleTimers {
	return &IdleTimers{
		timeout:  timeout,
		onExpire: onExpire,
		timers:   make(map[string]*idleTimer),
	}
}

// Arm (re)starts the participant's timer for the given session generation,
// replacing any pending one.
func (t *IdleTimers) Arm(participantID, generation string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if prev, ok := t.timers[participantID]; ok {
		prev.timer.Stop()
	}

	it := &idleTimer{generation: generation}
	it.timer = time.AfterFunc(t.timeout, func() { t.fire(participantID, it) })
	t.timers[participantID] = it
}

// Cancel stops the participant's timer, if any.
func (t *IdleTimers) Cancel(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if it, ok := t.timers[participantID]; ok {
		it.timer.Stop()
		delete(t.timers, participantID)
	}
}

// Len returns the number of armed timers.
func (t *IdleTimers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Stop cancels every timer. Arm is a no-op afterwards.
func (t *IdleTimers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, it := range t.timers {
		it.timer.Stop()
		delete(t.timers, id)
	}
}

func (t *IdleTimers) fire(participantID string, it *idleTimer) {
	t.mu.Lock()
	// A timer that lost the race with Arm or Cancel must not fire.
	if t.timers[participantID] != it {
		t.mu.Unlock()
		return
	}
	delete(t.timers, participantID)
	t.mu.Unlock()

	t.onExpire(participantID, it.generation)
}
