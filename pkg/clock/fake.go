package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	changed chan struct{}
}

// NewFake returns a fake clock set to now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now, changed: make(chan struct{})}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{clock: f, deadline: f.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		t.fired = true
		t.ch <- f.now
	} else {
		f.timers = append(f.timers, t)
	}
	f.notifyLocked()
	return t
}

// Advance moves the clock forward by d and fires every timer whose deadline
// has been reached.
func (f *Fake) Advance(d time.Duration) {
	f.Set(f.Now().Add(d))
}

// Set moves the clock to now without firing timers whose deadline is later.
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = now
	pending := f.timers[:0]
	for _, t := range f.timers {
		if !t.deadline.After(now) {
			t.fired = true
			t.ch <- now
			continue
		}
		pending = append(pending, t)
	}
	f.timers = pending
	f.notifyLocked()
}

// Jump moves the clock to now without firing any timer, simulating a process
// that was paused and has not been woken yet.
func (f *Fake) Jump(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// BlockUntil waits until n timers are pending.
func (f *Fake) BlockUntil(n int) {
	for {
		f.mu.Lock()
		pending := len(f.timers)
		changed := f.changed
		f.mu.Unlock()

		if pending >= n {
			return
		}
		<-changed
	}
}

// Pending reports how many timers have not fired or been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// NextDeadline returns the earliest pending timer deadline.
func (f *Fake) NextDeadline() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var next time.Time
	for i, t := range f.timers {
		if i == 0 || t.deadline.Before(next) {
			next = t.deadline
		}
	}
	return next, len(f.timers) > 0
}

func (f *Fake) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *Fake) removeLocked(t *fakeTimer) bool {
	for i, cur := range f.timers {
		if cur == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			f.notifyLocked()
			return true
		}
	}
	return false
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	ch       chan time.Time
	fired    bool
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired {
		return false
	}
	return t.clock.removeLocked(t)
}
