// Package sched replaces cooperative "wait N seconds" loops with timers
// that the tick loop polls.
package sched

import "time"

// Timer fires at a fixed interval of simulated time. It never spawns a
// goroutine; the owner asks Due each tick and calls Fire when it acts.
type Timer struct {
	interval time.Duration
	next     time.Duration
	armed    bool
}

// NewTimer returns a stopped timer.
func NewTimer(interval time.Duration) Timer {
	return Timer{interval: interval}
}

// Interval returns the firing period.
func (t *Timer) Interval() time.Duration { return t.interval }

// SetInterval changes the period. An armed timer keeps its next deadline.
func (t *Timer) SetInterval(d time.Duration) { t.interval = d }

// Start arms the timer to fire one interval after now.
func (t *Timer) Start(now time.Duration) {
	t.next = now + t.interval
	t.armed = true
}

// StartNow arms the timer so it is due immediately.
func (t *Timer) StartNow(now time.Duration) {
	t.next = now
	t.armed = true
}

// Stop disarms the timer.
func (t *Timer) Stop() {
	t.armed = false
}

// Armed reports whether the timer is running.
func (t *Timer) Armed() bool { return t.armed }

// Due reports whether the deadline has passed.
func (t *Timer) Due(now time.Duration) bool {
	return t.armed && now >= t.next
}

// Fire consumes one deadline and schedules the next. A timer that fell more
// than one interval behind restarts from now instead of bursting.
func (t *Timer) Fire(now time.Duration) bool {
	if !t.Due(now) {
		return false
	}
	t.next += t.interval
	if t.next <= now {
		t.next = now + t.interval
	}
	return true
}

// Remaining returns the time left until the deadline, or 0 when due or
// stopped.
func (t *Timer) Remaining(now time.Duration) time.Duration {
	if !t.armed || now >= t.next {
		return 0
	}
	return t.next - now
}
