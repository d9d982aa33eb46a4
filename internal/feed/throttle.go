package feed

import "time"

// emissionThrottle limits how often snapshots are published. Changes are
// marked as they happen; a trailing wake-up publishes whatever was held back
// so the latest state always goes out.
type emissionThrottle struct {
	interval time.Duration
	clock    Clock
	last     time.Time
	dirty    bool
	wake     <-chan time.Time
}

func newEmissionThrottle(interval time.Duration, clock Clock) *emissionThrottle {
	return &emissionThrottle{interval: interval, clock: clock}
}

// Mark records a change and reports whether it may be emitted right away
func (t *emissionThrottle) Mark() bool {
	now := t.clock.Now()
	if t.interval <= 0 || t.last.IsZero() || now.Sub(t.last) >= t.interval {
		t.last = now
		t.dirty = false
		return true
	}

	t.dirty = true
	if t.wake == nil {
		t.wake = t.clock.After(t.interval - now.Sub(t.last))
	}
	return false
}

// Wake fires when held-back changes are due. Nil when nothing is pending.
func (t *emissionThrottle) Wake() <-chan time.Time {
	return t.wake
}

// Fired must be called when Wake fires. It reports whether to emit.
func (t *emissionThrottle) Fired() bool {
	t.wake = nil
	if !t.dirty {
		return false
	}
	t.last = t.clock.Now()
	t.dirty = false
	return true
}
