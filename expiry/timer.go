// Package expiry counts an invoice down to its deadline.
//
// The remaining time is always recomputed from the wall clock anchor, never
// from the number of ticks delivered, so a late or skipped tick cannot make
// the countdown drift.
package expiry

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// TickInterval is the countdown cadence.
const TickInterval = time.Second

// TickFunc receives the remaining whole seconds on every tick. It runs on the
// timer goroutine.
type TickFunc func(remaining time.Duration)

type Timer struct {
	clock  clock.Clock
	onTick TickFunc

	mu       sync.Mutex
	anchor   time.Time
	anchored bool
	ttl      time.Duration
	lowest   time.Duration
	running  bool
	quit     chan struct{}
	finished chan struct{}
}

// New creates a stopped timer. onTick may be nil.
func New(c clock.Clock, onTick TickFunc) *Timer {
	if c == nil {
		c = clock.NewDefaultClock()
	}

	return &Timer{
		clock:  c,
		onTick: onTick,
	}
}

// Start anchors the countdown and begins ticking. Starting a running timer
// restarts it. The ttl is truncated to whole seconds.
func (t *Timer) Start(anchor time.Time, ttl time.Duration) {
	t.Stop()

	ttl = ttl.Truncate(time.Second)
	if ttl < 0 {
		ttl = 0
	}

	t.mu.Lock()
	t.anchor = anchor
	t.anchored = true
	t.ttl = ttl
	t.lowest = ttl
	t.running = true
	quit := make(chan struct{})
	finished := make(chan struct{})
	t.quit = quit
	t.finished = finished
	t.mu.Unlock()

	go t.run(quit, finished)
}

func (t *Timer) run(quit, finished chan struct{}) {
	defer close(finished)

	for {
		select {
		case <-quit:
			return
		case <-t.clock.TickAfter(TickInterval):
		}

		t.mu.Lock()
		if t.quit != quit {
			t.mu.Unlock()

			return
		}
		remaining := t.remainingLocked()
		t.mu.Unlock()

		if t.onTick != nil {
			select {
			case <-quit:
				return
			default:
			}
			t.onTick(remaining)
		}
	}
}

// Remaining returns the time left, truncated to whole seconds. It never
// increases while the timer runs and stays at zero once reached.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return t.lowest
	}

	return t.remainingLocked()
}

func (t *Timer) remainingLocked() time.Duration {
	elapsed := t.clock.Now().Sub(t.anchor).Truncate(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	remaining := t.ttl - elapsed
	if remaining < 0 {
		remaining = 0
	}
	if remaining < t.lowest {
		t.lowest = remaining
	}

	return t.lowest
}

// RemainingSeconds is Remaining in whole seconds.
func (t *Timer) RemainingSeconds() int64 {
	return int64(t.Remaining() / time.Second)
}

// Expired reports whether the countdown reached zero. A timer that was never
// started has not expired.
func (t *Timer) Expired() bool {
	t.mu.Lock()
	anchored := t.anchored
	t.mu.Unlock()

	return anchored && t.Remaining() == 0
}

func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.running
}

// Stop halts the ticks and waits for the tick goroutine to exit, so no tick
// is delivered after Stop returns. Safe to call repeatedly or before Start,
// but not from inside the tick callback.
func (t *Timer) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()

		return
	}
	t.remainingLocked()
	t.running = false
	quit, finished := t.quit, t.finished
	t.quit = nil
	t.mu.Unlock()

	close(quit)
	<-finished
}
