// Package scheduler keeps in-memory timers for notifications that become
// due in the future, and rebuilds them from the database on startup.
package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Arena holds at most one pending timer per key.
//
// Cancel and Schedule take the arena lock, and a firing timer checks under
// the same lock that it is still the current entry for its key before it
// runs. A timer cancelled or replaced before that check never runs.
type Arena[K comparable] struct {
	clock clockwork.Clock

	mu      sync.Mutex
	timers  map[K]*entry
	onCount func(int)
}

type entry struct {
	timer clockwork.Timer
	at    time.Time
}

func (e *entry) stop() {
	if e.timer != nil {
		e.timer.Stop()
	}
}

func NewArena[K comparable](clock clockwork.Clock) *Arena[K] {
	return &Arena[K]{clock: clock, timers: make(map[K]*entry)}
}

// Schedule arms fn to run at at, replacing any timer already pending for
// key. A time in the past fires immediately.
func (a *Arena[K]) Schedule(key K, at time.Time, fn func()) {
	e := &entry{at: at}
	a.mu.Lock()
	if old, ok := a.timers[key]; ok {
		old.stop()
	}
	a.timers[key] = e
	a.changed()
	a.mu.Unlock()

	delay := at.Sub(a.clock.Now())
	if delay < 0 {
		delay = 0
	}
	// The timer is created outside the lock since a clock may run the
	// callback before AfterFunc returns.
	t := a.clock.AfterFunc(delay, func() {
		a.mu.Lock()
		if a.timers[key] != e {
			a.mu.Unlock()
			return
		}
		delete(a.timers, key)
		a.changed()
		a.mu.Unlock()
		fn()
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	e.timer = t
	if a.timers[key] != e {
		t.Stop()
	}
}

// Cancel drops the timer pending for key. It reports whether there was one.
func (a *Arena[K]) Cancel(key K) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.timers[key]
	if !ok {
		return false
	}
	e.stop()
	delete(a.timers, key)
	a.changed()
	return true
}

// When returns the fire time of the timer pending for key.
func (a *Arena[K]) When(key K) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.timers[key]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Len returns the number of pending timers.
func (a *Arena[K]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timers)
}

// Stop cancels every pending timer.
func (a *Arena[K]) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, e := range a.timers {
		e.stop()
		delete(a.timers, key)
	}
	a.changed()
}

// OnCount registers f to be called with the number of pending timers
// whenever it changes. f runs with the arena locked.
func (a *Arena[K]) OnCount(f func(int)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onCount = f
}

func (a *Arena[K]) changed() {
	if a.onCount != nil {
		a.onCount(len(a.timers))
	}
}
