// Package timerwheel implements the Timer Wheel (C7): named countdowns
// swept once per second, firing callbacks outside the lock
// (SPEC_FULL.md §4.7).
//
// Grounded on original_source/src/core/timer_manager.py's name-keyed timer
// map and 1Hz sweep loop; reuse-replaces-existing semantics and
// panic-recovering callback dispatch are this package's additions, matching
// the defensive callback style used elsewhere in the teacher's scheduler
// code (pkg/logger + recover-and-log).
package timerwheel

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Callback is invoked when a timer expires. It receives the timer's name and
// associated kind string so a single dispatcher function can route multiple
// timer purposes.
type Callback func(name string, kind string)

type timer struct {
	name    string
	kind    string
	expires time.Time
	cb      Callback
}

// Wheel sweeps a set of named timers once per second.
type Wheel struct {
	log zerolog.Logger

	mu     sync.Mutex
	timers map[string]*timer

	tick time.Duration
}

// New constructs a Wheel. tick defaults to one second when zero.
func New(log zerolog.Logger, tick time.Duration) *Wheel {
	if tick <= 0 {
		tick = time.Second
	}
	return &Wheel{log: log, timers: make(map[string]*timer), tick: tick}
}

// StartTimer arms (or re-arms) a named timer. Starting a timer under a name
// already in use replaces it (§4.7: "starting a timer with a name already in
// use replaces the prior timer; the prior timer's callback never fires").
func (w *Wheel) StartTimer(name, kind string, d time.Duration, cb Callback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timers[name] = &timer{name: name, kind: kind, expires: time.Now().Add(d), cb: cb}
}

// CancelTimer removes a named timer without firing its callback.
func (w *Wheel) CancelTimer(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.timers, name)
}

// IsActive reports whether a named timer is currently armed.
func (w *Wheel) IsActive(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.timers[name]
	return ok
}

// RemainingTime returns how long until a named timer fires. ok is false if
// the timer is not armed.
func (w *Wheel) RemainingTime(name string, now time.Time) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.timers[name]
	if !ok {
		return 0, false
	}
	remaining := t.expires.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Run sweeps expired timers on the configured tick until ctx is cancelled.
// Callbacks execute after the expired timer is removed and outside the lock,
// so a callback that starts a new timer does not deadlock.
func (w *Wheel) Run(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.sweep(now)
		}
	}
}

func (w *Wheel) sweep(now time.Time) {
	var fired []*timer

	w.mu.Lock()
	for name, t := range w.timers {
		if !now.Before(t.expires) {
			fired = append(fired, t)
			delete(w.timers, name)
		}
	}
	w.mu.Unlock()

	for _, t := range fired {
		w.invoke(t)
	}
}

func (w *Wheel) invoke(t *timer) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Str("timer", t.name).Str("kind", t.kind).Msg("timer callback panicked")
		}
	}()
	t.cb(t.name, t.kind)
}
