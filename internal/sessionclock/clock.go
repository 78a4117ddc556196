// Package sessionclock holds the single "current session date" shared by
// the P&L Tracker and Trade Counter partitions (SPEC_FULL.md §4.3, §4.6).
// The Reset Scheduler owns the authoritative transition; this is a small
// read-mostly cache of its last-announced date so rules and trackers don't
// each need a reference to the scheduler itself.
package sessionclock

import (
	"sync"
	"time"
)

// Clock holds the current session date as a "YYYY-MM-DD" string in the
// scheduler's configured zone.
type Clock struct {
	mu   sync.RWMutex
	date string
}

// New constructs a Clock seeded from now in the given zone, so a process
// that starts mid-session has a sensible session date before the first
// reset fires.
func New(now time.Time, loc *time.Location) *Clock {
	return &Clock{date: now.In(loc).Format("2006-01-02")}
}

// Date returns the current session date.
func (c *Clock) Date() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.date
}

// SetDate advances the session date. Called from the Reset Scheduler's
// onReset callback.
func (c *Clock) SetDate(date string) {
	c.mu.Lock()
	c.date = date
	c.mu.Unlock()
}
