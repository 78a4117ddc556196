package rules

import (
	"sync"
	"time"

	"github.com/aristath/riskguard/internal/statetracker"
)

// PendingStopTracker is the §3 "pending-stop tracker": the set of open
// positions that have not yet seen a qualifying stop-loss order, each
// tagged with its opening time. Rule 8 (NoStopLossGrace) walks this set on
// every timer tick; Rule 12 (TradeManagement) removes an entry the moment
// it places a qualifying stop itself.
//
// Grounded on original_source/src/core/state_manager.py's position-event
// hook pattern: recomputed from State Tracker's change signal rather than
// independently tracking position/order events, so it can never drift from
// the authoritative position/order maps.
type PendingStopTracker struct {
	states *statetracker.Tracker

	mu      sync.Mutex
	opened  map[int64]map[string]time.Time // accountID -> positionID -> openedAt
}

// NewPendingStopTracker constructs a tracker and wires itself to the State
// Tracker's change signal.
func NewPendingStopTracker(states *statetracker.Tracker) *PendingStopTracker {
	t := &PendingStopTracker{states: states, opened: make(map[int64]map[string]time.Time)}
	states.OnChange(t.recompute)
	return t
}

func (t *PendingStopTracker) recompute(accountID int64) {
	positions := t.states.GetPositions(accountID)
	orders := t.states.GetOrders(accountID)

	qualified := make(map[string]bool, len(positions))
	for _, p := range positions {
		for _, o := range orders {
			if o.QualifiesAsStopFor(p) {
				qualified[p.ID] = true
				break
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	acct, ok := t.opened[accountID]
	if !ok {
		acct = make(map[string]time.Time)
		t.opened[accountID] = acct
	}

	live := make(map[string]bool, len(positions))
	for _, p := range positions {
		live[p.ID] = true
		if qualified[p.ID] {
			delete(acct, p.ID)
			continue
		}
		if _, tracked := acct[p.ID]; !tracked {
			acct[p.ID] = p.CreatedAt
		}
	}
	for id := range acct {
		if !live[id] {
			delete(acct, id)
		}
	}
}

// Entry is one pending-stop record surfaced to Rule 8.
type Entry struct {
	AccountID  int64
	PositionID string
	OpenedAt   time.Time
}

// Pending returns every position still missing a qualifying stop, across
// all accounts.
func (t *PendingStopTracker) Pending() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Entry
	for acct, positions := range t.opened {
		for id, openedAt := range positions {
			out = append(out, Entry{AccountID: acct, PositionID: id, OpenedAt: openedAt})
		}
	}
	return out
}

// Remove explicitly clears a position from the pending set (Rule 12, after
// it places its own protective stop).
func (t *PendingStopTracker) Remove(accountID int64, positionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if acct, ok := t.opened[accountID]; ok {
		delete(acct, positionID)
	}
}
