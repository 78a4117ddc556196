// Package quotetracker implements the Quote Tracker (C3): per-contract
// last/bid/ask with a freshness clock and fan-out subscriptions
// (SPEC_FULL.md §4.4).
//
// Grounded on original_source/src/core/quote_tracker.py (in-memory map,
// synchronous subscriber callbacks, is_quote_stale/get_quote_age), translated
// into Go with a short per-contract lock per §5's shared-resource policy
// ("single writer per contract ... no cross-contract global lock").
package quotetracker

import (
	"sync"
	"time"

	"github.com/aristath/riskguard/internal/domain"
)

// Subscriber is invoked synchronously on every quote update for a contract
// it is registered against. Per §4.4, a long-running callback blocks further
// updates for that contract, so subscribers must not do heavy work inline.
type Subscriber func(q domain.Quote)

type contractState struct {
	mu    sync.RWMutex
	quote domain.Quote
	subs  []Subscriber
}

// Tracker is the in-memory quote map.
type Tracker struct {
	mapMu     sync.RWMutex
	contracts map[string]*contractState
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{contracts: make(map[string]*contractState)}
}

func (t *Tracker) stateFor(contractID string) *contractState {
	t.mapMu.RLock()
	cs, ok := t.contracts[contractID]
	t.mapMu.RUnlock()
	if ok {
		return cs
	}

	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	if cs, ok := t.contracts[contractID]; ok {
		return cs
	}
	cs = &contractState{}
	t.contracts[contractID] = cs
	return cs
}

// UpdateQuote overwrites the last-known quote for a contract and invokes
// subscribers synchronously (§4.4).
func (t *Tracker) UpdateQuote(q domain.Quote) {
	cs := t.stateFor(q.ContractID)
	cs.mu.Lock()
	cs.quote = q
	subs := append([]Subscriber(nil), cs.subs...)
	cs.mu.Unlock()

	for _, sub := range subs {
		sub(q)
	}
}

// GetLast returns the last known quote for a contract.
func (t *Tracker) GetLast(contractID string) (domain.Quote, bool) {
	t.mapMu.RLock()
	cs, ok := t.contracts[contractID]
	t.mapMu.RUnlock()
	if !ok {
		return domain.Quote{}, false
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.quote.ContractID == "" {
		return domain.Quote{}, false
	}
	return cs.quote, true
}

// GetQuoteAge returns how long ago the quote for a contract was received.
func (t *Tracker) GetQuoteAge(contractID string, now time.Time) (time.Duration, bool) {
	q, ok := t.GetLast(contractID)
	if !ok {
		return 0, false
	}
	return now.Sub(q.LocalRxTs), true
}

// IsStale reports whether the quote for a contract is older than maxAge, or
// true if no quote has been seen yet (the caller's default posture should
// treat "no quote" the same as "stale").
func (t *Tracker) IsStale(contractID string, maxAge time.Duration, now time.Time) bool {
	q, ok := t.GetLast(contractID)
	if !ok {
		return true
	}
	return q.IsStale(now, maxAge)
}

// Subscribe registers a callback invoked on every future update for the
// given contract ids.
func (t *Tracker) Subscribe(contractIDs []string, sub Subscriber) {
	for _, id := range contractIDs {
		cs := t.stateFor(id)
		cs.mu.Lock()
		cs.subs = append(cs.subs, sub)
		cs.mu.Unlock()
	}
}
