// Package pnltracker implements the P&L Tracker (C5): per-account daily
// realized P&L (event-fed) and unrealized P&L (computed from State, Quote,
// and Contract Cache) per SPEC_FULL.md §4.3.
//
// The realized side's running-total-since-reset pattern is grounded on
// original_source/src/core/state_manager.py's trade-driven accumulation and
// the daily_pnl table (§6). The unrealized side is the closed-form tick
// arithmetic in §4.3 — new code, not an analytical model (Non-goal, §1).
package pnltracker

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/riskguard/internal/contractcache"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/aristath/riskguard/internal/quotetracker"
	"github.com/aristath/riskguard/internal/statetracker"
	"github.com/shopspring/decimal"
)

// Persister is the subset of the durable store the tracker writes through to.
type Persister interface {
	SaveDailyPnL(domain.DailyPnL) error
	LoadDailyPnL(accountID int64, date string) (domain.DailyPnL, error)
}

// Unrealized is the result of an unrealized-P&L computation, carrying the
// stale flag per §4.3's staleness contract.
type Unrealized struct {
	Amount decimal.Decimal
	Stale  bool
}

// Tracker computes and tracks P&L.
type Tracker struct {
	store   Persister
	states  *statetracker.Tracker
	quotes  *quotetracker.Tracker
	cache   *contractcache.Cache
	staleAge time.Duration

	mu           sync.Mutex
	sessionDate  map[int64]string
	realized     map[int64]decimal.Decimal
}

// New constructs a Tracker.
func New(store Persister, states *statetracker.Tracker, quotes *quotetracker.Tracker, cache *contractcache.Cache, staleAge time.Duration) *Tracker {
	return &Tracker{
		store:       store,
		states:      states,
		quotes:      quotes,
		cache:       cache,
		staleAge:    staleAge,
		sessionDate: make(map[int64]string),
		realized:    make(map[int64]decimal.Decimal),
	}
}

// loadLocked ensures the in-memory realized total for an account's current
// session date is populated from the store. Caller must hold t.mu.
func (t *Tracker) loadLocked(accountID int64, date string) (decimal.Decimal, error) {
	if cur, ok := t.sessionDate[accountID]; ok && cur == date {
		return t.realized[accountID], nil
	}
	pnl, err := t.store.LoadDailyPnL(accountID, date)
	if err != nil {
		return decimal.Zero, err
	}
	t.sessionDate[accountID] = date
	t.realized[accountID] = pnl.Realized
	return pnl.Realized, nil
}

// AddTradePnl adds a trade's realized pnl to the account's running total for
// the given session date (§4.3: "Σ of trade.pnl for trades where pnl≠NIL and
// voided=false").
func (t *Tracker) AddTradePnl(accountID int64, sessionDate string, pnl decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, err := t.loadLocked(accountID, sessionDate)
	if err != nil {
		return err
	}
	updated := current.Add(pnl)
	t.realized[accountID] = updated

	return t.store.SaveDailyPnL(domain.DailyPnL{AccountID: accountID, Date: sessionDate, Realized: updated})
}

// GetDailyRealized returns the authoritative realized total for the
// account's current session date.
func (t *Tracker) GetDailyRealized(accountID int64, sessionDate string) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadLocked(accountID, sessionDate)
}

// ResetDaily zeroes the realized total for a new session date (§4.9 onReset
// callback).
func (t *Tracker) ResetDaily(accountID int64, newSessionDate string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionDate[accountID] = newSessionDate
	t.realized[accountID] = decimal.Zero
	return t.store.SaveDailyPnL(domain.DailyPnL{AccountID: accountID, Date: newSessionDate, Realized: decimal.Zero})
}

// GetUnrealizedForPosition computes unrealized P&L for a single position per
// the §4.3 formula. Returns ok=false when contract metadata or a quote for
// the contract is unavailable; otherwise Stale reports whether the quote is
// older than the staleness threshold (callers decide whether to act).
func (t *Tracker) GetUnrealizedForPosition(ctx context.Context, p domain.Position, now time.Time) (Unrealized, bool) {
	contract, ok := t.cache.Get(ctx, p.ContractID)
	if !ok {
		return Unrealized{}, false
	}
	quote, ok := t.quotes.GetLast(p.ContractID)
	if !ok {
		return Unrealized{}, false
	}
	stale := quote.IsStale(now, t.staleAge)

	var delta decimal.Decimal
	if p.Side == domain.SideLong {
		delta = quote.Last.Sub(p.AveragePrice)
	} else {
		delta = p.AveragePrice.Sub(quote.Last)
	}
	amount := delta.Div(contract.TickSize).Mul(contract.TickValue).Mul(decimal.NewFromInt(p.Size))
	return Unrealized{Amount: amount.Round(2), Stale: stale}, true
}

// GetUnrealized aggregates unrealized P&L across all of an account's
// positions (§4.3: "Aggregate ... is the sum over the account's
// positions"). The returned bool is false only when not a single position
// could be priced.
func (t *Tracker) GetUnrealized(ctx context.Context, accountID int64, now time.Time) (Unrealized, bool) {
	positions := t.states.GetPositions(accountID)
	total := decimal.Zero
	stale := false
	any := false
	for _, p := range positions {
		u, ok := t.GetUnrealizedForPosition(ctx, p, now)
		if !ok {
			continue
		}
		any = true
		total = total.Add(u.Amount)
		if u.Stale {
			stale = true
		}
	}
	if !any {
		return Unrealized{}, false
	}
	return Unrealized{Amount: total.Round(2), Stale: stale}, true
}
