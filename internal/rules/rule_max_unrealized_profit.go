package rules

import (
	"context"
	"sync"

	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/aristath/riskguard/internal/statetracker"
	"github.com/shopspring/decimal"
)

// MaxUnrealizedProfit is Rule 5: a position's unrealized P&L reaches a
// profit target (mode=target), or recovers to breakeven after having
// dipped into the red (mode=breakeven), both on a quote tick (§4.11).
//
// Breakeven mode needs per-position memory of "has this position been
// below -tickValue since it opened" that no other tracker keeps, so this
// rule carries its own small dip tracker recomputed off the State
// Tracker's change signal, the same pattern as PendingStopTracker.
type MaxUnrealizedProfit struct {
	dipped *dipTracker
}

// NewMaxUnrealizedProfit wires the breakeven dip tracker to states.
func NewMaxUnrealizedProfit(states *statetracker.Tracker) *MaxUnrealizedProfit {
	return &MaxUnrealizedProfit{dipped: newDipTracker(states)}
}

func (r *MaxUnrealizedProfit) ID() string { return "R5" }

func (r *MaxUnrealizedProfit) Enabled(cfg *config.RulesConfig) bool {
	return cfg.MaxUnrealizedProfit.Enabled
}

func (r *MaxUnrealizedProfit) Triggers() []domain.EventType {
	return []domain.EventType{domain.EventTypeMarketQuote}
}

func (r *MaxUnrealizedProfit) Check(accountID int64, ev domain.Event, v *View) *Breach {
	qe, ok := ev.(domain.MarketQuoteEvent)
	if !ok {
		return nil
	}
	cfg := v.Cfg.MaxUnrealizedProfit
	ctx := context.Background()

	for _, p := range v.States.GetPositions(accountID) {
		if p.ContractID != qe.Quote.ContractID {
			continue
		}
		u, ok := v.PnL.GetUnrealizedForPosition(ctx, p, v.now())
		if !ok {
			continue
		}

		if cfg.Mode == "breakeven" {
			ct, ok := v.Contracts.Get(ctx, p.ContractID)
			if !ok {
				continue
			}
			negTick := ct.TickValue.Neg()
			if u.Amount.LessThan(negTick) {
				r.dipped.mark(accountID, p.ID)
				continue
			}
			if !r.dipped.hasDipped(accountID, p.ID) || u.Amount.IsNegative() {
				continue
			}
		} else {
			target := decimal.NewFromFloat(cfg.ProfitTarget)
			if u.Amount.LessThan(target) {
				continue
			}
		}

		reason := "unrealized profit target reached"
		contractID := p.ContractID
		positionID := p.ID
		return &Breach{
			RuleID: "R5", AccountID: accountID, Reason: reason,
			Enforce: func(ctx context.Context) error {
				r.dipped.clear(accountID, positionID)
				return v.Executor.ClosePosition(ctx, accountID, contractID, "R5", reason)
			},
		}
	}
	return nil
}

// dipTracker remembers, per open position, whether unrealized P&L has ever
// gone below -tickValue since the position opened. Entries are dropped the
// moment the position closes so a later re-entry on the same contract
// starts fresh.
type dipTracker struct {
	states *statetracker.Tracker

	mu   sync.Mutex
	seen map[int64]map[string]bool
}

func newDipTracker(states *statetracker.Tracker) *dipTracker {
	t := &dipTracker{states: states, seen: make(map[int64]map[string]bool)}
	states.OnChange(t.recompute)
	return t
}

func (t *dipTracker) recompute(accountID int64) {
	positions := t.states.GetPositions(accountID)
	t.mu.Lock()
	defer t.mu.Unlock()
	acct, ok := t.seen[accountID]
	if !ok {
		return
	}
	live := make(map[string]bool, len(positions))
	for _, p := range positions {
		live[p.ID] = true
	}
	for id := range acct {
		if !live[id] {
			delete(acct, id)
		}
	}
}

func (t *dipTracker) mark(accountID int64, positionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	acct, ok := t.seen[accountID]
	if !ok {
		acct = make(map[string]bool)
		t.seen[accountID] = acct
	}
	acct[positionID] = true
}

func (t *dipTracker) hasDipped(accountID int64, positionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen[accountID][positionID]
}

func (t *dipTracker) clear(accountID int64, positionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if acct, ok := t.seen[accountID]; ok {
		delete(acct, positionID)
	}
}
