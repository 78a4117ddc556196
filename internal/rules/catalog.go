package rules

import (
	"github.com/aristath/riskguard/internal/domain"
)

// Catalog holds every rule in fixed catalog order (R1..R12) and fans a
// single event out across them (§4.11: "rules are evaluated in catalog
// order; enforcement actions are dispatched after all rules have been
// evaluated for that event").
type Catalog struct {
	rules []Rule
	grace NoStopLossGrace
}

// NewCatalog builds the fixed-order rule list. unrealizedProfit is
// constructed separately (R5) because it owns a dip tracker wired to the
// State Tracker's change signal.
func NewCatalog(unrealizedProfit *MaxUnrealizedProfit) *Catalog {
	return &Catalog{
		rules: []Rule{
			MaxContracts{},
			MaxContractsPerSymbol{},
			DailyRealizedLoss{},
			DailyUnrealizedLoss{},
			unrealizedProfit,
			TradeFrequencyLimit{},
			CooldownAfterLoss{},
			NoStopLossGrace{},
			SessionBlockOutside{},
			AuthLossGuard{},
			SymbolBlocks{},
			TradeManagement{},
		},
	}
}

// Evaluate runs every enabled rule whose Triggers() includes this event's
// type against it, returning every breach found. Account-scoped events
// resolve accountID directly; the account-less MarketQuoteEvent is
// evaluated once per account in v.Accounts, since a single tick can breach
// more than one account holding the quoted contract (R4/R5).
func (c *Catalog) Evaluate(ev domain.Event, v *View) []*Breach {
	var breaches []*Breach

	accounts := []int64{ev.Account()}
	if ev.EventType() == domain.EventTypeMarketQuote {
		accounts = v.Accounts
	}

	for _, r := range c.rules {
		if !r.Enabled(v.Cfg) {
			continue
		}
		if !triggersOn(r, ev.EventType()) {
			continue
		}
		for _, accountID := range accounts {
			if b := r.Check(accountID, ev, v); b != nil {
				breaches = append(breaches, b)
			}
		}
	}
	return breaches
}

// PollGrace runs Rule 8's periodic sweep over the pending-stop set,
// independent of any brokerage event (§4.11's "timer tick" trigger).
func (c *Catalog) PollGrace(v *View) []*Breach {
	return c.grace.Poll(v)
}

func triggersOn(r Rule, et domain.EventType) bool {
	for _, t := range r.Triggers() {
		if t == et {
			return true
		}
	}
	return false
}
