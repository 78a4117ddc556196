package rules

import (
	"context"

	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/domain"
)

// SymbolBlocks is Rule 11: a position or order touches a blocked symbol
// (§4.11). Working orders for the symbol are always cancelled; closing any
// existing position and applying a lockout are both configurable.
type SymbolBlocks struct{}

func (SymbolBlocks) ID() string { return "R11" }

func (SymbolBlocks) Enabled(cfg *config.RulesConfig) bool { return cfg.SymbolBlocks.Enabled }

func (SymbolBlocks) Triggers() []domain.EventType {
	return []domain.EventType{domain.EventTypeUserPosition, domain.EventTypeUserOrder}
}

func isBlockedSymbol(symbolID string, blocked []string) bool {
	for _, s := range blocked {
		if s == symbolID {
			return true
		}
	}
	return false
}

func (SymbolBlocks) Check(accountID int64, ev domain.Event, v *View) *Breach {
	cfg := v.Cfg.SymbolBlocks

	var symbolID string
	switch e := ev.(type) {
	case domain.UserPositionEvent:
		symbolID = e.Position.SymbolID
	case domain.UserOrderEvent:
		symbolID = e.Order.SymbolID
	default:
		return nil
	}
	if !isBlockedSymbol(symbolID, cfg.BlockedSymbols) {
		return nil
	}

	reason := "symbol is on the blocked list"
	return &Breach{
		RuleID:    "R11",
		AccountID: accountID,
		Reason:    reason,
		Enforce: func(ctx context.Context) error {
			for _, o := range v.States.GetOrders(accountID) {
				if o.SymbolID != symbolID {
					continue
				}
				if err := v.Executor.CancelOrder(ctx, accountID, o.ID, "R11", reason); err != nil {
					return err
				}
			}
			if cfg.CloseExisting {
				for _, p := range v.States.GetPositions(accountID) {
					if p.SymbolID != symbolID {
						continue
					}
					if err := v.Executor.ClosePosition(ctx, accountID, p.ContractID, "R11", reason); err != nil {
						return err
					}
				}
			}
			if cfg.Lockout {
				until := v.NextReset()
				return v.Executor.ApplyLockout(accountID, domain.Lockout{
					AccountID: accountID,
					Reason:    reason,
					RuleID:    "R11",
					LockedAt:  v.now(),
					Until:     &until,
					Kind:      domain.LockoutKindHard,
				}, "R11", reason)
			}
			return nil
		},
	}
}
