package rules

import (
	"context"

	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/domain"
)

// MaxContractsPerSymbol is Rule 2: per-symbol contract count over that
// symbol's configured limit. Grounded on §4.11b's per-instrument counting
// semantics; a symbol absent from the configured limit map is handled per
// UnknownSymbolAction ("reject" closes it down to zero, "allow" skips the
// check entirely).
type MaxContractsPerSymbol struct{}

func (MaxContractsPerSymbol) ID() string { return "R2" }

func (MaxContractsPerSymbol) Enabled(cfg *config.RulesConfig) bool {
	return cfg.MaxContractsPerSymbol.Enabled
}

func (MaxContractsPerSymbol) Triggers() []domain.EventType {
	return []domain.EventType{domain.EventTypeUserPosition}
}

func (MaxContractsPerSymbol) Check(accountID int64, ev domain.Event, v *View) *Breach {
	pe, ok := ev.(domain.UserPositionEvent)
	if !ok {
		return nil
	}
	cfg := v.Cfg.MaxContractsPerSymbol
	symbolID := pe.Position.SymbolID

	limit, known := cfg.LimitsBySymbol[symbolID]
	if !known {
		if cfg.UnknownSymbolAction != "reject" {
			return nil
		}
		limit = 0
	}

	count := v.States.GetContractCount(pe.AccountID, symbolID)
	if count <= limit {
		return nil
	}

	reason := "per-instrument contract count exceeds limit"
	over := count - limit
	return &Breach{
		RuleID:    "R2",
		AccountID: pe.AccountID,
		Reason:    reason,
		Enforce: func(ctx context.Context) error {
			target := pe.Position.Size - over
			if target <= 0 {
				return v.Executor.ClosePosition(ctx, pe.AccountID, pe.Position.ContractID, "R2", reason)
			}
			return v.Executor.ReducePositionToLimit(ctx, pe.AccountID, pe.Position.ContractID, target, "R2", reason)
		},
	}
}
