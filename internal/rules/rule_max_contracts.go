package rules

import (
	"context"

	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/domain"
)

// MaxContracts is Rule 1: net contract count over a configured limit
// (§4.11, §4.11b). Grounded on original_source/src/rules/max_contracts.py's
// net-count-then-reduce-or-close decision.
type MaxContracts struct{}

func (MaxContracts) ID() string { return "R1" }

func (MaxContracts) Enabled(cfg *config.RulesConfig) bool { return cfg.MaxContracts.Enabled }

func (MaxContracts) Triggers() []domain.EventType {
	return []domain.EventType{domain.EventTypeUserPosition}
}

func (MaxContracts) Check(accountID int64, ev domain.Event, v *View) *Breach {
	pe, ok := ev.(domain.UserPositionEvent)
	if !ok {
		return nil
	}
	cfg := v.Cfg.MaxContracts
	net := v.States.GetPositionCountNet(pe.AccountID)
	if net <= cfg.Limit {
		return nil
	}

	reason := "net contract count exceeds limit"
	return &Breach{
		RuleID:    "R1",
		AccountID: pe.AccountID,
		Reason:    reason,
		Enforce: func(ctx context.Context) error {
			var err error
			if cfg.ReduceToLimit {
				over := net - cfg.Limit
				err = v.Executor.ReducePositionToLimit(ctx, pe.AccountID, pe.Position.ContractID, pe.Position.Size-over, "R1", reason)
			} else {
				err = v.Executor.CloseAllPositions(ctx, pe.AccountID, "R1", reason)
			}
			if err != nil {
				return err
			}
			return applyLockoutIfConfigured(v, pe.AccountID, "R1", reason, cfg.Lockout)
		},
	}
}
