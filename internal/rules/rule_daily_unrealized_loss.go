package rules

import (
	"context"

	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/shopspring/decimal"
)

// DailyUnrealizedLoss is Rule 4: per-position or account-total unrealized
// P&L breaches a loss limit on a quote tick (§4.11, §4.11c).
type DailyUnrealizedLoss struct{}

func (DailyUnrealizedLoss) ID() string { return "R4" }

func (DailyUnrealizedLoss) Enabled(cfg *config.RulesConfig) bool {
	return cfg.DailyUnrealizedLoss.Enabled
}

func (DailyUnrealizedLoss) Triggers() []domain.EventType {
	return []domain.EventType{domain.EventTypeMarketQuote}
}

func (DailyUnrealizedLoss) Check(accountID int64, ev domain.Event, v *View) *Breach {
	qe, ok := ev.(domain.MarketQuoteEvent)
	if !ok {
		return nil
	}
	cfg := v.Cfg.DailyUnrealizedLoss
	limit := decimal.NewFromFloat(cfg.LossLimit).Neg()
	ctx := context.Background()

	if cfg.Scope == "total" {
		u, ok := v.PnL.GetUnrealized(ctx, accountID, v.now())
		if !ok || u.Amount.GreaterThan(limit) {
			return nil
		}
		reason := "account total unrealized loss limit breached"
		return &Breach{
			RuleID: "R4", AccountID: accountID, Reason: reason,
			Enforce: func(ctx context.Context) error {
				if err := v.Executor.CloseAllPositions(ctx, accountID, "R4", reason); err != nil {
					return err
				}
				return applyLockoutIfConfigured(v, accountID, "R4", reason, cfg.Lockout)
			},
		}
	}

	for _, p := range v.States.GetPositions(accountID) {
		if p.ContractID != qe.Quote.ContractID {
			continue
		}
		u, ok := v.PnL.GetUnrealizedForPosition(ctx, p, v.now())
		if !ok || u.Amount.GreaterThan(limit) {
			continue
		}
		reason := "position unrealized loss limit breached"
		contractID := p.ContractID
		return &Breach{
			RuleID: "R4", AccountID: accountID, Reason: reason,
			Enforce: func(ctx context.Context) error {
				if err := v.Executor.ClosePosition(ctx, accountID, contractID, "R4", reason); err != nil {
					return err
				}
				return applyLockoutIfConfigured(v, accountID, "R4", reason, cfg.Lockout)
			},
		}
	}
	return nil
}

func applyLockoutIfConfigured(v *View, accountID int64, ruleID, reason string, enabled bool) error {
	if !enabled {
		return nil
	}
	until := v.NextReset()
	return v.Executor.ApplyLockout(accountID, domain.Lockout{
		AccountID: accountID,
		Reason:    reason,
		RuleID:    ruleID,
		LockedAt:  v.now(),
		Until:     &until,
		Kind:      domain.LockoutKindHard,
	}, ruleID, reason)
}
