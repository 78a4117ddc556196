package rules

import (
	"context"

	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/shopspring/decimal"
)

// DailyRealizedLoss is Rule 3: the account's realized P&L for the current
// session has fallen to or below the configured loss limit. Grounded on
// §4.11's "close-all + cancel-all + hard lockout until lockoutUntil
// (default: next daily reset)" — the source's equivalent rule applies the
// same triad but does not separate cancel-all from close-all, which this
// rule does explicitly since open orders on a now-flattened account would
// otherwise still be live.
type DailyRealizedLoss struct{}

func (DailyRealizedLoss) ID() string { return "R3" }

func (DailyRealizedLoss) Enabled(cfg *config.RulesConfig) bool { return cfg.DailyRealizedLoss.Enabled }

func (DailyRealizedLoss) Triggers() []domain.EventType {
	return []domain.EventType{domain.EventTypeUserTrade}
}

func (DailyRealizedLoss) Check(accountID int64, ev domain.Event, v *View) *Breach {
	te, ok := ev.(domain.UserTradeEvent)
	if !ok {
		return nil
	}
	cfg := v.Cfg.DailyRealizedLoss
	realized, err := v.PnL.GetDailyRealized(te.AccountID, v.SessionDate())
	if err != nil {
		return nil
	}
	limit := decimal.NewFromFloat(cfg.LossLimit)
	if realized.GreaterThan(limit.Neg()) {
		return nil
	}

	reason := "daily realized loss limit breached"
	return &Breach{
		RuleID:    "R3",
		AccountID: te.AccountID,
		Reason:    reason,
		Enforce: func(ctx context.Context) error {
			if err := v.Executor.CloseAllPositions(ctx, te.AccountID, "R3", reason); err != nil {
				return err
			}
			if err := v.Executor.CancelAllOrders(ctx, te.AccountID, "R3", reason); err != nil {
				return err
			}
			until := v.NextReset()
			return v.Executor.ApplyLockout(te.AccountID, domain.Lockout{
				AccountID: te.AccountID,
				Reason:    reason,
				RuleID:    "R3",
				LockedAt:  v.now(),
				Until:     &until,
				Kind:      domain.LockoutKindHard,
			}, "R3", reason)
		},
	}
}
