package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/shopspring/decimal"
)

// CooldownAfterLoss is Rule 7: a single trade's loss matches a configured
// tier, drawing that tier's cooldown. Tiers are evaluated for the *most
// severe* (most negative lossAmount) matching tier rather than the first
// one encountered in configuration order — the source picks the first
// ascending-order match instead, which under-applies the cooldown when a
// loss qualifies for more than one tier; this is a deliberate fix.
type CooldownAfterLoss struct{}

func (CooldownAfterLoss) ID() string { return "R7" }

func (CooldownAfterLoss) Enabled(cfg *config.RulesConfig) bool {
	return cfg.CooldownAfterLoss.Enabled
}

func (CooldownAfterLoss) Triggers() []domain.EventType {
	return []domain.EventType{domain.EventTypeUserTrade}
}

func (CooldownAfterLoss) Check(accountID int64, ev domain.Event, v *View) *Breach {
	te, ok := ev.(domain.UserTradeEvent)
	if !ok || te.Trade.PnL == nil {
		return nil
	}
	pnl := *te.Trade.PnL
	if !pnl.IsNegative() {
		return nil
	}

	cfg := v.Cfg.CooldownAfterLoss
	var worst *config.CooldownTier
	for i := range cfg.Tiers {
		tier := cfg.Tiers[i]
		threshold := decimal.NewFromFloat(tier.LossAmount)
		if pnl.GreaterThan(threshold) {
			continue
		}
		if worst == nil || tier.LossAmount < worst.LossAmount {
			worst = &cfg.Tiers[i]
		}
	}
	if worst == nil {
		return nil
	}

	reason := fmt.Sprintf("trade loss %s matched cooldown tier", pnl.StringFixed(2))
	cooldown := time.Duration(worst.CooldownSeconds) * time.Second
	return &Breach{
		RuleID:    "R7",
		AccountID: accountID,
		Reason:    reason,
		Enforce: func(ctx context.Context) error {
			now := v.now()
			until := now.Add(cooldown)
			name := fmt.Sprintf("cooldown_%d", te.AccountID)
			v.Timers.StartTimer(name, "cooldown", cooldown, func(_, _ string) {
				_ = v.Executor.RemoveLockout(te.AccountID, "R7", "cooldown-after-loss expired")
			})
			return v.Executor.ApplyLockout(te.AccountID, domain.Lockout{
				AccountID: te.AccountID,
				Reason:    reason,
				RuleID:    "R7",
				LockedAt:  now,
				Until:     &until,
				Kind:      domain.LockoutKindCooldown,
			}, "R7", reason)
		},
	}
}
