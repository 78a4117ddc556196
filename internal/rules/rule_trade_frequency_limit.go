package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/domain"
)

// TradeFrequencyLimit is Rule 6: too many trades inside a rolling window
// draws a cooldown lockout (§4.11). Grounded on the Trade Counter's rolling
// 1-hour ring (§9.2): windows of a minute or less use the trailing-minute
// count, and any longer window uses the trailing-hour count whatever its
// configured length, since the counter keeps only an hour of history.
type TradeFrequencyLimit struct{}

func (TradeFrequencyLimit) ID() string { return "R6" }

func (TradeFrequencyLimit) Enabled(cfg *config.RulesConfig) bool {
	return cfg.TradeFrequencyLimit.Enabled
}

func (TradeFrequencyLimit) Triggers() []domain.EventType {
	return []domain.EventType{domain.EventTypeUserTrade}
}

func (TradeFrequencyLimit) Check(accountID int64, ev domain.Event, v *View) *Breach {
	te, ok := ev.(domain.UserTradeEvent)
	if !ok {
		return nil
	}
	cfg := v.Cfg.TradeFrequencyLimit
	now := v.now()

	window, err := time.ParseDuration(cfg.Window)
	if err != nil {
		window = time.Minute
	}
	var count int
	if window <= time.Minute {
		count = v.Trades.CountLastMinute(accountID, now)
	} else {
		count = v.Trades.CountLastHour(accountID, now)
	}
	if count <= cfg.MaxTrades {
		return nil
	}

	reason := fmt.Sprintf("trade frequency limit exceeded (%d in %s)", count, cfg.Window)
	return &Breach{
		RuleID:    "R6",
		AccountID: accountID,
		Reason:    reason,
		Enforce: func(ctx context.Context) error {
			cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
			until := now.Add(cooldown)
			name := fmt.Sprintf("cooldown_%d", te.AccountID)
			v.Timers.StartTimer(name, "cooldown", cooldown, func(_, _ string) {
				_ = v.Executor.RemoveLockout(te.AccountID, "R6", "trade frequency cooldown expired")
			})
			return v.Executor.ApplyLockout(te.AccountID, domain.Lockout{
				AccountID: te.AccountID,
				Reason:    reason,
				RuleID:    "R6",
				LockedAt:  now,
				Until:     &until,
				Kind:      domain.LockoutKindCooldown,
			}, "R6", reason)
		},
	}
}
