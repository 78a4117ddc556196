package rules

import (
	"context"
	"time"

	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/domain"
)

// SessionBlockOutside is Rule 9: an order arrives outside the configured
// trading window for its zone (§4.11). Grounded on the Reset Scheduler's
// zone-aware clock handling for parsing/loading the configured location.
type SessionBlockOutside struct{}

func (SessionBlockOutside) ID() string { return "R9" }

func (SessionBlockOutside) Enabled(cfg *config.RulesConfig) bool {
	return cfg.SessionBlockOutside.Enabled
}

func (SessionBlockOutside) Triggers() []domain.EventType {
	return []domain.EventType{domain.EventTypeUserOrder}
}

func (SessionBlockOutside) Check(accountID int64, ev domain.Event, v *View) *Breach {
	oe, ok := ev.(domain.UserOrderEvent)
	if !ok {
		return nil
	}
	cfg := v.Cfg.SessionBlockOutside

	loc, err := time.LoadLocation(cfg.Zone)
	if err != nil {
		loc = time.UTC
	}
	start, err := time.Parse("15:04", cfg.Start)
	if err != nil {
		return nil
	}
	end, err := time.Parse("15:04", cfg.End)
	if err != nil {
		return nil
	}

	now := v.now().In(loc)
	nowMinutes := now.Hour()*60 + now.Minute()
	startMinutes := start.Hour()*60 + start.Minute()
	endMinutes := end.Hour()*60 + end.Minute()

	inWindow := false
	if startMinutes <= endMinutes {
		inWindow = nowMinutes >= startMinutes && nowMinutes <= endMinutes
	} else {
		// window wraps midnight (e.g. 22:00-06:00)
		inWindow = nowMinutes >= startMinutes || nowMinutes <= endMinutes
	}
	if inWindow {
		return nil
	}

	reason := "order placed outside the configured trading session"
	orderID := oe.Order.ID
	return &Breach{
		RuleID:    "R9",
		AccountID: oe.AccountID,
		Reason:    reason,
		Enforce: func(ctx context.Context) error {
			return v.Executor.CancelOrder(ctx, oe.AccountID, orderID, "R9", reason)
		},
	}
}
