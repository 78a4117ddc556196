package rules

import (
	"context"
	"fmt"

	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/domain"
)

// NoStopLossGrace is Rule 8: a position has been open longer than
// gracePeriodSeconds without a qualifying stop order (§4.11, §4.11a).
//
// Its real trigger is "timer tick", not a brokerage event (§4.11's row),
// so Check is a no-op satisfying the Rule interface for catalog listing;
// the catalog's periodic sweep calls Poll directly against every entry in
// the Pending Stop Tracker.
type NoStopLossGrace struct{}

func (NoStopLossGrace) ID() string { return "R8" }

func (NoStopLossGrace) Enabled(cfg *config.RulesConfig) bool {
	return cfg.NoStopLossGrace.Enabled
}

func (NoStopLossGrace) Triggers() []domain.EventType {
	return []domain.EventType{domain.EventTypeUserPosition, domain.EventTypeUserOrder}
}

func (NoStopLossGrace) Check(accountID int64, ev domain.Event, v *View) *Breach {
	return nil
}

// Poll walks every position still missing a qualifying stop and returns a
// Breach for each one whose grace period has elapsed (strictly greater
// than gracePeriodSeconds, per §4.11's "elapsed = grace is NOT a breach").
func (NoStopLossGrace) Poll(v *View) []*Breach {
	cfg := v.Cfg.NoStopLossGrace
	if !cfg.Enabled {
		return nil
	}
	now := v.now()
	grace := cfg.GracePeriodSeconds
	var out []*Breach
	for _, e := range v.Pending.Pending() {
		elapsed := now.Sub(e.OpenedAt).Seconds()
		if elapsed <= float64(grace) {
			continue
		}
		p, ok := v.States.GetPosition(e.AccountID, e.PositionID)
		if !ok {
			continue
		}
		reason := fmt.Sprintf("position open %0.fs with no qualifying stop (grace %ds)", elapsed, grace)
		accountID := e.AccountID
		contractID := p.ContractID
		positionID := e.PositionID
		out = append(out, &Breach{
			RuleID:    "R8",
			AccountID: accountID,
			Reason:    reason,
			Enforce: func(ctx context.Context) error {
				v.Pending.Remove(accountID, positionID)
				return v.Executor.ClosePosition(ctx, accountID, contractID, "R8", reason)
			},
		})
	}
	return out
}
