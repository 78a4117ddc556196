package rules

import (
	"context"

	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/domain"
)

// AuthLossGuard is Rule 10: the brokerage reports the account's
// authorization lost (or otherwise unusable), drawing an immediate
// close-all and a permanent lockout clearable only by an admin (§4.11).
type AuthLossGuard struct{}

func (AuthLossGuard) ID() string { return "R10" }

func (AuthLossGuard) Enabled(cfg *config.RulesConfig) bool {
	return cfg.AuthLossGuard.Enabled
}

func (AuthLossGuard) Triggers() []domain.EventType {
	return []domain.EventType{domain.EventTypeUserAccount}
}

func (AuthLossGuard) Check(accountID int64, ev domain.Event, v *View) *Breach {
	ae, ok := ev.(domain.UserAccountEvent)
	if !ok {
		return nil
	}
	switch ae.Status {
	case domain.AccountStatusAuthorizationLost, domain.AccountStatusSuspended:
	default:
		return nil
	}

	reason := "account authorization lost"
	return &Breach{
		RuleID:    "R10",
		AccountID: ae.AccountID,
		Reason:    reason,
		Enforce: func(ctx context.Context) error {
			if err := v.Executor.CloseAllPositions(ctx, ae.AccountID, "R10", reason); err != nil {
				return err
			}
			if err := v.Executor.CancelAllOrders(ctx, ae.AccountID, "R10", reason); err != nil {
				return err
			}
			return v.Executor.ApplyLockout(ae.AccountID, domain.Lockout{
				AccountID: ae.AccountID,
				Reason:    reason,
				RuleID:    "R10",
				LockedAt:  v.now(),
				Until:     nil,
				Kind:      domain.LockoutKindPermanent,
			}, "R10", reason)
		},
	}
}
