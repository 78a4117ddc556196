// Package rules implements the Rule Catalog (C11): twelve pure breach
// checks plus the fixed catalog-order fan-out that feeds the Enforcement
// Executor (SPEC_FULL.md §4.11).
//
// Each rule is grounded on the corresponding original_source/src/rules/*.py
// module where one exists (noted per-file); where the source folds several
// behaviors into one generic class, the rule is grounded on §4.11's table
// row instead, since the distillation already names the breach condition
// precisely.
package rules

import (
	"context"
	"time"

	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/contractcache"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/aristath/riskguard/internal/enforcement"
	"github.com/aristath/riskguard/internal/lockout"
	"github.com/aristath/riskguard/internal/pnltracker"
	"github.com/aristath/riskguard/internal/quotetracker"
	"github.com/aristath/riskguard/internal/statetracker"
	"github.com/aristath/riskguard/internal/timerwheel"
	"github.com/aristath/riskguard/internal/tradecounter"
)

// View bundles read access to every tracker a rule's check function may
// need. Rules never mutate through View; all mutation goes through the
// Breach's Enforce closure, dispatched after every rule has evaluated
// (§4.11d).
type View struct {
	States    *statetracker.Tracker
	Quotes    *quotetracker.Tracker
	Contracts *contractcache.Cache
	PnL       *pnltracker.Tracker
	Trades    *tradecounter.Counter
	Timers    *timerwheel.Wheel
	Lockouts  *lockout.Manager
	Executor  *enforcement.Executor
	Pending   *PendingStopTracker
	Cfg       *config.RulesConfig
	Accounts  []int64
	Now       func() time.Time
	// NextReset returns the next scheduled daily reset instant. Rules whose
	// lockout duration is unspecified by §4.11 (R1, R4, R11) lock out until
	// this instant rather than inventing their own clock.
	NextReset func() time.Time
	// SessionDate returns the current session date, per the Reset
	// Scheduler's last announced reset (§4.3, §4.9).
	SessionDate func() string
}

func (v *View) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Breach is a rule's verdict that its condition was met on this event,
// carrying a self-contained enforcement closure captured at check time
// (the closure sees exactly the state the rule examined, avoiding a
// re-derivation step at dispatch time for data the rule already has).
type Breach struct {
	RuleID    string
	AccountID int64
	Reason    string
	Enforce   func(ctx context.Context) error
}

// Rule is implemented once per catalog entry (R1..R12). accountID is
// ev.Account() for account-scoped events; for the account-less
// MarketQuoteEvent the catalog supplies each configured account in turn, so
// a single quote tick can breach more than one account's positions in the
// same contract (§4.11's R4/R5 rows).
type Rule interface {
	ID() string
	Enabled(cfg *config.RulesConfig) bool
	Triggers() []domain.EventType
	Check(accountID int64, ev domain.Event, v *View) *Breach
}
