// Package domain holds the data model shared by every risk-enforcement
// component: contracts, quotes, positions, orders, trades, lockouts, daily
// P&L, timers, and the enforcement log.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is a position's directional exposure.
type Side int

const (
	SideLong Side = iota + 1
	SideShort
)

func (s Side) String() string {
	if s == SideShort {
		return "short"
	}
	return "long"
}

// OrderSide is the transactional direction of an order.
type OrderSide int

const (
	OrderSideBuy OrderSide = iota
	OrderSideSell
)

// OrderType enumerates the order types the core needs to reason about for
// stop-loss qualification (§4.11a) and session-block cancellation (R9).
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeStop
	OrderTypeStopLimit
	OrderTypeTrailingStop
)

// IsStopFamily reports whether this order type can serve as a stop-loss per
// §4.11a's qualification rule.
func (t OrderType) IsStopFamily() bool {
	switch t {
	case OrderTypeStop, OrderTypeStopLimit, OrderTypeTrailingStop:
		return true
	default:
		return false
	}
}

// OrderStatus enumerates an order's lifecycle. Only Pending/Open orders are
// tracked in memory; terminal statuses mean the order does not exist in
// state (§3).
type OrderStatus int

const (
	OrderStatusPending OrderStatus = iota
	OrderStatusOpen
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusExpired
	OrderStatusRejected
)

// IsTerminal reports whether this status means the order is no longer
// working.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Contract is the per-contract metadata the Contract Cache owns (§3, §4.5).
// Invariant: TickSize > 0 and TickValue > 0.
type Contract struct {
	ID          string
	SymbolID    string
	TickSize    decimal.Decimal
	TickValue   decimal.Decimal
	DisplayName string
	CachedAt    time.Time
}

// Valid reports whether the contract satisfies the §3 invariant.
func (c Contract) Valid() bool {
	return c.TickSize.IsPositive() && c.TickValue.IsPositive()
}

// Quote is the last/bid/ask snapshot for a contract (§3, §4.4). Invariant:
// Bid <= Ask when both are present (zero value means "not present").
type Quote struct {
	ContractID string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Last       decimal.Decimal
	ExchangeTs time.Time
	LocalRxTs  time.Time
}

// IsStale reports whether the quote is older than maxAge as of now.
func (q Quote) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(q.LocalRxTs) > maxAge
}

// Position is a per-account open position (§3, §4.2). Invariant: Size=0
// means the position does not exist in state; callers delete rather than
// store a zero-size position.
type Position struct {
	ID            string
	AccountID     int64
	ContractID    string
	SymbolID      string
	Side          Side
	Size          int64
	AveragePrice  decimal.Decimal
	CreatedAt     time.Time
}

// Order is a per-account working order (§3, §4.2). Only Pending/Open orders
// are ever present in state.
type Order struct {
	ID         string
	AccountID  int64
	ContractID string
	SymbolID   string
	Type       OrderType
	Side       OrderSide
	Size       int64
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
}

// QualifiesAsStopFor reports whether this order qualifies as a stop-loss for
// position p, per §4.11a.
func (o Order) QualifiesAsStopFor(p Position) bool {
	if o.ContractID != p.ContractID {
		return false
	}
	if !o.Type.IsStopFamily() {
		return false
	}
	if o.Status != OrderStatusPending && o.Status != OrderStatusOpen {
		return false
	}
	if o.StopPrice == nil {
		return false
	}
	switch p.Side {
	case SideLong:
		return o.Side == OrderSideSell && o.StopPrice.LessThan(p.AveragePrice)
	case SideShort:
		return o.Side == OrderSideBuy && o.StopPrice.GreaterThan(p.AveragePrice)
	default:
		return false
	}
}

// Trade is an immutable execution fill (§3). PnL is nil for a half-turn
// (position-opening) trade.
type Trade struct {
	ID         string
	AccountID  int64
	ContractID string
	OrderID    string
	Side       OrderSide
	Size       int64
	Price      decimal.Decimal
	PnL        *decimal.Decimal
	Fees       decimal.Decimal
	Voided     bool
	Ts         time.Time
}

// LockoutKind distinguishes a hard (fixed-until) lockout from a
// timer-backed cooldown or a permanent (admin-clearable only) lockout.
type LockoutKind int

const (
	LockoutKindHard LockoutKind = iota
	LockoutKindCooldown
	LockoutKindPermanent
)

// Lockout is the (at most one) active lockout for an account (§3, §4.8).
// Until is nil for a permanent lockout.
type Lockout struct {
	AccountID int64
	Reason    string
	RuleID    string
	LockedAt  time.Time
	Until     *time.Time
	Kind      LockoutKind
}

// IsExpired reports whether the lockout should be lazily cleared as of now.
// Permanent lockouts are never expired by time.
func (l Lockout) IsExpired(now time.Time) bool {
	if l.Kind == LockoutKindPermanent || l.Until == nil {
		return false
	}
	return !now.Before(*l.Until)
}

// DailyPnL is the authoritative running realized total for the current
// session date (§3, §4.3).
type DailyPnL struct {
	AccountID int64
	Date      string // YYYY-MM-DD in the reset scheduler's configured zone
	Realized  decimal.Decimal
}

// TimerKind distinguishes the handful of conventional timer name prefixes
// used across the system (§3).
type TimerKind int

const (
	TimerKindLockout TimerKind = iota
	TimerKindCooldown
	TimerKindGrace
	TimerKindGeneric
)

// Timer is a named countdown owned by the Timer Wheel (§3, §4.7).
type Timer struct {
	Name      string
	ExpiresAt time.Time
	Kind      TimerKind
}

// EnforcementAction enumerates the kinds of mutation the Enforcement
// Executor can perform, for the append-only enforcement log (§3, §4.10).
type EnforcementAction string

const (
	ActionCloseAll        EnforcementAction = "close_all"
	ActionClosePosition   EnforcementAction = "close_position"
	ActionReduceToLimit   EnforcementAction = "reduce_to_limit"
	ActionCancelAllOrders EnforcementAction = "cancel_all_orders"
	ActionCancelOrder     EnforcementAction = "cancel_order"
	ActionPlaceStopLoss   EnforcementAction = "place_stop_loss"
	ActionApplyLockout    EnforcementAction = "apply_lockout"
	ActionRemoveLockout   EnforcementAction = "remove_lockout"
)

// EnforcementLogRecord is one append-only row of the enforcement log (§3,
// §6).
type EnforcementLogRecord struct {
	ID          string
	Ts          time.Time
	AccountID   int64
	RuleID      string
	Action      EnforcementAction
	Reason      string
	Details     map[string]any
	Success     bool
	ExecutionMs int64
}
