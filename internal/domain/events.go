package domain

import "time"

// EventType tags each concrete event so the dispatcher can route without a
// type switch at every call site.
type EventType string

const (
	EventTypeUserAccount  EventType = "user_account"
	EventTypeUserPosition EventType = "user_position"
	EventTypeUserOrder    EventType = "user_order"
	EventTypeUserTrade    EventType = "user_trade"
	EventTypeMarketQuote  EventType = "market_quote"
)

// Event is the tagged-variant interface every concrete brokerage event
// implements. Mirrors the teacher's EventData pattern (one EventType()
// method per struct) applied to the brokerage real-time client contract in
// SPEC_FULL.md §6 instead of portfolio events.
type Event interface {
	EventType() EventType
	Account() int64
}

// UserAccountStatus enumerates the account-level statuses Rule 10
// (AuthLossGuard) watches for.
type UserAccountStatus string

const (
	AccountStatusAuthorizationLost UserAccountStatus = "authorization_lost"
	AccountStatusActive            UserAccountStatus = "active"
	AccountStatusSuspended         UserAccountStatus = "suspended"
)

// UserAccountEvent carries account-level status changes. No tracker update
// is performed for this event type (§4.1); it flows straight to rule
// evaluation.
type UserAccountEvent struct {
	AccountID int64
	Status    UserAccountStatus
	Ts        time.Time
}

func (e UserAccountEvent) EventType() EventType { return EventTypeUserAccount }
func (e UserAccountEvent) Account() int64       { return e.AccountID }

// UserPositionEvent carries a position snapshot from the user hub. A Size of
// zero means the position should be removed from state (§3).
type UserPositionEvent struct {
	AccountID    int64
	Position     Position
	Ts           time.Time
}

func (e UserPositionEvent) EventType() EventType { return EventTypeUserPosition }
func (e UserPositionEvent) Account() int64       { return e.AccountID }

// UserOrderEvent carries a working-order snapshot from the user hub. A
// terminal Status means the order should be removed from state (§3).
type UserOrderEvent struct {
	AccountID int64
	Order     Order
	Ts        time.Time
}

func (e UserOrderEvent) EventType() EventType { return EventTypeUserOrder }
func (e UserOrderEvent) Account() int64       { return e.AccountID }

// UserTradeEvent carries an execution fill from the user hub.
type UserTradeEvent struct {
	AccountID int64
	Trade     Trade
	Ts        time.Time
}

func (e UserTradeEvent) EventType() EventType { return EventTypeUserTrade }
func (e UserTradeEvent) Account() int64       { return e.AccountID }

// MarketQuoteEvent carries a market-hub tick for a contract. It is not
// account-scoped; Account() returns 0, the dispatcher queues it on its single
// market channel, and the Rule Catalog evaluates it once per configured
// account (§4.1, §6).
type MarketQuoteEvent struct {
	Quote Quote
	Ts    time.Time
}

func (e MarketQuoteEvent) EventType() EventType { return EventTypeMarketQuote }
func (e MarketQuoteEvent) Account() int64       { return 0 }
