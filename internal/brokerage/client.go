// Package brokerage defines the abstract brokerage capability surface the
// core depends on (SPEC_FULL.md §6) and a reconnecting WebSocket hub for the
// user/market real-time streams. RESTClient is an interface; the Hub is
// concrete but takes its frame decoder from the caller. The
// internal/brokerageclient package supplies a RESTClient implementation and
// frame decoders for one local wire contract.
package brokerage

import (
	"context"

	"github.com/aristath/riskguard/internal/domain"
	"github.com/shopspring/decimal"
)

// OrderRequest is the payload for placeOrder (§6).
type OrderRequest struct {
	ContractID string
	SymbolID   string
	Side       domain.OrderSide
	Type       domain.OrderType
	Size       int64
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
}

// CloseResult is the result of a close/cancel call. Success is true both for
// an actual close/cancel and for the brokerage's no-op-on-already-terminal
// response, per the executor's idempotence contract (§4.10).
type CloseResult struct {
	Success bool
}

// PartialCloseResult is the result of closePositionPartial.
type PartialCloseResult struct {
	Success bool
	NewSize int64
}

// PlaceOrderResult is the result of placeOrder.
type PlaceOrderResult struct {
	OrderID string
}

// RESTClient is the abstract brokerage REST capability set the Enforcement
// Executor and Contract Cache depend on (§6).
type RESTClient interface {
	SearchOpenPositions(ctx context.Context, accountID int64) ([]domain.Position, error)
	ClosePosition(ctx context.Context, accountID int64, contractID string) (CloseResult, error)
	ClosePositionPartial(ctx context.Context, accountID int64, contractID string, qty int64) (PartialCloseResult, error)
	SearchOpenOrders(ctx context.Context, accountID int64) ([]domain.Order, error)
	CancelOrder(ctx context.Context, accountID int64, orderID string) (CloseResult, error)
	PlaceOrder(ctx context.Context, accountID int64, req OrderRequest) (PlaceOrderResult, error)
	GetContractByID(ctx context.Context, contractID string) (domain.Contract, error)
}
