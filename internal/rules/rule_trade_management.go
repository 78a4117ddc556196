package rules

import (
	"context"

	"github.com/aristath/riskguard/internal/brokerage"
	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/shopspring/decimal"
)

// TradeManagement is Rule 12: a new position has no qualifying stop yet and
// auto stop-loss management is enabled, so the executor places one
// stopLossTicks away from the entry price (§4.11, §4.11a).
type TradeManagement struct{}

func (TradeManagement) ID() string { return "R12" }

func (TradeManagement) Enabled(cfg *config.RulesConfig) bool { return cfg.TradeManagement.Enabled }

func (TradeManagement) Triggers() []domain.EventType {
	return []domain.EventType{domain.EventTypeUserPosition}
}

func (TradeManagement) Check(accountID int64, ev domain.Event, v *View) *Breach {
	pe, ok := ev.(domain.UserPositionEvent)
	if !ok {
		return nil
	}
	cfg := v.Cfg.TradeManagement

	hasPending := false
	for _, e := range v.Pending.Pending() {
		if e.AccountID == accountID && e.PositionID == pe.Position.ID {
			hasPending = true
			break
		}
	}
	if !hasPending {
		return nil
	}

	ct, ok := v.Contracts.Get(context.Background(), pe.Position.ContractID)
	if !ok {
		return nil
	}

	offset := ct.TickSize.Mul(decimal.NewFromInt(int64(cfg.StopLossTicks)))
	var stopPrice = pe.Position.AveragePrice
	var side domain.OrderSide
	if pe.Position.Side == domain.SideLong {
		stopPrice = stopPrice.Sub(offset)
		side = domain.OrderSideSell
	} else {
		stopPrice = stopPrice.Add(offset)
		side = domain.OrderSideBuy
	}

	reason := "auto stop-loss placement"
	positionID := pe.Position.ID
	contractID := pe.Position.ContractID
	symbolID := pe.Position.SymbolID
	size := pe.Position.Size
	return &Breach{
		RuleID:    "R12",
		AccountID: accountID,
		Reason:    reason,
		Enforce: func(ctx context.Context) error {
			req := brokerage.OrderRequest{
				ContractID: contractID,
				SymbolID:   symbolID,
				Side:       side,
				Type:       domain.OrderTypeStop,
				Size:       size,
				StopPrice:  &stopPrice,
			}
			if err := v.Executor.PlaceStopLossOrder(ctx, accountID, req, "R12", reason); err != nil {
				return err
			}
			v.Pending.Remove(accountID, positionID)
			return nil
		},
	}
}
