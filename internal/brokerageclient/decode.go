package brokerageclient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/riskguard/internal/domain"
	"github.com/shopspring/decimal"
)

// frameEnvelope is the {"type": "...", ...} shape every user/market hub
// frame arrives in, mirroring the teacher's websocket_client.go envelope
// pattern (a type discriminator plus a raw payload decoded per type).
type frameEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeUserFrame parses one user-hub frame into a domain.Event. Unknown
// frame types return an error so the hub logs and drops them rather than
// silently losing account state.
func DecodeUserFrame(data []byte) (domain.Event, error) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding user frame envelope: %w", err)
	}
	switch env.Type {
	case "account":
		var p struct {
			AccountID int64     `json:"accountId"`
			Status    string    `json:"status"`
			Ts        time.Time `json:"ts"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return domain.UserAccountEvent{
			AccountID: p.AccountID,
			Status:    domain.UserAccountStatus(p.Status),
			Ts:        p.Ts,
		}, nil
	case "position":
		var p struct {
			AccountID int64 `json:"accountId"`
			Position  struct {
				ID           string          `json:"id"`
				ContractID   string          `json:"contractId"`
				SymbolID     string          `json:"symbolId"`
				Side         int             `json:"side"`
				Size         int64           `json:"size"`
				AveragePrice decimal.Decimal `json:"averagePrice"`
				CreatedAt    time.Time       `json:"createdAt"`
			} `json:"position"`
			Ts time.Time `json:"ts"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return domain.UserPositionEvent{
			AccountID: p.AccountID,
			Position: domain.Position{
				ID:           p.Position.ID,
				AccountID:    p.AccountID,
				ContractID:   p.Position.ContractID,
				SymbolID:     p.Position.SymbolID,
				Side:         domain.Side(p.Position.Side),
				Size:         p.Position.Size,
				AveragePrice: p.Position.AveragePrice,
				CreatedAt:    p.Position.CreatedAt,
			},
			Ts: p.Ts,
		}, nil
	case "order":
		var p struct {
			AccountID int64 `json:"accountId"`
			Order     struct {
				ID         string           `json:"id"`
				ContractID string           `json:"contractId"`
				SymbolID   string           `json:"symbolId"`
				Type       int              `json:"type"`
				Side       int              `json:"side"`
				Size       int64            `json:"size"`
				LimitPrice *decimal.Decimal `json:"limitPrice"`
				StopPrice  *decimal.Decimal `json:"stopPrice"`
				Status     int              `json:"status"`
				CreatedAt  time.Time        `json:"createdAt"`
			} `json:"order"`
			Ts time.Time `json:"ts"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return domain.UserOrderEvent{
			AccountID: p.AccountID,
			Order: domain.Order{
				ID:         p.Order.ID,
				AccountID:  p.AccountID,
				ContractID: p.Order.ContractID,
				SymbolID:   p.Order.SymbolID,
				Type:       domain.OrderType(p.Order.Type),
				Side:       domain.OrderSide(p.Order.Side),
				Size:       p.Order.Size,
				LimitPrice: p.Order.LimitPrice,
				StopPrice:  p.Order.StopPrice,
				Status:     domain.OrderStatus(p.Order.Status),
				CreatedAt:  p.Order.CreatedAt,
			},
			Ts: p.Ts,
		}, nil
	case "trade":
		var p struct {
			AccountID int64 `json:"accountId"`
			Trade     struct {
				ID         string           `json:"id"`
				ContractID string           `json:"contractId"`
				OrderID    string           `json:"orderId"`
				Side       int              `json:"side"`
				Size       int64            `json:"size"`
				Price      decimal.Decimal  `json:"price"`
				PnL        *decimal.Decimal `json:"pnl"`
				Fees       decimal.Decimal  `json:"fees"`
				Voided     bool             `json:"voided"`
				Ts         time.Time        `json:"ts"`
			} `json:"trade"`
			Ts time.Time `json:"ts"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return domain.UserTradeEvent{
			AccountID: p.AccountID,
			Trade: domain.Trade{
				ID:         p.Trade.ID,
				AccountID:  p.AccountID,
				ContractID: p.Trade.ContractID,
				OrderID:    p.Trade.OrderID,
				Side:       domain.OrderSide(p.Trade.Side),
				Size:       p.Trade.Size,
				Price:      p.Trade.Price,
				PnL:        p.Trade.PnL,
				Fees:       p.Trade.Fees,
				Voided:     p.Trade.Voided,
				Ts:         p.Trade.Ts,
			},
			Ts: p.Ts,
		}, nil
	default:
		return nil, fmt.Errorf("unknown user frame type %q", env.Type)
	}
}

// DecodeMarketFrame parses one market-hub frame into a domain.Event. The
// market hub carries only quote ticks.
func DecodeMarketFrame(data []byte) (domain.Event, error) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding market frame envelope: %w", err)
	}
	if env.Type != "quote" {
		return nil, fmt.Errorf("unknown market frame type %q", env.Type)
	}
	var p struct {
		ContractID string          `json:"contractId"`
		Bid        decimal.Decimal `json:"bid"`
		Ask        decimal.Decimal `json:"ask"`
		Last       decimal.Decimal `json:"last"`
		ExchangeTs time.Time       `json:"exchangeTs"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, err
	}
	now := time.Now()
	return domain.MarketQuoteEvent{
		Quote: domain.Quote{
			ContractID: p.ContractID,
			Bid:        p.Bid,
			Ask:        p.Ask,
			Last:       p.Last,
			ExchangeTs: p.ExchangeTs,
			LocalRxTs:  now,
		},
		Ts: now,
	}, nil
}
