// Package brokerageclient is a concrete brokerage.RESTClient implementation
// against a JSON-over-HTTP microservice, grounded on the teacher's
// internal/clients/tradernet.Client: a thin POST/GET wrapper around a
// {"success", "data", "error"} envelope, one http.Client with a fixed
// timeout, struct-tagged request/response types per endpoint.
//
// The wire protocol itself (§1 Non-goal) is deliberately generic here: a
// real deployment's brokerage speaks whatever REST dialect it speaks, and
// points BaseURL at an adapter service that translates to this shape. What
// this package fixes is the *local* contract between the core and that
// adapter, not the brokerage's own API.
package brokerageclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aristath/riskguard/internal/brokerage"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// envelope is the standard response shape the adapter service returns.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

var _ brokerage.RESTClient = (*Client)(nil)

// Client implements brokerage.RESTClient.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// New constructs a Client.
func New(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "brokerage").Logger(),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("brokerage request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}
	if !env.Success {
		msg := "unknown error"
		if env.Error != nil {
			msg = *env.Error
		}
		return fmt.Errorf("brokerage error: %s", msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

type positionWire struct {
	ID           string          `json:"id"`
	AccountID    int64           `json:"accountId"`
	ContractID   string          `json:"contractId"`
	SymbolID     string          `json:"symbolId"`
	Side         int             `json:"side"`
	Size         int64           `json:"size"`
	AveragePrice decimal.Decimal `json:"averagePrice"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (p positionWire) toDomain() domain.Position {
	return domain.Position{
		ID:           p.ID,
		AccountID:    p.AccountID,
		ContractID:   p.ContractID,
		SymbolID:     p.SymbolID,
		Side:         domain.Side(p.Side),
		Size:         p.Size,
		AveragePrice: p.AveragePrice,
		CreatedAt:    p.CreatedAt,
	}
}

// SearchOpenPositions implements brokerage.RESTClient.
func (c *Client) SearchOpenPositions(ctx context.Context, accountID int64) ([]domain.Position, error) {
	var wire []positionWire
	path := fmt.Sprintf("/api/accounts/%d/positions", accountID)
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(wire))
	for _, p := range wire {
		out = append(out, p.toDomain())
	}
	return out, nil
}

type closeResultWire struct {
	Success bool  `json:"success"`
	NewSize int64 `json:"newSize"`
}

// ClosePosition implements brokerage.RESTClient.
func (c *Client) ClosePosition(ctx context.Context, accountID int64, contractID string) (brokerage.CloseResult, error) {
	var wire closeResultWire
	path := fmt.Sprintf("/api/accounts/%d/positions/%s/close", accountID, contractID)
	if err := c.do(ctx, http.MethodPost, path, nil, &wire); err != nil {
		return brokerage.CloseResult{}, err
	}
	return brokerage.CloseResult{Success: wire.Success}, nil
}

// ClosePositionPartial implements brokerage.RESTClient.
func (c *Client) ClosePositionPartial(ctx context.Context, accountID int64, contractID string, qty int64) (brokerage.PartialCloseResult, error) {
	var wire closeResultWire
	path := fmt.Sprintf("/api/accounts/%d/positions/%s/close-partial", accountID, contractID)
	if err := c.do(ctx, http.MethodPost, path, map[string]int64{"qty": qty}, &wire); err != nil {
		return brokerage.PartialCloseResult{}, err
	}
	return brokerage.PartialCloseResult{Success: wire.Success, NewSize: wire.NewSize}, nil
}

type orderWire struct {
	ID         string           `json:"id"`
	AccountID  int64            `json:"accountId"`
	ContractID string           `json:"contractId"`
	SymbolID   string           `json:"symbolId"`
	Type       int              `json:"type"`
	Side       int              `json:"side"`
	Size       int64            `json:"size"`
	LimitPrice *decimal.Decimal `json:"limitPrice"`
	StopPrice  *decimal.Decimal `json:"stopPrice"`
	Status     int              `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
}

func (o orderWire) toDomain() domain.Order {
	return domain.Order{
		ID:         o.ID,
		AccountID:  o.AccountID,
		ContractID: o.ContractID,
		SymbolID:   o.SymbolID,
		Type:       domain.OrderType(o.Type),
		Side:       domain.OrderSide(o.Side),
		Size:       o.Size,
		LimitPrice: o.LimitPrice,
		StopPrice:  o.StopPrice,
		Status:     domain.OrderStatus(o.Status),
		CreatedAt:  o.CreatedAt,
	}
}

// SearchOpenOrders implements brokerage.RESTClient.
func (c *Client) SearchOpenOrders(ctx context.Context, accountID int64) ([]domain.Order, error) {
	var wire []orderWire
	path := fmt.Sprintf("/api/accounts/%d/orders", accountID)
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(wire))
	for _, o := range wire {
		out = append(out, o.toDomain())
	}
	return out, nil
}

// CancelOrder implements brokerage.RESTClient.
func (c *Client) CancelOrder(ctx context.Context, accountID int64, orderID string) (brokerage.CloseResult, error) {
	var wire closeResultWire
	path := fmt.Sprintf("/api/accounts/%d/orders/%s/cancel", accountID, orderID)
	if err := c.do(ctx, http.MethodPost, path, nil, &wire); err != nil {
		return brokerage.CloseResult{}, err
	}
	return brokerage.CloseResult{Success: wire.Success}, nil
}

type placeOrderResultWire struct {
	OrderID string `json:"orderId"`
}

// PlaceOrder implements brokerage.RESTClient.
func (c *Client) PlaceOrder(ctx context.Context, accountID int64, req brokerage.OrderRequest) (brokerage.PlaceOrderResult, error) {
	body := map[string]interface{}{
		"contractId": req.ContractID,
		"symbolId":   req.SymbolID,
		"side":       req.Side,
		"type":       req.Type,
		"size":       req.Size,
		"limitPrice": req.LimitPrice,
		"stopPrice":  req.StopPrice,
	}
	var wire placeOrderResultWire
	path := fmt.Sprintf("/api/accounts/%d/orders", accountID)
	if err := c.do(ctx, http.MethodPost, path, body, &wire); err != nil {
		return brokerage.PlaceOrderResult{}, err
	}
	return brokerage.PlaceOrderResult{OrderID: wire.OrderID}, nil
}

type contractWire struct {
	ID          string          `json:"id"`
	SymbolID    string          `json:"symbolId"`
	TickSize    decimal.Decimal `json:"tickSize"`
	TickValue   decimal.Decimal `json:"tickValue"`
	DisplayName string          `json:"displayName"`
}

// GetContractByID implements brokerage.RESTClient.
func (c *Client) GetContractByID(ctx context.Context, contractID string) (domain.Contract, error) {
	var wire contractWire
	path := fmt.Sprintf("/api/contracts/%s", contractID)
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return domain.Contract{}, err
	}
	return domain.Contract{
		ID:          wire.ID,
		SymbolID:    wire.SymbolID,
		TickSize:    wire.TickSize,
		TickValue:   wire.TickValue,
		DisplayName: wire.DisplayName,
		CachedAt:    time.Now(),
	}, nil
}
