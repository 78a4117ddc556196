package brokerageclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aristath/riskguard/internal/brokerage"
)

// subscribeFrame is the outbound control message sent over each hub to
// (re)establish a subscription, mirroring the envelope DecodeUserFrame and
// DecodeMarketFrame read on the way in.
type subscribeFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// HubSubscriber implements dispatcher.Subscriber by writing subscribe
// control frames over the user and market hubs.
type HubSubscriber struct {
	UserHub   *brokerage.Hub
	MarketHub *brokerage.Hub
}

// SubscribeAccounts sends a subscribe frame over the user hub listing every
// account id to stream.
func (s *HubSubscriber) SubscribeAccounts(ctx context.Context, accountIDs []int64) error {
	data, err := json.Marshal(subscribeFrame{Type: "subscribe_accounts", Data: accountIDs})
	if err != nil {
		return fmt.Errorf("marshaling account subscribe frame: %w", err)
	}
	return s.UserHub.Send(ctx, data)
}

// SubscribeContracts sends a subscribe frame over the market hub listing
// every contract id currently referenced by an open position.
func (s *HubSubscriber) SubscribeContracts(ctx context.Context, contractIDs []string) error {
	data, err := json.Marshal(subscribeFrame{Type: "subscribe_contracts", Data: contractIDs})
	if err != nil {
		return fmt.Errorf("marshaling contract subscribe frame: %w", err)
	}
	return s.MarketHub.Send(ctx, data)
}
