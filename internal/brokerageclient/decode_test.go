package brokerageclient

import (
	"testing"

	"github.com/aristath/riskguard/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUserFrame_Position(t *testing.T) {
	frame := []byte(`{
		"type": "position",
		"payload": {
			"accountId": 42,
			"position": {
				"id": "pos-1",
				"contractId": "ESU6",
				"symbolId": "ES",
				"side": 1,
				"size": 3,
				"averagePrice": "4500.25",
				"createdAt": "2026-07-31T09:30:00Z"
			},
			"ts": "2026-07-31T09:30:01Z"
		}
	}`)

	ev, err := DecodeUserFrame(frame)
	require.NoError(t, err)

	pe, ok := ev.(domain.UserPositionEvent)
	require.True(t, ok)
	assert.Equal(t, int64(42), pe.AccountID)
	assert.Equal(t, "pos-1", pe.Position.ID)
	assert.Equal(t, "ESU6", pe.Position.ContractID)
	assert.Equal(t, int64(3), pe.Position.Size)
	assert.True(t, pe.Position.AveragePrice.Equal(decimal.RequireFromString("4500.25")))
}

func TestDecodeUserFrame_Trade(t *testing.T) {
	frame := []byte(`{
		"type": "trade",
		"payload": {
			"accountId": 7,
			"trade": {
				"id": "t-1",
				"contractId": "NQU6",
				"orderId": "o-1",
				"side": 0,
				"size": 1,
				"price": "18000",
				"pnl": "125.50",
				"fees": "2.10",
				"voided": false,
				"ts": "2026-07-31T09:31:00Z"
			},
			"ts": "2026-07-31T09:31:00Z"
		}
	}`)

	ev, err := DecodeUserFrame(frame)
	require.NoError(t, err)

	te, ok := ev.(domain.UserTradeEvent)
	require.True(t, ok)
	assert.Equal(t, int64(7), te.AccountID)
	require.NotNil(t, te.Trade.PnL)
	assert.True(t, te.Trade.PnL.Equal(decimal.RequireFromString("125.50")))
	assert.False(t, te.Trade.Voided)
}

func TestDecodeUserFrame_UnknownType(t *testing.T) {
	_, err := DecodeUserFrame([]byte(`{"type": "nonsense", "payload": {}}`))
	assert.Error(t, err)
}

func TestDecodeMarketFrame_Quote(t *testing.T) {
	frame := []byte(`{
		"type": "quote",
		"payload": {
			"contractId": "ESU6",
			"bid": "4500.00",
			"ask": "4500.25",
			"last": "4500.25",
			"exchangeTs": "2026-07-31T09:30:00Z"
		}
	}`)

	ev, err := DecodeMarketFrame(frame)
	require.NoError(t, err)

	qe, ok := ev.(domain.MarketQuoteEvent)
	require.True(t, ok)
	assert.Equal(t, "ESU6", qe.Quote.ContractID)
	assert.True(t, qe.Quote.Bid.Equal(decimal.RequireFromString("4500.00")))
	assert.False(t, qe.Quote.LocalRxTs.IsZero())
}

func TestDecodeMarketFrame_WrongType(t *testing.T) {
	_, err := DecodeMarketFrame([]byte(`{"type": "trade", "payload": {}}`))
	assert.Error(t, err)
}
