package quotetracker

import (
	"testing"
	"time"

	"github.com/aristath/riskguard/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateQuote_OverwritesInPlace(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.UpdateQuote(domain.Quote{ContractID: "MNQ", Last: decimal.NewFromInt(21000), LocalRxTs: now})
	tr.UpdateQuote(domain.Quote{ContractID: "MNQ", Last: decimal.NewFromInt(21050), LocalRxTs: now.Add(time.Second)})

	q, ok := tr.GetLast("MNQ")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(21050).Equal(q.Last))
}

func TestGetLast_UnknownContractNotFound(t *testing.T) {
	tr := New()
	_, ok := tr.GetLast("MNQ")
	assert.False(t, ok)
}

func TestIsStale_NoQuoteYetIsStale(t *testing.T) {
	tr := New()
	assert.True(t, tr.IsStale("MNQ", 10*time.Second, time.Now()))
}

func TestIsStale_FreshVsOldQuote(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.UpdateQuote(domain.Quote{ContractID: "MNQ", Last: decimal.NewFromInt(21000), LocalRxTs: now})

	assert.False(t, tr.IsStale("MNQ", 10*time.Second, now.Add(5*time.Second)))
	assert.True(t, tr.IsStale("MNQ", 10*time.Second, now.Add(11*time.Second)))
}

func TestGetQuoteAge_ReflectsElapsedTime(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.UpdateQuote(domain.Quote{ContractID: "MNQ", Last: decimal.NewFromInt(21000), LocalRxTs: now})

	age, ok := tr.GetQuoteAge("MNQ", now.Add(3*time.Second))
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, age)
}

func TestSubscribe_InvokedSynchronouslyOnUpdate(t *testing.T) {
	tr := New()
	var seen []decimal.Decimal
	tr.Subscribe([]string{"MNQ"}, func(q domain.Quote) { seen = append(seen, q.Last) })

	tr.UpdateQuote(domain.Quote{ContractID: "MNQ", Last: decimal.NewFromInt(21000), LocalRxTs: time.Now()})
	tr.UpdateQuote(domain.Quote{ContractID: "ES", Last: decimal.NewFromInt(5000), LocalRxTs: time.Now()})

	require.Len(t, seen, 1)
	assert.True(t, decimal.NewFromInt(21000).Equal(seen[0]))
}

func TestSubscribe_MultipleContractIdsAllRegistered(t *testing.T) {
	tr := New()
	count := 0
	tr.Subscribe([]string{"MNQ", "ES"}, func(q domain.Quote) { count++ })

	tr.UpdateQuote(domain.Quote{ContractID: "MNQ", LocalRxTs: time.Now()})
	tr.UpdateQuote(domain.Quote{ContractID: "ES", LocalRxTs: time.Now()})

	assert.Equal(t, 2, count)
}
