package pnltracker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/riskguard/internal/contractcache"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/aristath/riskguard/internal/quotetracker"
	"github.com/aristath/riskguard/internal/statetracker"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePnLStore struct {
	rows map[string]domain.DailyPnL
}

func newFakePnLStore() *fakePnLStore { return &fakePnLStore{rows: make(map[string]domain.DailyPnL)} }

func (f *fakePnLStore) SaveDailyPnL(p domain.DailyPnL) error {
	f.rows[pnlKey(p.AccountID, p.Date)] = p
	return nil
}

func (f *fakePnLStore) LoadDailyPnL(accountID int64, date string) (domain.DailyPnL, error) {
	if p, ok := f.rows[pnlKey(accountID, date)]; ok {
		return p, nil
	}
	return domain.DailyPnL{AccountID: accountID, Date: date, Realized: decimal.Zero}, nil
}

func pnlKey(accountID int64, date string) string { return fmt.Sprintf("%d|%s", accountID, date) }

type fakeStateStore struct{}

func (fakeStateStore) UpsertPosition(domain.Position) error     { return nil }
func (fakeStateStore) DeletePosition(string) error               { return nil }
func (fakeStateStore) LoadPositions() ([]domain.Position, error) { return nil, nil }
func (fakeStateStore) UpsertOrder(domain.Order) error            { return nil }
func (fakeStateStore) DeleteOrder(string) error                  { return nil }
func (fakeStateStore) LoadOrders() ([]domain.Order, error)       { return nil, nil }

type fakeCacheStore struct{}

func (fakeCacheStore) SaveContract(domain.Contract) error          { return nil }
func (fakeCacheStore) LoadContracts(int) ([]domain.Contract, error) { return nil, nil }

type fakeFetcher struct {
	contract domain.Contract
	ok       bool
}

func (f fakeFetcher) GetContractByID(ctx context.Context, contractID string) (domain.Contract, error) {
	if !f.ok {
		return domain.Contract{}, errors.New("fetch failed")
	}
	return f.contract, nil
}

func newStates(t *testing.T) *statetracker.Tracker {
	t.Helper()
	states, err := statetracker.New(fakeStateStore{})
	require.NoError(t, err)
	return states
}

func TestAddTradePnl_AccumulatesForSessionDate(t *testing.T) {
	quotes := quotetracker.New()
	cache, err := contractcache.New(10, time.Hour, fakeFetcher{}, fakeCacheStore{}, zerolog.Nop())
	require.NoError(t, err)
	tr := New(newFakePnLStore(), newStates(t), quotes, cache, time.Second)

	require.NoError(t, tr.AddTradePnl(1, "2026-07-31", decimal.NewFromInt(-200)))
	require.NoError(t, tr.AddTradePnl(1, "2026-07-31", decimal.NewFromInt(-250)))

	got, err := tr.GetDailyRealized(1, "2026-07-31")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(-450).Equal(got), "got %s", got)
}

func TestResetDaily_ZeroesRealizedForNewSession(t *testing.T) {
	quotes := quotetracker.New()
	cache, err := contractcache.New(10, time.Hour, fakeFetcher{}, fakeCacheStore{}, zerolog.Nop())
	require.NoError(t, err)
	tr := New(newFakePnLStore(), newStates(t), quotes, cache, time.Second)

	require.NoError(t, tr.AddTradePnl(1, "2026-07-31", decimal.NewFromInt(-500)))
	require.NoError(t, tr.ResetDaily(1, "2026-08-01"))

	got, err := tr.GetDailyRealized(1, "2026-08-01")
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(got))

	// The prior session date's total is untouched by the reset.
	prior, err := tr.GetDailyRealized(1, "2026-07-31")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(-500).Equal(prior))
}

func TestGetUnrealizedForPosition_LongSideFormula(t *testing.T) {
	states := newStates(t)
	quotes := quotetracker.New()
	fetcher := fakeFetcher{ok: true, contract: domain.Contract{
		ID: "MNQ", TickSize: decimal.NewFromFloat(0.25), TickValue: decimal.NewFromFloat(0.5),
	}}
	cache, err := contractcache.New(10, time.Hour, fetcher, fakeCacheStore{}, zerolog.Nop())
	require.NoError(t, err)
	tr := New(newFakePnLStore(), states, quotes, cache, time.Hour)

	now := time.Now()
	quotes.UpdateQuote(domain.Quote{ContractID: "MNQ", Last: decimal.NewFromInt(21050), LocalRxTs: now})

	pos := domain.Position{ID: "p1", AccountID: 1, ContractID: "MNQ", Side: domain.SideLong, Size: 3, AveragePrice: decimal.NewFromInt(21000)}
	u, ok := tr.GetUnrealizedForPosition(context.Background(), pos, now)
	require.True(t, ok)
	// delta=50, /0.25 ticks=200, *0.5=100 per contract, *3 = 300
	assert.True(t, decimal.NewFromInt(300).Equal(u.Amount), "got %s", u.Amount)
	assert.False(t, u.Stale)
}

func TestGetUnrealizedForPosition_ShortSideFormulaInverts(t *testing.T) {
	states := newStates(t)
	quotes := quotetracker.New()
	fetcher := fakeFetcher{ok: true, contract: domain.Contract{
		ID: "MNQ", TickSize: decimal.NewFromFloat(0.25), TickValue: decimal.NewFromFloat(0.5),
	}}
	cache, err := contractcache.New(10, time.Hour, fetcher, fakeCacheStore{}, zerolog.Nop())
	require.NoError(t, err)
	tr := New(newFakePnLStore(), states, quotes, cache, time.Hour)

	now := time.Now()
	quotes.UpdateQuote(domain.Quote{ContractID: "MNQ", Last: decimal.NewFromInt(21050), LocalRxTs: now})

	pos := domain.Position{ID: "p1", AccountID: 1, ContractID: "MNQ", Side: domain.SideShort, Size: 1, AveragePrice: decimal.NewFromInt(21000)}
	u, ok := tr.GetUnrealizedForPosition(context.Background(), pos, now)
	require.True(t, ok)
	// price rose against a short: entry-last = -50, /0.25=-200, *0.5=-100
	assert.True(t, decimal.NewFromInt(-100).Equal(u.Amount), "got %s", u.Amount)
}

func TestGetUnrealizedForPosition_StaleFlagSetWhenQuoteOld(t *testing.T) {
	states := newStates(t)
	quotes := quotetracker.New()
	fetcher := fakeFetcher{ok: true, contract: domain.Contract{
		ID: "MNQ", TickSize: decimal.NewFromFloat(0.25), TickValue: decimal.NewFromFloat(0.5),
	}}
	cache, err := contractcache.New(10, time.Hour, fetcher, fakeCacheStore{}, zerolog.Nop())
	require.NoError(t, err)
	tr := New(newFakePnLStore(), states, quotes, cache, 5*time.Second)

	old := time.Now().Add(-time.Minute)
	quotes.UpdateQuote(domain.Quote{ContractID: "MNQ", Last: decimal.NewFromInt(21000), LocalRxTs: old})

	pos := domain.Position{ID: "p1", AccountID: 1, ContractID: "MNQ", Side: domain.SideLong, Size: 1, AveragePrice: decimal.NewFromInt(21000)}
	u, ok := tr.GetUnrealizedForPosition(context.Background(), pos, time.Now())
	require.True(t, ok)
	assert.True(t, u.Stale)
}

func TestGetUnrealizedForPosition_NoQuoteReturnsNotOk(t *testing.T) {
	states := newStates(t)
	quotes := quotetracker.New()
	fetcher := fakeFetcher{ok: true, contract: domain.Contract{
		ID: "MNQ", TickSize: decimal.NewFromFloat(0.25), TickValue: decimal.NewFromFloat(0.5),
	}}
	cache, err := contractcache.New(10, time.Hour, fetcher, fakeCacheStore{}, zerolog.Nop())
	require.NoError(t, err)
	tr := New(newFakePnLStore(), states, quotes, cache, time.Hour)

	pos := domain.Position{ID: "p1", AccountID: 1, ContractID: "MNQ", Side: domain.SideLong, Size: 1}
	_, ok := tr.GetUnrealizedForPosition(context.Background(), pos, time.Now())
	assert.False(t, ok)
}

func TestGetUnrealized_AggregatesAcrossPositions(t *testing.T) {
	states := newStates(t)
	quotes := quotetracker.New()
	fetcher := fakeFetcher{ok: true, contract: domain.Contract{
		ID: "MNQ", TickSize: decimal.NewFromFloat(0.25), TickValue: decimal.NewFromFloat(0.5),
	}}
	cache, err := contractcache.New(10, time.Hour, fetcher, fakeCacheStore{}, zerolog.Nop())
	require.NoError(t, err)
	tr := New(newFakePnLStore(), states, quotes, cache, time.Hour)

	now := time.Now()
	quotes.UpdateQuote(domain.Quote{ContractID: "MNQ", Last: decimal.NewFromInt(21050), LocalRxTs: now})

	require.NoError(t, states.UpdatePosition(domain.Position{ID: "p1", AccountID: 1, ContractID: "MNQ", Side: domain.SideLong, Size: 1, AveragePrice: decimal.NewFromInt(21000)}))
	require.NoError(t, states.UpdatePosition(domain.Position{ID: "p2", AccountID: 1, ContractID: "MNQ", Side: domain.SideShort, Size: 1, AveragePrice: decimal.NewFromInt(21000)}))

	u, ok := tr.GetUnrealized(context.Background(), 1, now)
	require.True(t, ok)
	// +100 long, -100 short nets to zero
	assert.True(t, decimal.Zero.Equal(u.Amount), "got %s", u.Amount)
}
