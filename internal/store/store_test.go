package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/riskguard/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "riskguard_test.db")
	db, err := Open(Config{Path: path, Profile: ProfileStandard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestLockouts_SaveLoadFiltersExpired(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	require.NoError(t, s.SaveLockout(domain.Lockout{AccountID: 1, Reason: "expired", RuleID: "R3", LockedAt: now.Add(-2 * time.Hour), Until: &past, Kind: domain.LockoutKindHard}))
	require.NoError(t, s.SaveLockout(domain.Lockout{AccountID: 2, Reason: "active", RuleID: "R3", LockedAt: now, Until: &future, Kind: domain.LockoutKindHard}))
	require.NoError(t, s.SaveLockout(domain.Lockout{AccountID: 3, Reason: "perpetual", RuleID: "R11", LockedAt: now, Kind: domain.LockoutKindPermanent}))

	loaded, err := s.LoadLockouts(now)
	require.NoError(t, err)

	byAccount := map[int64]domain.Lockout{}
	for _, l := range loaded {
		byAccount[l.AccountID] = l
	}
	assert.NotContains(t, byAccount, int64(1), "expired lockout must be filtered on load")
	assert.Contains(t, byAccount, int64(2))
	assert.Contains(t, byAccount, int64(3))
	assert.Nil(t, byAccount[3].Until)
}

func TestLockouts_DeleteRemovesRow(t *testing.T) {
	s := newTestStore(t)
	until := time.Now().Add(time.Hour)
	require.NoError(t, s.SaveLockout(domain.Lockout{AccountID: 1, Until: &until, Kind: domain.LockoutKindHard, LockedAt: time.Now()}))
	require.NoError(t, s.DeleteLockout(1))

	loaded, err := s.LoadLockouts(time.Now())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestDailyPnL_UpsertOverwritesSameDate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveDailyPnL(domain.DailyPnL{AccountID: 1, Date: "2026-07-31", Realized: decimal.NewFromInt(-100)}))
	require.NoError(t, s.SaveDailyPnL(domain.DailyPnL{AccountID: 1, Date: "2026-07-31", Realized: decimal.NewFromInt(-250)}))

	got, err := s.LoadDailyPnL(1, "2026-07-31")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(-250).Equal(got.Realized))
}

func TestDailyPnL_LoadMissingRowReturnsZero(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadDailyPnL(99, "2026-07-31")
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(got.Realized))
}

func TestPositions_UpsertThenDeleteRoundTrips(t *testing.T) {
	s := newTestStore(t)
	p := domain.Position{ID: "p1", AccountID: 1, ContractID: "MNQ", SymbolID: "MNQ", Side: domain.SideLong, Size: 3, AveragePrice: decimal.NewFromFloat(21000.5), CreatedAt: time.Now()}
	require.NoError(t, s.UpsertPosition(p))

	loaded, err := s.LoadPositions()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "p1", loaded[0].ID)
	assert.True(t, p.AveragePrice.Equal(loaded[0].AveragePrice))

	require.NoError(t, s.DeletePosition("p1"))
	loaded, err = s.LoadPositions()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestOrders_UpsertThenDeleteRoundTrips(t *testing.T) {
	s := newTestStore(t)
	stop := decimal.NewFromFloat(20990)
	o := domain.Order{ID: "o1", AccountID: 1, ContractID: "MNQ", Type: domain.OrderTypeStop, Side: domain.OrderSideSell, Size: 1, StopPrice: &stop, Status: domain.OrderStatusOpen, CreatedAt: time.Now()}
	require.NoError(t, s.UpsertOrder(o))

	loaded, err := s.LoadOrders()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.NotNil(t, loaded[0].StopPrice)
	assert.True(t, stop.Equal(*loaded[0].StopPrice))

	require.NoError(t, s.DeleteOrder("o1"))
	loaded, err = s.LoadOrders()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestContracts_SaveAndLoadOrdersByMostRecentlyCached(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	require.NoError(t, s.SaveContract(domain.Contract{ID: "OLD", TickSize: decimal.NewFromFloat(0.25), TickValue: decimal.NewFromFloat(0.5), CachedAt: base.Add(-time.Hour)}))
	require.NoError(t, s.SaveContract(domain.Contract{ID: "NEW", TickSize: decimal.NewFromFloat(0.25), TickValue: decimal.NewFromFloat(0.5), CachedAt: base}))

	loaded, err := s.LoadContracts(10)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "NEW", loaded[0].ID)
	assert.Equal(t, "OLD", loaded[1].ID)
}

func TestEnforcementLog_AppendAndReadBackInDescendingOrder(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	require.NoError(t, s.AppendEnforcementLog(domain.EnforcementLogRecord{ID: "e1", Ts: base, AccountID: 1, RuleID: "R1", Action: domain.ActionCloseAll, Success: true, ExecutionMs: 12}))
	require.NoError(t, s.AppendEnforcementLog(domain.EnforcementLogRecord{ID: "e2", Ts: base.Add(time.Second), AccountID: 1, RuleID: "R3", Action: domain.ActionApplyLockout, Success: true, ExecutionMs: 4, Details: map[string]any{"kind": "hard"}}))

	recs, err := s.RecentEnforcementLog(1, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "e2", recs[0].ID, "most recent record must come first")
	assert.Equal(t, "hard", recs[0].Details["kind"])
}

func TestSessionStart_SaveAndLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.LoadSessionStart(1)
	require.NoError(t, err)
	assert.False(t, ok)

	start := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.SaveSessionStart(1, start))

	got, ok, err := s.LoadSessionStart(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, start.Equal(got))
}

func TestLastResetDate_IdempotenceGuardPersists(t *testing.T) {
	s := newTestStore(t)
	last, err := s.LoadLastResetDate()
	require.NoError(t, err)
	assert.Empty(t, last)

	require.NoError(t, s.SaveLastResetDate(17, 0, "America/New_York", "2026-07-31"))
	last, err = s.LoadLastResetDate()
	require.NoError(t, err)
	assert.Equal(t, "2026-07-31", last)

	require.NoError(t, s.SaveLastResetDate(17, 0, "America/New_York", "2026-08-01"))
	last, err = s.LoadLastResetDate()
	require.NoError(t, err)
	assert.Equal(t, "2026-08-01", last)
}
