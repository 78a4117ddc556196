package enforcement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/riskguard/internal/brokerage"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/aristath/riskguard/internal/lockout"
	"github.com/aristath/riskguard/internal/rerr"
	"github.com/aristath/riskguard/internal/statetracker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStateStore struct{}

func (fakeStateStore) UpsertPosition(domain.Position) error         { return nil }
func (fakeStateStore) DeletePosition(id string) error                { return nil }
func (fakeStateStore) LoadPositions() ([]domain.Position, error)     { return nil, nil }
func (fakeStateStore) UpsertOrder(domain.Order) error                { return nil }
func (fakeStateStore) DeleteOrder(id string) error                   { return nil }
func (fakeStateStore) LoadOrders() ([]domain.Order, error)           { return nil, nil }

type fakeLockoutStore struct{}

func (fakeLockoutStore) SaveLockout(domain.Lockout) error                    { return nil }
func (fakeLockoutStore) DeleteLockout(accountID int64) error                 { return nil }
func (fakeLockoutStore) LoadLockouts(now time.Time) ([]domain.Lockout, error) { return nil, nil }

type fakeLogStore struct {
	mu   sync.Mutex
	recs []domain.EnforcementLogRecord
}

func (f *fakeLogStore) AppendEnforcementLog(r domain.EnforcementLogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, r)
	return nil
}

func (f *fakeLogStore) records() []domain.EnforcementLogRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.EnforcementLogRecord(nil), f.recs...)
}

type fakeRESTClient struct {
	mu             sync.Mutex
	closeCalls     int
	closeFailUntil int
	closeErr       error
	cancelErr      error
	placeErr       error
	placeOrderID   string
}

func (f *fakeRESTClient) SearchOpenPositions(ctx context.Context, accountID int64) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakeRESTClient) ClosePosition(ctx context.Context, accountID int64, contractID string) (brokerage.CloseResult, error) {
	f.mu.Lock()
	f.closeCalls++
	calls := f.closeCalls
	f.mu.Unlock()
	if f.closeErr != nil {
		return brokerage.CloseResult{}, f.closeErr
	}
	if calls <= f.closeFailUntil {
		return brokerage.CloseResult{}, rerr.Transient("closePosition", errors.New("timeout"))
	}
	return brokerage.CloseResult{Success: true}, nil
}

func (f *fakeRESTClient) ClosePositionPartial(ctx context.Context, accountID int64, contractID string, qty int64) (brokerage.PartialCloseResult, error) {
	return brokerage.PartialCloseResult{Success: true, NewSize: 0}, nil
}

func (f *fakeRESTClient) SearchOpenOrders(ctx context.Context, accountID int64) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeRESTClient) CancelOrder(ctx context.Context, accountID int64, orderID string) (brokerage.CloseResult, error) {
	if f.cancelErr != nil {
		return brokerage.CloseResult{}, f.cancelErr
	}
	return brokerage.CloseResult{Success: true}, nil
}

func (f *fakeRESTClient) PlaceOrder(ctx context.Context, accountID int64, req brokerage.OrderRequest) (brokerage.PlaceOrderResult, error) {
	if f.placeErr != nil {
		return brokerage.PlaceOrderResult{}, f.placeErr
	}
	return brokerage.PlaceOrderResult{OrderID: f.placeOrderID}, nil
}

func (f *fakeRESTClient) GetContractByID(ctx context.Context, contractID string) (domain.Contract, error) {
	return domain.Contract{}, nil
}

func newTestExecutor(t *testing.T, rest brokerage.RESTClient, cfg Config) (*Executor, *statetracker.Tracker, *fakeLogStore) {
	t.Helper()
	states, err := statetracker.New(fakeStateStore{})
	require.NoError(t, err)
	lockouts, err := lockout.New(fakeLockoutStore{})
	require.NoError(t, err)
	logs := &fakeLogStore{}
	return New(rest, states, lockouts, logs, cfg, zerolog.Nop()), states, logs
}

func fastConfig() Config {
	return Config{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, RatePerSec: 1000}
}

func TestClosePosition_UnknownPositionIsIdempotentSuccess(t *testing.T) {
	rest := &fakeRESTClient{}
	exec, _, logs := newTestExecutor(t, rest, fastConfig())

	err := exec.ClosePosition(context.Background(), 1, "MNQ", "R1", "over limit")
	require.NoError(t, err)
	assert.Equal(t, 0, rest.closeCalls)

	recs := logs.records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	assert.Equal(t, domain.ActionClosePosition, recs[0].Action)
}

func TestClosePosition_TransientFailureRetriesThenSucceeds(t *testing.T) {
	rest := &fakeRESTClient{closeFailUntil: 2}
	exec, states, logs := newTestExecutor(t, rest, fastConfig())
	require.NoError(t, states.UpdatePosition(domain.Position{ID: "p1", AccountID: 1, ContractID: "MNQ", Size: 2}))

	err := exec.ClosePosition(context.Background(), 1, "MNQ", "R1", "over limit")
	require.NoError(t, err)
	assert.Equal(t, 3, rest.closeCalls)

	recs := logs.records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
}

func TestClosePosition_NonTransientFailsImmediately(t *testing.T) {
	rest := &fakeRESTClient{closeErr: rerr.Auth("closePosition", errors.New("bad token"))}
	exec, states, logs := newTestExecutor(t, rest, fastConfig())
	require.NoError(t, states.UpdatePosition(domain.Position{ID: "p1", AccountID: 1, ContractID: "MNQ", Size: 2}))

	err := exec.ClosePosition(context.Background(), 1, "MNQ", "R1", "over limit")
	require.Error(t, err)
	assert.Equal(t, 1, rest.closeCalls)

	recs := logs.records()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
}

func TestClosePosition_HonorsRateLimitRetryAfter(t *testing.T) {
	rest := &fakeRESTClient{closeErr: rerr.RateLimited("closePosition", 2 * time.Millisecond)}
	cfg := fastConfig()
	exec, states, _ := newTestExecutor(t, rest, cfg)
	require.NoError(t, states.UpdatePosition(domain.Position{ID: "p1", AccountID: 1, ContractID: "MNQ", Size: 2}))

	start := time.Now()
	err := exec.ClosePosition(context.Background(), 1, "MNQ", "R1", "over limit")
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.Equal(t, cfg.Attempts, rest.closeCalls)
	assert.GreaterOrEqual(t, elapsed, time.Millisecond)
}

func TestCloseAllPositions_NoOpenPositionsClosesNone(t *testing.T) {
	rest := &fakeRESTClient{}
	exec, states, logs := newTestExecutor(t, rest, fastConfig())
	require.NoError(t, states.UpdatePosition(domain.Position{ID: "p1", AccountID: 1, ContractID: "MNQ", Size: 3}))
	// A fill lands before enforcement runs: the position is removed from
	// state entirely (§3 invariant), so there is nothing left to close.
	require.NoError(t, states.UpdatePosition(domain.Position{ID: "p1", AccountID: 1, ContractID: "MNQ", Size: 0}))

	err := exec.CloseAllPositions(context.Background(), 1, "R2", "breach")
	require.NoError(t, err)
	assert.Equal(t, 0, rest.closeCalls)

	recs := logs.records()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.ActionCloseAll, recs[0].Action)
	assert.Equal(t, 0, recs[0].Details["closed"])
}

func TestCancelAllOrders_SkipsTerminalOrders(t *testing.T) {
	rest := &fakeRESTClient{}
	exec, states, logs := newTestExecutor(t, rest, fastConfig())
	require.NoError(t, states.UpdateOrder(domain.Order{ID: "o1", AccountID: 1, Status: domain.OrderStatusOpen}))
	require.NoError(t, states.UpdateOrder(domain.Order{ID: "o2", AccountID: 1, Status: domain.OrderStatusFilled}))

	err := exec.CancelAllOrders(context.Background(), 1, "R9", "session block")
	require.NoError(t, err)

	recs := logs.records()
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Details["cancelled"])
}

func TestApplyLockout_DelegatesToLockoutManagerAndLogs(t *testing.T) {
	rest := &fakeRESTClient{}
	exec, _, logs := newTestExecutor(t, rest, fastConfig())

	until := time.Now().Add(time.Hour)
	err := exec.ApplyLockout(1, domain.Lockout{AccountID: 1, Kind: domain.LockoutKindHard, Until: &until}, "R3", "daily loss breached")
	require.NoError(t, err)

	locked, ok := exec.lockouts.IsLockedOut(1, time.Now())
	require.True(t, ok)
	assert.Equal(t, domain.LockoutKindHard, locked.Kind)

	recs := logs.records()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.ActionApplyLockout, recs[0].Action)
}

func TestRemoveLockout_ClearsAndLogs(t *testing.T) {
	rest := &fakeRESTClient{}
	exec, _, logs := newTestExecutor(t, rest, fastConfig())

	until := time.Now().Add(time.Hour)
	require.NoError(t, exec.ApplyLockout(1, domain.Lockout{AccountID: 1, Kind: domain.LockoutKindHard, Until: &until}, "R3", "x"))
	require.NoError(t, exec.RemoveLockout(1, "admin", "manual clear"))

	_, ok := exec.lockouts.IsLockedOut(1, time.Now())
	assert.False(t, ok)

	recs := logs.records()
	require.Len(t, recs, 2)
	assert.Equal(t, domain.ActionRemoveLockout, recs[1].Action)
}

func TestPlaceStopLossOrder_LogsOrderID(t *testing.T) {
	rest := &fakeRESTClient{placeOrderID: "ord-123"}
	exec, _, logs := newTestExecutor(t, rest, fastConfig())

	err := exec.PlaceStopLossOrder(context.Background(), 1, brokerage.OrderRequest{ContractID: "MNQ"}, "R12", "missing stop")
	require.NoError(t, err)

	recs := logs.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "ord-123", recs[0].Details["orderId"])
}

func TestWithAccount_SerializesConcurrentActionsPerAccount(t *testing.T) {
	rest := &fakeRESTClient{}
	exec, _, _ := newTestExecutor(t, rest, fastConfig())

	var active int32
	var maxActive int32
	var mu sync.Mutex
	track := func() error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exec.withAccount(1, track)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
}
