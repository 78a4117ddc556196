package statetracker

import (
	"testing"
	"time"

	"github.com/aristath/riskguard/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	positions map[string]domain.Position
	orders    map[string]domain.Order
}

func newFakeStore() *fakeStore {
	return &fakeStore{positions: make(map[string]domain.Position), orders: make(map[string]domain.Order)}
}

func (f *fakeStore) UpsertPosition(p domain.Position) error { f.positions[p.ID] = p; return nil }
func (f *fakeStore) DeletePosition(id string) error         { delete(f.positions, id); return nil }
func (f *fakeStore) LoadPositions() ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out, nil
}
func (f *fakeStore) UpsertOrder(o domain.Order) error { f.orders[o.ID] = o; return nil }
func (f *fakeStore) DeleteOrder(id string) error      { delete(f.orders, id); return nil }
func (f *fakeStore) LoadOrders() ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out, nil
}

func samplePosition(accountID int64, id string, size int64) domain.Position {
	return domain.Position{
		ID: id, AccountID: accountID, ContractID: "MNQ", SymbolID: "MNQ",
		Side: domain.SideLong, Size: size, AveragePrice: decimal.NewFromInt(21000), CreatedAt: time.Now(),
	}
}

func TestUpdatePosition_UpsertThenRemoveOnZeroSize(t *testing.T) {
	store := newFakeStore()
	tr, err := New(store)
	require.NoError(t, err)

	require.NoError(t, tr.UpdatePosition(samplePosition(1, "p1", 3)))
	positions := tr.GetPositions(1)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(3), positions[0].Size)
	assert.Contains(t, store.positions, "p1")

	closed := samplePosition(1, "p1", 0)
	require.NoError(t, tr.UpdatePosition(closed))
	assert.Empty(t, tr.GetPositions(1))
	assert.NotContains(t, store.positions, "p1")
}

func TestUpdatePosition_IdempotentRedelivery(t *testing.T) {
	store := newFakeStore()
	tr, err := New(store)
	require.NoError(t, err)

	p := samplePosition(1, "p1", 5)
	require.NoError(t, tr.UpdatePosition(p))
	require.NoError(t, tr.UpdatePosition(p))

	positions := tr.GetPositions(1)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(5), positions[0].Size)
}

func TestUpdateOrder_TerminalStatusRemoves(t *testing.T) {
	store := newFakeStore()
	tr, err := New(store)
	require.NoError(t, err)

	o := domain.Order{ID: "o1", AccountID: 1, ContractID: "MNQ", Status: domain.OrderStatusOpen}
	require.NoError(t, tr.UpdateOrder(o))
	require.Len(t, tr.GetOrders(1), 1)

	o.Status = domain.OrderStatusFilled
	require.NoError(t, tr.UpdateOrder(o))
	assert.Empty(t, tr.GetOrders(1))
	assert.NotContains(t, store.orders, "o1")
}

func TestGetPositionCountNet_SumsAcrossPositions(t *testing.T) {
	store := newFakeStore()
	tr, err := New(store)
	require.NoError(t, err)

	require.NoError(t, tr.UpdatePosition(samplePosition(1, "p1", 3)))
	require.NoError(t, tr.UpdatePosition(samplePosition(1, "p2", 4)))
	assert.Equal(t, int64(7), tr.GetPositionCountNet(1))
}

func TestGetContractCount_FiltersBySymbol(t *testing.T) {
	store := newFakeStore()
	tr, err := New(store)
	require.NoError(t, err)

	mnq := samplePosition(1, "p1", 2)
	es := samplePosition(1, "p2", 5)
	es.ContractID, es.SymbolID = "ES", "ES"
	require.NoError(t, tr.UpdatePosition(mnq))
	require.NoError(t, tr.UpdatePosition(es))

	assert.Equal(t, int64(2), tr.GetContractCount(1, "MNQ"))
	assert.Equal(t, int64(5), tr.GetContractCount(1, "ES"))
	assert.Equal(t, int64(0), tr.GetContractCount(1, "CL"))
}

func TestNew_LoadsAuthoritativeSnapshotFromStore(t *testing.T) {
	store := newFakeStore()
	store.positions["p1"] = samplePosition(9, "p1", 1)
	store.orders["o1"] = domain.Order{ID: "o1", AccountID: 9, Status: domain.OrderStatusPending}

	tr, err := New(store)
	require.NoError(t, err)
	assert.Len(t, tr.GetPositions(9), 1)
	assert.Len(t, tr.GetOrders(9), 1)
}

func TestOnChange_NotifiedAfterMutation(t *testing.T) {
	store := newFakeStore()
	tr, err := New(store)
	require.NoError(t, err)

	var notified []int64
	tr.OnChange(func(accountID int64) { notified = append(notified, accountID) })

	require.NoError(t, tr.UpdatePosition(samplePosition(1, "p1", 1)))
	require.NoError(t, tr.UpdateOrder(domain.Order{ID: "o1", AccountID: 1, Status: domain.OrderStatusOpen}))

	assert.Equal(t, []int64{1, 1}, notified)
}
