// Package statetracker implements the State Tracker (C4): per-account open
// positions and working orders, reconciled from brokerage events
// (SPEC_FULL.md §4.2).
//
// Grounded on original_source/src/core/state_manager.py: positions/orders
// keyed by account then id, delete-on-size-zero / delete-on-terminal-status,
// save/load snapshot. Partitioned by account per §5's shared-resource policy
// (each account's partition is single-writer, its worker goroutine).
package statetracker

import (
	"sync"

	"github.com/aristath/riskguard/internal/domain"
)

// ChangeListener is notified whenever a position or order changes for an
// account. The Pending-stop tracker (Rule 8/12 support) uses this per §4.2.
type ChangeListener func(accountID int64)

// Persister is the subset of the durable store the tracker writes through to.
type Persister interface {
	UpsertPosition(domain.Position) error
	DeletePosition(id string) error
	LoadPositions() ([]domain.Position, error)
	UpsertOrder(domain.Order) error
	DeleteOrder(id string) error
	LoadOrders() ([]domain.Order, error)
}

type accountState struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
	orders    map[string]domain.Order
}

// Tracker holds all per-account position/order state.
type Tracker struct {
	store Persister

	mapMu    sync.RWMutex
	accounts map[int64]*accountState

	listenersMu sync.Mutex
	listeners   []ChangeListener
}

// New constructs a Tracker and loads the durable snapshot (§4.2
// loadSnapshot: "the store is authoritative on process start").
func New(store Persister) (*Tracker, error) {
	t := &Tracker{store: store, accounts: make(map[int64]*accountState)}

	positions, err := store.LoadPositions()
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		t.stateFor(p.AccountID).positions[p.ID] = p
	}

	orders, err := store.LoadOrders()
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		t.stateFor(o.AccountID).orders[o.ID] = o
	}

	return t, nil
}

func (t *Tracker) stateFor(accountID int64) *accountState {
	t.mapMu.RLock()
	as, ok := t.accounts[accountID]
	t.mapMu.RUnlock()
	if ok {
		return as
	}

	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	if as, ok := t.accounts[accountID]; ok {
		return as
	}
	as = &accountState{positions: make(map[string]domain.Position), orders: make(map[string]domain.Order)}
	t.accounts[accountID] = as
	return as
}

// OnChange registers a listener invoked after every position/order mutation.
func (t *Tracker) OnChange(l ChangeListener) {
	t.listenersMu.Lock()
	t.listeners = append(t.listeners, l)
	t.listenersMu.Unlock()
}

func (t *Tracker) notify(accountID int64) {
	t.listenersMu.Lock()
	listeners := append([]ChangeListener(nil), t.listeners...)
	t.listenersMu.Unlock()
	for _, l := range listeners {
		l(accountID)
	}
}

// UpdatePosition applies a position event per the §3 invariant: size=0
// removes the position, otherwise it is upserted in place.
func (t *Tracker) UpdatePosition(p domain.Position) error {
	as := t.stateFor(p.AccountID)
	as.mu.Lock()
	if p.Size == 0 {
		delete(as.positions, p.ID)
	} else {
		as.positions[p.ID] = p
	}
	as.mu.Unlock()

	var err error
	if p.Size == 0 {
		err = t.store.DeletePosition(p.ID)
	} else {
		err = t.store.UpsertPosition(p)
	}
	t.notify(p.AccountID)
	return err
}

// UpdateOrder applies an order event per the §3 invariant: a terminal status
// removes the order, otherwise it is upserted in place.
func (t *Tracker) UpdateOrder(o domain.Order) error {
	as := t.stateFor(o.AccountID)
	as.mu.Lock()
	if o.Status.IsTerminal() {
		delete(as.orders, o.ID)
	} else {
		as.orders[o.ID] = o
	}
	as.mu.Unlock()

	var err error
	if o.Status.IsTerminal() {
		err = t.store.DeleteOrder(o.ID)
	} else {
		err = t.store.UpsertOrder(o)
	}
	t.notify(o.AccountID)
	return err
}

// GetPositions returns a snapshot of open positions for an account.
func (t *Tracker) GetPositions(accountID int64) []domain.Position {
	as := t.stateFor(accountID)
	as.mu.RLock()
	defer as.mu.RUnlock()
	out := make([]domain.Position, 0, len(as.positions))
	for _, p := range as.positions {
		out = append(out, p)
	}
	return out
}

// GetOrders returns a snapshot of working orders for an account.
func (t *Tracker) GetOrders(accountID int64) []domain.Order {
	as := t.stateFor(accountID)
	as.mu.RLock()
	defer as.mu.RUnlock()
	out := make([]domain.Order, 0, len(as.orders))
	for _, o := range as.orders {
		out = append(out, o)
	}
	return out
}

// GetPosition looks up a single position by id.
func (t *Tracker) GetPosition(accountID int64, positionID string) (domain.Position, bool) {
	as := t.stateFor(accountID)
	as.mu.RLock()
	defer as.mu.RUnlock()
	p, ok := as.positions[positionID]
	return p, ok
}

// GetPositionCountNet returns the §4.11b "net" count: the sum of Size across
// all positions (the source counts absolute magnitudes regardless of side).
func (t *Tracker) GetPositionCountNet(accountID int64) int64 {
	as := t.stateFor(accountID)
	as.mu.RLock()
	defer as.mu.RUnlock()
	var total int64
	for _, p := range as.positions {
		total += p.Size
	}
	return total
}

// GetContractCount returns the sum of Size for positions in a given
// contract's symbol (§4.11b "per-instrument").
func (t *Tracker) GetContractCount(accountID int64, symbolID string) int64 {
	as := t.stateFor(accountID)
	as.mu.RLock()
	defer as.mu.RUnlock()
	var total int64
	for _, p := range as.positions {
		if p.SymbolID == symbolID {
			total += p.Size
		}
	}
	return total
}
