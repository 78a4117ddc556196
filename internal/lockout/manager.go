// Package lockout implements the Lockout Manager (C8): one lockout slot per
// account, applied by the Enforcement Executor and consulted by every rule
// before it evaluates (SPEC_FULL.md §4.8).
//
// Grounded on original_source/src/core/lockout_manager.py's single-dict,
// lazy-expiry pattern, persisted through the durable store so a restart does
// not silently clear an active lockout.
package lockout

import (
	"sync"
	"time"

	"github.com/aristath/riskguard/internal/domain"
)

// Persister is the subset of the durable store the manager writes through to.
type Persister interface {
	SaveLockout(domain.Lockout) error
	DeleteLockout(accountID int64) error
	LoadLockouts(now time.Time) ([]domain.Lockout, error)
}

// Manager tracks the single active lockout per account.
type Manager struct {
	store Persister

	mu       sync.Mutex
	lockouts map[int64]domain.Lockout
}

// New constructs a Manager and loads unexpired lockouts from the store
// (§4.8: "lockouts survive a restart; expired ones are dropped on load").
func New(store Persister) (*Manager, error) {
	m := &Manager{store: store, lockouts: make(map[int64]domain.Lockout)}
	loaded, err := store.LoadLockouts(time.Now())
	if err != nil {
		return nil, err
	}
	for _, l := range loaded {
		m.lockouts[l.AccountID] = l
	}
	return m, nil
}

// ApplyLockout sets (or overwrites) the lockout for an account. A permanent
// lockout is never replaced by a non-permanent one: the call leaves it in
// place and returns nil, so only RemoveLockout clears it.
func (m *Manager) ApplyLockout(l domain.Lockout) error {
	m.mu.Lock()
	if existing, ok := m.lockouts[l.AccountID]; ok && existing.Kind == domain.LockoutKindPermanent && l.Kind != domain.LockoutKindPermanent {
		m.mu.Unlock()
		return nil
	}
	m.lockouts[l.AccountID] = l
	m.mu.Unlock()

	return m.store.SaveLockout(l)
}

// RemoveLockout clears an account's lockout unconditionally.
func (m *Manager) RemoveLockout(accountID int64) error {
	m.mu.Lock()
	delete(m.lockouts, accountID)
	m.mu.Unlock()
	return m.store.DeleteLockout(accountID)
}

// IsLockedOut reports whether an account is currently locked out, lazily
// clearing an expired non-permanent lockout on read (§4.8's lazy-clear
// semantics), so expiry takes effect even between CleanupExpired sweeps.
func (m *Manager) IsLockedOut(accountID int64, now time.Time) (domain.Lockout, bool) {
	m.mu.Lock()
	l, ok := m.lockouts[accountID]
	if !ok {
		m.mu.Unlock()
		return domain.Lockout{}, false
	}
	if l.Kind != domain.LockoutKindPermanent && l.IsExpired(now) {
		delete(m.lockouts, accountID)
		m.mu.Unlock()
		_ = m.store.DeleteLockout(accountID)
		return domain.Lockout{}, false
	}
	m.mu.Unlock()
	return l, true
}

// CleanupExpired actively sweeps and clears expired non-permanent lockouts
// across all accounts. Called once per second from the wiring package's
// lockout sweep rather than relied upon for correctness (IsLockedOut already clears
// lazily on read); this bounds the staleness window for anything that only
// reads via bulk snapshot, e.g. the admin API.
func (m *Manager) CleanupExpired(now time.Time) {
	m.mu.Lock()
	var expired []int64
	for acct, l := range m.lockouts {
		if l.Kind != domain.LockoutKindPermanent && l.IsExpired(now) {
			expired = append(expired, acct)
			delete(m.lockouts, acct)
		}
	}
	m.mu.Unlock()

	for _, acct := range expired {
		_ = m.store.DeleteLockout(acct)
	}
}

// Snapshot returns all currently tracked lockouts (admin API use).
func (m *Manager) Snapshot() []domain.Lockout {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Lockout, 0, len(m.lockouts))
	for _, l := range m.lockouts {
		out = append(out, l)
	}
	return out
}
