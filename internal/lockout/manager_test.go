package lockout

import (
	"testing"
	"time"

	"github.com/aristath/riskguard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	saved   map[int64]domain.Lockout
	deleted []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[int64]domain.Lockout)}
}

func (f *fakeStore) SaveLockout(l domain.Lockout) error {
	f.saved[l.AccountID] = l
	return nil
}

func (f *fakeStore) DeleteLockout(accountID int64) error {
	delete(f.saved, accountID)
	f.deleted = append(f.deleted, accountID)
	return nil
}

func (f *fakeStore) LoadLockouts(now time.Time) ([]domain.Lockout, error) {
	var out []domain.Lockout
	for _, l := range f.saved {
		if l.Kind != domain.LockoutKindPermanent && l.Until != nil && !now.Before(*l.Until) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func TestApplyLockout_SetsAndPersists(t *testing.T) {
	store := newFakeStore()
	m, err := New(store)
	require.NoError(t, err)

	until := time.Now().Add(time.Hour)
	require.NoError(t, m.ApplyLockout(domain.Lockout{AccountID: 1, Reason: "breach", Until: &until, Kind: domain.LockoutKindHard}))

	l, ok := m.IsLockedOut(1, time.Now())
	require.True(t, ok)
	assert.Equal(t, "breach", l.Reason)
	assert.Contains(t, store.saved, int64(1))
}

func TestIsLockedOut_LazilyClearsExpiredHardLockout(t *testing.T) {
	store := newFakeStore()
	m, err := New(store)
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, m.ApplyLockout(domain.Lockout{AccountID: 1, Until: &past, Kind: domain.LockoutKindHard}))

	_, ok := m.IsLockedOut(1, time.Now())
	assert.False(t, ok)
	assert.Contains(t, store.deleted, int64(1))
}

func TestIsLockedOut_PermanentNeverExpires(t *testing.T) {
	store := newFakeStore()
	m, err := New(store)
	require.NoError(t, err)

	require.NoError(t, m.ApplyLockout(domain.Lockout{AccountID: 1, Kind: domain.LockoutKindPermanent}))

	l, ok := m.IsLockedOut(1, time.Now().Add(365*24*time.Hour))
	require.True(t, ok)
	assert.Equal(t, domain.LockoutKindPermanent, l.Kind)
}

func TestApplyLockout_PermanentCannotBeSupersededByShorterLockout(t *testing.T) {
	store := newFakeStore()
	m, err := New(store)
	require.NoError(t, err)

	require.NoError(t, m.ApplyLockout(domain.Lockout{AccountID: 1, Kind: domain.LockoutKindPermanent, Reason: "auth lost"}))

	until := time.Now().Add(time.Hour)
	require.NoError(t, m.ApplyLockout(domain.Lockout{AccountID: 1, Kind: domain.LockoutKindHard, Reason: "daily loss", Until: &until}))

	l, ok := m.IsLockedOut(1, time.Now())
	require.True(t, ok)
	assert.Equal(t, domain.LockoutKindPermanent, l.Kind)
	assert.Equal(t, "auth lost", l.Reason)
}

func TestRemoveLockout_ClearsEvenPermanent(t *testing.T) {
	store := newFakeStore()
	m, err := New(store)
	require.NoError(t, err)

	require.NoError(t, m.ApplyLockout(domain.Lockout{AccountID: 1, Kind: domain.LockoutKindPermanent}))
	require.NoError(t, m.RemoveLockout(1))

	_, ok := m.IsLockedOut(1, time.Now())
	assert.False(t, ok)
}

func TestCleanupExpired_SweepsAllExpiredAccounts(t *testing.T) {
	store := newFakeStore()
	m, err := New(store)
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	require.NoError(t, m.ApplyLockout(domain.Lockout{AccountID: 1, Until: &past, Kind: domain.LockoutKindHard}))
	require.NoError(t, m.ApplyLockout(domain.Lockout{AccountID: 2, Until: &future, Kind: domain.LockoutKindHard}))

	m.CleanupExpired(time.Now())

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(2), snap[0].AccountID)
}

func TestNew_FiltersExpiredLockoutsOnLoad(t *testing.T) {
	store := newFakeStore()
	past := time.Now().Add(-time.Hour)
	store.saved[1] = domain.Lockout{AccountID: 1, Until: &past, Kind: domain.LockoutKindHard}

	m, err := New(store)
	require.NoError(t, err)
	assert.Empty(t, m.Snapshot())
}
