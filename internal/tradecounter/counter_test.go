package tradecounter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeSessions struct {
	starts map[int64]time.Time
}

func (f fakeSessions) SessionStart(accountID int64) (time.Time, bool) {
	t, ok := f.starts[accountID]
	return t, ok
}

func TestRecordTrade_CountLastMinuteAndHour(t *testing.T) {
	c := New(fakeSessions{starts: map[int64]time.Time{}})
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	c.RecordTrade(1, now.Add(-90*time.Second)) // outside minute window, inside hour
	c.RecordTrade(1, now.Add(-30*time.Second))
	c.RecordTrade(1, now.Add(-10*time.Second))

	assert.Equal(t, 2, c.CountLastMinute(1, now))
	assert.Equal(t, 3, c.CountLastHour(1, now))
}

func TestRecordTrade_PrunesEntriesOlderThanOneHour(t *testing.T) {
	c := New(fakeSessions{starts: map[int64]time.Time{}})
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	c.RecordTrade(1, now.Add(-2*time.Hour))
	c.RecordTrade(1, now.Add(-time.Minute))

	assert.Equal(t, 1, c.CountLastHour(1, now))
}

func TestCountSession_UsesSessionStartProvider(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	sessionStart := now.Add(-20 * time.Minute)
	c := New(fakeSessions{starts: map[int64]time.Time{1: sessionStart}})

	c.RecordTrade(1, now.Add(-40*time.Minute)) // before session start
	c.RecordTrade(1, now.Add(-10*time.Minute))
	c.RecordTrade(1, now.Add(-5*time.Minute))

	assert.Equal(t, 2, c.CountSession(1, now))
}

func TestCountSession_UnknownAccountReturnsZero(t *testing.T) {
	c := New(fakeSessions{starts: map[int64]time.Time{}})
	assert.Equal(t, 0, c.CountSession(42, time.Now()))
}

func TestResetSession_ClearsHistory(t *testing.T) {
	now := time.Now()
	c := New(fakeSessions{starts: map[int64]time.Time{1: now.Add(-time.Hour)}})
	c.RecordTrade(1, now)
	assert.Equal(t, 1, c.CountLastMinute(1, now))

	c.ResetSession(1)
	assert.Equal(t, 0, c.CountLastMinute(1, now))
}
