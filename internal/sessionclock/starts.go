package sessionclock

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Persister is the subset of the durable store used to survive a restart
// without losing track of when each account's current session began.
type Persister interface {
	SaveSessionStart(accountID int64, start time.Time) error
	LoadSessionStart(accountID int64) (time.Time, bool, error)
}

// Starts tracks, per account, the instant its current trading session
// began, satisfying tradecounter.SessionStartProvider. The Reset Scheduler
// advances it once per account on every daily reset (§4.9); a process
// restart mid-session recovers the last-known start from the store rather
// than resetting to "now", so CountSession doesn't silently truncate.
type Starts struct {
	store Persister
	log   zerolog.Logger

	mu    sync.RWMutex
	start map[int64]time.Time
}

// NewStarts constructs a Starts tracker. For every account in accounts, it
// loads a persisted start time if one exists; accounts with no persisted
// start are seeded with now, matching a first-ever run.
func NewStarts(store Persister, accounts []int64, now time.Time, log zerolog.Logger) (*Starts, error) {
	s := &Starts{
		store: store,
		log:   log.With().Str("component", "session_starts").Logger(),
		start: make(map[int64]time.Time, len(accounts)),
	}
	for _, acct := range accounts {
		t, ok, err := store.LoadSessionStart(acct)
		if err != nil {
			return nil, err
		}
		if !ok {
			t = now
			if err := store.SaveSessionStart(acct, t); err != nil {
				return nil, err
			}
		}
		s.start[acct] = t
	}
	return s, nil
}

// SessionStart implements tradecounter.SessionStartProvider.
func (s *Starts) SessionStart(accountID int64) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.start[accountID]
	return t, ok
}

// Advance records a new session start for an account, persisting it so a
// restart mid-session recovers the right boundary. Wired to the Reset
// Scheduler's OnReset callback.
func (s *Starts) Advance(accountID int64, at time.Time) {
	s.mu.Lock()
	s.start[accountID] = at
	s.mu.Unlock()
	if err := s.store.SaveSessionStart(accountID, at); err != nil {
		s.log.Error().Err(err).Int64("account", accountID).Msg("failed to persist session start")
	}
}
