// Package resetscheduler implements the Reset Scheduler (C9): a daily,
// timezone-aware, holiday-skipping reset of per-account session state
// (SPEC_FULL.md §4.9).
//
// Grounded on original_source/src/core/reset_scheduler.py for the
// schedule/callback/holiday-calendar semantics, and on the teacher's
// trader-go/internal/scheduler package for the robfig/cron-based job
// wiring idiom (cron.WithSeconds, AddFunc, log-wrapped job execution).
// Unlike the source, IsHoliday is actually consulted in the fire path
// (the source defines is_holiday but never calls it from
// check_reset_times — a documented fix, not a silent behavior change).
package resetscheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Persister is the subset of the durable store used for idempotence across
// restarts (§4.9: "a process restart must not re-fire a reset already
// applied for the current date").
type Persister interface {
	SaveLastResetDate(hour, minute int, zone, lastResetDate string) error
	LoadLastResetDate() (string, error)
}

// Callback is invoked once per account for every reset that actually fires.
type Callback func(accountID int64, resetDate string)

type holidayFile struct {
	Holidays []string `yaml:"holidays"`
}

// Scheduler drives the daily reset.
type Scheduler struct {
	store Persister
	log   zerolog.Logger

	cron *cron.Cron
	loc  *time.Location

	mu            sync.Mutex
	hour, minute  int
	holidays      map[string]bool
	lastResetDate string
	accounts      []int64
	callbacks     []Callback
	entryID       cron.EntryID
}

// New constructs a Scheduler. Accounts is the fixed roster of accounts whose
// session state resets together (§1: single-daemon, fixed account set).
func New(store Persister, log zerolog.Logger, accounts []int64) (*Scheduler, error) {
	last, err := store.LoadLastResetDate()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		store:         store,
		log:           log.With().Str("component", "reset_scheduler").Logger(),
		cron:          cron.New(cron.WithSeconds()),
		holidays:      make(map[string]bool),
		lastResetDate: last,
		accounts:      accounts,
	}, nil
}

// OnReset registers a callback invoked once per account on every reset.
func (s *Scheduler) OnReset(cb Callback) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

// LoadHolidayCalendar loads a holidays.yaml file of "YYYY-MM-DD" strings.
// A missing file is logged and treated as an empty calendar, matching the
// source's forgiving load behavior.
func (s *Scheduler) LoadHolidayCalendar(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Warn().Str("path", path).Msg("holiday calendar file not found")
			return nil
		}
		return err
	}
	var hf holidayFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return fmt.Errorf("parsing holiday calendar: %w", err)
	}
	s.mu.Lock()
	s.holidays = make(map[string]bool, len(hf.Holidays))
	for _, d := range hf.Holidays {
		s.holidays[d] = true
	}
	s.mu.Unlock()
	s.log.Info().Int("count", len(hf.Holidays)).Str("path", path).Msg("loaded holiday calendar")
	return nil
}

// IsHoliday reports whether the given date (in the scheduler's configured
// zone) is a trading holiday.
func (s *Scheduler) IsHoliday(date time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isHolidayLocked(date)
}

// isHolidayLocked is IsHoliday's body for callers that already hold s.mu.
func (s *Scheduler) isHolidayLocked(date time.Time) bool {
	return s.holidays[date.Format("2006-01-02")]
}

// ScheduleDaily arms the daily reset at hour:minute in zone (§4.9).
func (s *Scheduler) ScheduleDaily(hour, minute int, zone string) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("hour must be between 0 and 23")
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("minute must be between 0 and 59")
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return fmt.Errorf("loading zone %q: %w", zone, err)
	}

	s.mu.Lock()
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.hour, s.minute, s.loc = hour, minute, loc
	s.mu.Unlock()

	s.cron.Stop()
	s.cron = cron.New(cron.WithSeconds(), cron.WithLocation(loc))
	spec := fmt.Sprintf("0 %d %d * * *", minute, hour)
	id, err := s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return fmt.Errorf("scheduling daily reset: %w", err)
	}
	s.mu.Lock()
	s.entryID = id
	s.mu.Unlock()

	s.log.Info().Int("hour", hour).Int("minute", minute).Str("zone", zone).Msg("daily reset scheduled")
	return nil
}

// Start begins the cron driver. Call after ScheduleDaily.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	go func() {
		<-ctx.Done()
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}()
}

// NextReset returns the next time the daily reset is scheduled to fire.
// Rules with an unspecified lockout duration (R1, R4, R11) lock out "until
// the next reset" by calling this rather than inventing their own clock.
func (s *Scheduler) NextReset() time.Time {
	s.mu.Lock()
	id := s.entryID
	c := s.cron
	s.mu.Unlock()
	if id == 0 || c == nil {
		return time.Time{}
	}
	return c.Entry(id).Next
}

// Cancel stops the scheduled reset without firing it.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}
	s.mu.Unlock()
}

// TriggerNow forces an immediate reset, skipping it if the current date has
// already been reset (§4.9's idempotence guarantee).
func (s *Scheduler) TriggerNow() bool {
	return s.fireAt(time.Now())
}

func (s *Scheduler) fire() {
	loc := s.currentLoc()
	s.fireAt(time.Now().In(loc))
}

func (s *Scheduler) currentLoc() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return time.UTC
}

func (s *Scheduler) fireAt(now time.Time) bool {
	today := now.Format("2006-01-02")

	s.mu.Lock()
	if s.lastResetDate == today {
		s.mu.Unlock()
		s.log.Debug().Str("date", today).Msg("reset already triggered today, skipping")
		return false
	}
	if s.isHolidayLocked(now) {
		s.mu.Unlock()
		s.log.Info().Str("date", today).Msg("skipping reset: trading holiday")
		return false
	}
	hour, minute := s.hour, s.minute
	accounts := append([]int64(nil), s.accounts...)
	callbacks := append([]Callback(nil), s.callbacks...)
	s.lastResetDate = today
	s.mu.Unlock()

	zone := "UTC"
	if loc := s.currentLoc(); loc != nil {
		zone = loc.String()
	}
	if err := s.store.SaveLastResetDate(hour, minute, zone, today); err != nil {
		s.log.Error().Err(err).Msg("failed to persist last reset date")
	}

	s.log.Info().Str("date", today).Int("accounts", len(accounts)).Msg("executing daily reset")
	for _, acct := range accounts {
		for _, cb := range callbacks {
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.log.Error().Interface("panic", r).Int64("account", acct).Msg("reset callback panicked")
					}
				}()
				cb(acct, today)
			}()
		}
	}
	return true
}
