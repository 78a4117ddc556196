// Package wiring constructs every component in dependency order and wires
// the callbacks that tie them together (durable store first, trackers next,
// the rule catalog and dispatcher last). Grounded on the teacher's
// internal/di container: one Build function, one Container struct holding
// every long-lived component, explicit cleanup on a partial failure.
package wiring

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aristath/riskguard/internal/admin"
	"github.com/aristath/riskguard/internal/brokerage"
	"github.com/aristath/riskguard/internal/brokerageclient"
	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/contractcache"
	"github.com/aristath/riskguard/internal/dispatcher"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/aristath/riskguard/internal/enforcement"
	"github.com/aristath/riskguard/internal/lockout"
	"github.com/aristath/riskguard/internal/pnltracker"
	"github.com/aristath/riskguard/internal/quotetracker"
	"github.com/aristath/riskguard/internal/reliability"
	"github.com/aristath/riskguard/internal/resetscheduler"
	"github.com/aristath/riskguard/internal/rules"
	"github.com/aristath/riskguard/internal/sessionclock"
	"github.com/aristath/riskguard/internal/statetracker"
	"github.com/aristath/riskguard/internal/store"
	"github.com/aristath/riskguard/internal/timerwheel"
	"github.com/aristath/riskguard/internal/tradecounter"
	"github.com/rs/zerolog"
)

// Brokerage bundles the brokerage-specific collaborators the core treats as
// interfaces (§6: "the brokerage REST+WebSocket protocol wire encoding; we
// treat the client as an interface"). The caller supplies the REST client and
// frame decoders; cmd/riskd passes the internal/brokerageclient ones.
type Brokerage struct {
	REST              brokerage.RESTClient
	UserHubURL        string
	MarketHubURL      string
	DecodeUserFrame   func([]byte) (domain.Event, error)
	DecodeMarketFrame func([]byte) (domain.Event, error)
}

// Container holds every constructed component for the lifetime of the
// daemon process.
type Container struct {
	DB  *store.DB
	St  *store.Store
	Log zerolog.Logger
	Cfg *config.Config

	Contracts     *contractcache.Cache
	Quotes        *quotetracker.Tracker
	States        *statetracker.Tracker
	PnL           *pnltracker.Tracker
	Trades        *tradecounter.Counter
	Timers        *timerwheel.Wheel
	Lockouts      *lockout.Manager
	Executor      *enforcement.Executor
	Catalog       *rules.Catalog
	Pending       *rules.PendingStopTracker
	ResetSched    *resetscheduler.Scheduler
	SessionClock  *sessionclock.Clock
	SessionStarts *sessionclock.Starts
	Dispatcher    *dispatcher.Dispatcher
	Admin         *admin.Server
	Maintenance   *reliability.MaintenanceJob

	userHub   *brokerage.Hub
	marketHub *brokerage.Hub

	cancel context.CancelFunc
}

// Build constructs every component in dependency order: store, then the
// trackers that read through it, then the rule catalog, then the
// dispatcher and admin surface that sit on top of everything else.
func Build(cfg *config.Config, log zerolog.Logger, bk Brokerage) (*Container, error) {
	c := &Container{Log: log, Cfg: cfg}

	db, err := store.Open(store.Config{
		Path:    filepath.Join(cfg.DataDir, "riskd.db"),
		Profile: store.ProfileLedger,
		Name:    "riskd",
	})
	if err != nil {
		return nil, fmt.Errorf("opening durable store: %w", err)
	}
	c.DB = db
	c.St = store.New(db)

	c.States, err = statetracker.New(c.St)
	if err != nil {
		c.closeOnError()
		return nil, fmt.Errorf("constructing state tracker: %w", err)
	}

	c.Quotes = quotetracker.New()

	c.Contracts, err = contractcache.New(
		cfg.ContractCache.MaxSize,
		time.Duration(cfg.ContractCache.TTLSeconds)*time.Second,
		bk.REST,
		c.St,
		log,
	)
	if err != nil {
		c.closeOnError()
		return nil, fmt.Errorf("constructing contract cache: %w", err)
	}

	c.PnL = pnltracker.New(c.St, c.States, c.Quotes, c.Contracts, cfg.QuoteStaleness)

	c.ResetSched, err = resetscheduler.New(c.St, log, cfg.Accounts)
	if err != nil {
		c.closeOnError()
		return nil, fmt.Errorf("constructing reset scheduler: %w", err)
	}
	if err := c.ResetSched.LoadHolidayCalendar(cfg.ResetScheduler.HolidaysPath); err != nil {
		c.closeOnError()
		return nil, fmt.Errorf("loading holiday calendar: %w", err)
	}
	if err := c.ResetSched.ScheduleDaily(cfg.ResetScheduler.Hour, cfg.ResetScheduler.Minute, cfg.ResetScheduler.Zone); err != nil {
		c.closeOnError()
		return nil, fmt.Errorf("scheduling daily reset: %w", err)
	}

	loc, err := time.LoadLocation(cfg.ResetScheduler.Zone)
	if err != nil {
		c.closeOnError()
		return nil, fmt.Errorf("loading reset scheduler zone: %w", err)
	}
	c.SessionClock = sessionclock.New(time.Now(), loc)

	c.SessionStarts, err = sessionclock.NewStarts(c.St, cfg.Accounts, time.Now(), log)
	if err != nil {
		c.closeOnError()
		return nil, fmt.Errorf("constructing session start tracker: %w", err)
	}
	c.Trades = tradecounter.New(c.SessionStarts)

	c.Timers = timerwheel.New(log, time.Second)

	c.Lockouts, err = lockout.New(c.St)
	if err != nil {
		c.closeOnError()
		return nil, fmt.Errorf("constructing lockout manager: %w", err)
	}

	c.Executor = enforcement.New(bk.REST, c.States, c.Lockouts, c.St, enforcement.Config{
		Attempts:      cfg.Executor.Attempts,
		BaseDelay:     time.Duration(cfg.Executor.BaseDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(cfg.Executor.MaxDelayMs) * time.Millisecond,
		RatePerSec:    cfg.Executor.RatePerSec,
		ShutdownGrace: time.Duration(cfg.Executor.ShutdownGraceSeconds) * time.Second,
	}, log)

	unrealizedProfit := rules.NewMaxUnrealizedProfit(c.States)
	c.Catalog = rules.NewCatalog(unrealizedProfit)
	c.Pending = rules.NewPendingStopTracker(c.States)

	// Every reset runs this one callback per account: it advances the
	// session date and session start, clears the trade counter and resets
	// daily P&L. Lockouts are not cleared here: a Hard lockout's Until is
	// always a prior NextReset() instant, so it lazily expires the moment
	// this reset fires without any extra call.
	c.ResetSched.OnReset(func(accountID int64, resetDate string) {
		now := time.Now()
		c.SessionClock.SetDate(resetDate)
		c.SessionStarts.Advance(accountID, now)
		c.Trades.ResetSession(accountID)
		if err := c.PnL.ResetDaily(accountID, resetDate); err != nil {
			log.Error().Err(err).Int64("account", accountID).Msg("failed to reset daily pnl")
		}
	})

	viewFn := func() *rules.View {
		return &rules.View{
			States:      c.States,
			Quotes:      c.Quotes,
			Contracts:   c.Contracts,
			PnL:         c.PnL,
			Trades:      c.Trades,
			Timers:      c.Timers,
			Lockouts:    c.Lockouts,
			Executor:    c.Executor,
			Pending:     c.Pending,
			Cfg:         &cfg.Rules,
			Accounts:    cfg.Accounts,
			Now:         time.Now,
			NextReset:   c.ResetSched.NextReset,
			SessionDate: c.SessionClock.Date,
		}
	}

	c.userHub = brokerage.NewHub(bk.UserHubURL, bk.DecodeUserFrame, log)
	c.marketHub = brokerage.NewHub(bk.MarketHubURL, bk.DecodeMarketFrame, log)
	sub := &brokerageclient.HubSubscriber{UserHub: c.userHub, MarketHub: c.marketHub}

	c.Dispatcher = dispatcher.New(
		c.userHub, c.marketHub, sub, cfg.Accounts,
		c.Contracts, c.Quotes, c.States, c.PnL, c.Trades, c.Timers, c.Lockouts,
		c.Catalog, viewFn, c.SessionClock.Date,
		dispatcher.Config{
			ConnectTimeout: 10 * time.Second,
			ShutdownGrace:  time.Duration(cfg.Executor.ShutdownGraceSeconds) * time.Second,
			QueueSize:      256,
			QuoteQueueSize: 256,
		},
		log,
	)

	c.Admin = admin.New(admin.Config{
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		Log:         log,
		Accounts:    cfg.Accounts,
		States:      c.States,
		Quotes:      c.Quotes,
		PnL:         c.PnL,
		Trades:      c.Trades,
		Lockouts:    c.Lockouts,
		Timers:      c.Timers,
		Store:       c.St,
		SessionDate: c.SessionClock.Date,
		Now:         time.Now,
	})

	c.Maintenance = reliability.NewMaintenanceJob(c.DB, c.St, cfg.DataDir, 7, log)

	return c, nil
}

// closeOnError releases the durable store handle if Build fails partway
// through; every component constructed after the store is cheap in-memory
// state with nothing else to release.
func (c *Container) closeOnError() {
	if c.DB != nil {
		_ = c.DB.Close()
	}
}

// Run starts every background activity: the Timer Wheel sweep, the lockout
// expiry sweep, the reset scheduler's cron driver, the event dispatcher, its
// grace-period poll, and the admin HTTP surface. It returns immediately;
// callers should call Shutdown on the same Container to stop everything.
func (c *Container) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.Timers.Run(ctx)
	go c.runLockoutSweep(ctx)
	c.ResetSched.Start(ctx)
	c.Dispatcher.Start(ctx)
	go c.Dispatcher.RunGraceSweep(ctx, time.Second)
	go c.Maintenance.RunEvery(ctx, time.Hour)

	go func() {
		if err := c.Admin.Start(); err != nil {
			c.Log.Error().Err(err).Msg("admin server stopped")
		}
	}()
}

// runLockoutSweep actively clears expired non-permanent lockouts once per
// second, bounding the staleness window for bulk readers (§5's 1Hz tick
// task: "Timer Wheel sweep + Lockout Manager expiry sweep + Reset Scheduler
// check").
func (c *Container) runLockoutSweep(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Lockouts.CleanupExpired(now)
		}
	}
}

// Shutdown stops every background activity in reverse dependency order and
// closes the durable store last.
func (c *Container) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.Admin.Shutdown(ctx); err != nil {
		c.Log.Error().Err(err).Msg("admin server shutdown error")
	}
	c.Dispatcher.Stop()
	return c.DB.Close()
}
