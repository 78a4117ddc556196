// Package dispatcher implements the Event Dispatcher (C12): the component
// that owns both brokerage real-time connections, routes events to the
// tracker plane, fans them through the Rule Catalog, and hands any breach to
// the Enforcement Executor (SPEC_FULL.md §4.1).
//
// Grounded on the teacher's tradernet hub-consumer wiring for the
// connect/resubscribe/route shape; the per-account worker pool and
// drop-oldest quote channel are new code expressing §5's concurrency model,
// for which no pack example ships an equivalent (a single dispatcher
// fanning two streams into N account-ordered workers is specific to this
// domain).
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/riskguard/internal/brokerage"
	"github.com/aristath/riskguard/internal/contractcache"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/aristath/riskguard/internal/lockout"
	"github.com/aristath/riskguard/internal/pnltracker"
	"github.com/aristath/riskguard/internal/quotetracker"
	"github.com/aristath/riskguard/internal/rules"
	"github.com/aristath/riskguard/internal/statetracker"
	"github.com/aristath/riskguard/internal/timerwheel"
	"github.com/aristath/riskguard/internal/tradecounter"
	"github.com/rs/zerolog"
)

// Subscriber issues the subscribe control frames for both hubs. The wire
// encoding is brokerage-specific (§6 treats the real-time client as an
// interface); concrete wiring supplies an implementation that calls
// Hub.Send with its own frame format.
type Subscriber interface {
	SubscribeAccounts(ctx context.Context, accountIDs []int64) error
	SubscribeContracts(ctx context.Context, contractIDs []string) error
}

// Config controls the dispatcher's channel sizing and lifecycle timeouts.
type Config struct {
	ConnectTimeout time.Duration // §4.1 start(): block until connected or this elapses
	ShutdownGrace  time.Duration // §5: executor finishes in-flight actions subject to this
	QueueSize      int           // per-account channel capacity (never dropped, backpressures instead)
	QuoteQueueSize int           // market-event channel capacity (oldest dropped on overflow)
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.QuoteQueueSize <= 0 {
		c.QuoteQueueSize = 256
	}
}

// Dispatcher owns both hubs and the per-account/market worker pool.
type Dispatcher struct {
	userHub   *brokerage.Hub
	marketHub *brokerage.Hub
	sub       Subscriber
	accounts  []int64

	contracts *contractcache.Cache
	quotes    *quotetracker.Tracker
	states    *statetracker.Tracker
	pnl       *pnltracker.Tracker
	trades    *tradecounter.Counter
	timers    *timerwheel.Wheel
	lockouts  *lockout.Manager
	catalog     *rules.Catalog
	viewFn      func() *rules.View
	sessionDate func() string

	cfg Config
	log zerolog.Logger

	workersMu sync.Mutex
	workers   map[int64]chan domain.Event
	marketCh  chan domain.Event

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Dispatcher. viewFn builds a fresh rules.View per
// evaluation (its Now/NextReset/SessionDate closures read live clocks);
// sessionDate returns the same current session date used to key P&L writes.
func New(
	userHub, marketHub *brokerage.Hub,
	sub Subscriber,
	accounts []int64,
	contracts *contractcache.Cache,
	quotes *quotetracker.Tracker,
	states *statetracker.Tracker,
	pnl *pnltracker.Tracker,
	trades *tradecounter.Counter,
	timers *timerwheel.Wheel,
	lockouts *lockout.Manager,
	catalog *rules.Catalog,
	viewFn func() *rules.View,
	sessionDate func() string,
	cfg Config,
	log zerolog.Logger,
) *Dispatcher {
	cfg.setDefaults()
	return &Dispatcher{
		userHub:     userHub,
		marketHub:   marketHub,
		sub:         sub,
		accounts:    append([]int64(nil), accounts...),
		contracts:   contracts,
		quotes:      quotes,
		states:      states,
		pnl:         pnl,
		trades:      trades,
		timers:      timers,
		lockouts:    lockouts,
		catalog:     catalog,
		viewFn:      viewFn,
		sessionDate: sessionDate,
		cfg:         cfg,
		log:         log.With().Str("component", "dispatcher").Logger(),
		workers:     make(map[int64]chan domain.Event, len(accounts)),
		stopCh:      make(chan struct{}),
	}
}

// Start wires both hubs, launches one worker per configured account plus one
// market worker, and connects both hubs, blocking until both report
// connected or ConnectTimeout elapses (§4.1's start() contract).
func (d *Dispatcher) Start(ctx context.Context) {
	for _, acct := range d.accounts {
		ch := make(chan domain.Event, d.cfg.QueueSize)
		d.workers[acct] = ch
		d.wg.Add(1)
		go d.accountWorker(acct, ch)
	}
	d.marketCh = make(chan domain.Event, d.cfg.QuoteQueueSize)
	d.wg.Add(1)
	go d.marketWorker()

	d.userHub.OnEvent(d.routeUserEvent)
	d.marketHub.OnEvent(d.routeMarketEvent)

	d.userHub.OnConnect(func(ctx context.Context) {
		if err := d.sub.SubscribeAccounts(ctx, d.accounts); err != nil {
			d.log.Error().Err(err).Msg("failed to subscribe user hub to accounts")
		}
	})
	d.marketHub.OnConnect(func(ctx context.Context) {
		ids := d.currentContractIDs()
		if err := d.sub.SubscribeContracts(ctx, ids); err != nil {
			d.log.Error().Err(err).Msg("failed to subscribe market hub to contracts")
		}
	})
	// A new position referencing a contract outside the current set mid-session
	// should extend the market subscription without waiting for a reconnect.
	d.states.OnChange(func(accountID int64) { d.resubscribeMarketIfConnected(ctx) })

	var startWg sync.WaitGroup
	startWg.Add(2)
	go func() { defer startWg.Done(); d.userHub.Start(d.cfg.ConnectTimeout) }()
	go func() { defer startWg.Done(); d.marketHub.Start(d.cfg.ConnectTimeout) }()
	startWg.Wait()
}

func (d *Dispatcher) resubscribeMarketIfConnected(ctx context.Context) {
	if d.marketHub.State() != brokerage.StateConnected {
		return
	}
	if err := d.sub.SubscribeContracts(ctx, d.currentContractIDs()); err != nil {
		d.log.Error().Err(err).Msg("failed to extend market hub subscription")
	}
}

// currentContractIDs returns the union of contract ids referenced by every
// configured account's open positions (§4.1 start(): "subscribe the market
// hub to the union of contract ids referenced by current open positions").
func (d *Dispatcher) currentContractIDs() []string {
	seen := make(map[string]struct{})
	for _, acct := range d.accounts {
		for _, p := range d.states.GetPositions(acct) {
			seen[p.ContractID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}

// Stop closes both hubs, drains the worker pool, and waits up to
// ShutdownGrace for in-flight events to finish processing (§5 shutdown).
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.userHub.Stop()
		d.marketHub.Stop()
		close(d.stopCh)

		d.workersMu.Lock()
		for _, ch := range d.workers {
			close(ch)
		}
		d.workersMu.Unlock()
		close(d.marketCh)

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(d.cfg.ShutdownGrace):
			d.log.Warn().Msg("shutdown grace elapsed with dispatcher workers still draining")
		}
	})
}

// routeUserEvent delivers an account-scoped event to its worker, blocking
// (never dropping) if the worker is behind — §4.1: "never [drop] trade,
// position, order events."
func (d *Dispatcher) routeUserEvent(ev domain.Event) {
	accountID := ev.Account()
	d.workersMu.Lock()
	ch, ok := d.workers[accountID]
	d.workersMu.Unlock()
	if !ok {
		d.log.Warn().Int64("account", accountID).Msg("event for unconfigured account dropped")
		return
	}
	select {
	case ch <- ev:
	case <-d.stopCh:
	}
}

// routeMarketEvent delivers a quote to the market worker, dropping the
// oldest queued quote on overflow rather than blocking the hub's read loop
// (§4.1: quotes are refreshable, so staleness beats backpressure here).
func (d *Dispatcher) routeMarketEvent(ev domain.Event) {
	select {
	case d.marketCh <- ev:
		return
	default:
	}
	select {
	case <-d.marketCh:
	default:
	}
	select {
	case d.marketCh <- ev:
	default:
	}
}

func (d *Dispatcher) accountWorker(accountID int64, ch chan domain.Event) {
	defer d.wg.Done()
	for ev := range ch {
		d.process(accountID, ev)
	}
}

func (d *Dispatcher) marketWorker() {
	defer d.wg.Done()
	for ev := range d.marketCh {
		d.processMarket(ev)
	}
}

// process runs the fixed §4.1 routing order for one account-scoped event: a
// handler panic is recovered and logged, never taking down the worker.
func (d *Dispatcher) process(accountID int64, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Int64("account", accountID).Msg("event handler panicked, event dropped")
		}
	}()

	ctx := context.Background()
	d.prewarm(ctx, ev)
	d.updateTrackers(ev)

	v := d.viewFn()
	breaches := d.catalog.Evaluate(ev, v)
	d.enforceBreaches(ctx, breaches)
}

func (d *Dispatcher) processMarket(ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("market event handler panicked, event dropped")
		}
	}()

	qe, ok := ev.(domain.MarketQuoteEvent)
	if !ok {
		return
	}
	ctx := context.Background()
	d.prewarm(ctx, ev)
	d.quotes.UpdateQuote(qe.Quote)

	v := d.viewFn()
	breaches := d.catalog.Evaluate(ev, v)
	d.enforceBreaches(ctx, breaches)
}

// prewarm fetches contract metadata for the event's referenced contract
// before any dependent math runs (§4.1 step 1). A fetch failure is not
// fatal here: rules that need priced metadata degrade to skip on their own
// (pnltracker.GetUnrealizedForPosition's ok=false path).
func (d *Dispatcher) prewarm(ctx context.Context, ev domain.Event) {
	contractID, ok := contractIDOf(ev)
	if !ok || contractID == "" {
		return
	}
	d.contracts.Get(ctx, contractID)
}

func contractIDOf(ev domain.Event) (string, bool) {
	switch e := ev.(type) {
	case domain.UserPositionEvent:
		return e.Position.ContractID, true
	case domain.UserOrderEvent:
		return e.Order.ContractID, true
	case domain.UserTradeEvent:
		return e.Trade.ContractID, true
	case domain.MarketQuoteEvent:
		return e.Quote.ContractID, true
	default:
		return "", false
	}
}

// updateTrackers applies step 2 of §4.1's routing order for account-scoped
// events. Account events carry no tracker update by design. A trade's
// pending-stop cross-check is not performed here directly: the
// accompanying position/order event for the same fill already drives the
// State Tracker's change signal, which is what PendingStopTracker recomputes
// from (§3's "cross-cut data" note) — touching it again from the trade
// event would be redundant, not load-bearing.
func (d *Dispatcher) updateTrackers(ev domain.Event) {
	switch e := ev.(type) {
	case domain.UserPositionEvent:
		if err := d.states.UpdatePosition(e.Position); err != nil {
			d.log.Error().Err(err).Int64("account", e.AccountID).Msg("failed to persist position update")
		}
	case domain.UserOrderEvent:
		if err := d.states.UpdateOrder(e.Order); err != nil {
			d.log.Error().Err(err).Int64("account", e.AccountID).Msg("failed to persist order update")
		}
	case domain.UserTradeEvent:
		d.trades.RecordTrade(e.AccountID, e.Ts)
		if e.Trade.PnL != nil && !e.Trade.Voided {
			if err := d.pnl.AddTradePnl(e.AccountID, d.sessionDate(), *e.Trade.PnL); err != nil {
				d.log.Error().Err(err).Int64("account", e.AccountID).Msg("failed to persist realized pnl")
			}
		}
	case domain.UserAccountEvent:
		// no tracker update, per §4.1.
	}
}

func (d *Dispatcher) enforceBreaches(ctx context.Context, breaches []*rules.Breach) {
	for _, b := range breaches {
		if err := b.Enforce(ctx); err != nil {
			d.log.Error().Err(err).Str("rule", b.RuleID).Int64("account", b.AccountID).Msg("enforcement action failed")
		}
	}
}

// RunGraceSweep drives Rule 8's periodic pending-stop poll (§4.11's "timer
// tick" trigger) until ctx is cancelled.
func (d *Dispatcher) RunGraceSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollGraceOnce()
		}
	}
}

func (d *Dispatcher) pollGraceOnce() {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("grace sweep panicked")
		}
	}()
	v := d.viewFn()
	d.enforceBreaches(context.Background(), d.catalog.PollGrace(v))
}
