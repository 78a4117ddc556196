// Package enforcement implements the Enforcement Executor (C10): the only
// component permitted to mutate brokerage-side state, delegated to by every
// rule in the catalog (SPEC_FULL.md §4.10).
//
// Grounded on original_source/src/core/enforcement_actions.py for the
// action set and idempotence contract (close/cancel on an
// already-terminal target is success, not failure); retry/backoff and rate
// limiting are grounded on AlejandroRuiz99-polybot's REST client
// (doWithRetry: jittered exponential backoff, 429 honoring Retry-After,
// golang.org/x/time/rate pacing).
package enforcement

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aristath/riskguard/internal/brokerage"
	"github.com/aristath/riskguard/internal/domain"
	"github.com/aristath/riskguard/internal/lockout"
	"github.com/aristath/riskguard/internal/rerr"
	"github.com/aristath/riskguard/internal/statetracker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Persister is the subset of the durable store the executor writes through
// to for the enforcement audit trail.
type Persister interface {
	AppendEnforcementLog(domain.EnforcementLogRecord) error
}

// Config controls retry and pacing behavior (§4.10, §6 executor retry
// config surface).
type Config struct {
	Attempts    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	RatePerSec  float64
	ShutdownGrace time.Duration
}

// Executor performs enforcement actions against the brokerage REST client,
// re-reading state immediately before each action (§4.11d invariant: "no
// rule action is taken against a position whose size is already 0").
type Executor struct {
	rest    brokerage.RESTClient
	states  *statetracker.Tracker
	lockouts *lockout.Manager
	store   Persister
	cfg     Config
	limiter *rate.Limiter
	log     zerolog.Logger

	acctMu sync.Map // accountID -> *sync.Mutex, serializes actions per account
}

// New constructs an Executor.
func New(rest brokerage.RESTClient, states *statetracker.Tracker, lockouts *lockout.Manager, store Persister, cfg Config, log zerolog.Logger) *Executor {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	return &Executor{
		rest:     rest,
		states:   states,
		lockouts: lockouts,
		store:    store,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(math.Max(1, cfg.RatePerSec))),
		log:      log.With().Str("component", "enforcement_executor").Logger(),
	}
}

func (e *Executor) accountLock(accountID int64) *sync.Mutex {
	v, _ := e.acctMu.LoadOrStore(accountID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// withAccount serializes the given action under the account's mutex
// (§4.10's concurrency contract: "a process-wide mutex guards the
// lockout-write path ... different accounts proceed in parallel").
func (e *Executor) withAccount(accountID int64, fn func() error) error {
	mu := e.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// retry runs op with the configured retry policy: transient errors retry
// with jittered exponential backoff, rate-limit errors honor RetryAfter,
// everything else fails immediately.
func (e *Executor) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	delay := e.cfg.BaseDelay
	for attempt := 1; attempt <= e.cfg.Attempts; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return rerr.Transient(op, err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !rerr.IsTransient(err) {
			return err
		}

		wait := delay
		if rl, ok := asRateLimited(err); ok && rl.RetryAfter > 0 {
			wait = rl.RetryAfter
		}
		wait = jitter(wait)

		e.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("wait", wait).Msg("enforcement action failed, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return rerr.Transient(op, ctx.Err())
		}
		delay *= 2
		if delay > e.cfg.MaxDelay && e.cfg.MaxDelay > 0 {
			delay = e.cfg.MaxDelay
		}
	}
	return lastErr
}

func asRateLimited(err error) (*rerr.RateLimitedErr, bool) {
	var rl *rerr.RateLimitedErr
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

func jitter(d time.Duration) time.Duration {
	f := 0.85 + 0.3*rand.Float64()
	return time.Duration(float64(d) * f)
}

// findPositionByContract scans an account's tracked positions for one
// matching contractID. The state tracker indexes positions by their own
// position ID, not by contract ID, so any lookup keyed on a contract ID (the
// form every rule passes) must scan rather than call GetPosition directly.
func findPositionByContract(positions []domain.Position, contractID string) (domain.Position, bool) {
	for _, p := range positions {
		if p.ContractID == contractID {
			return p, true
		}
	}
	return domain.Position{}, false
}

// CloseAllPositions closes every open position for an account. Individual
// close failures are logged and do not abort the remaining closes (source's
// "continue closing other positions even if one fails").
func (e *Executor) CloseAllPositions(ctx context.Context, accountID int64, ruleID, reason string) error {
	return e.withAccount(accountID, func() error {
		start := time.Now()
		positions := e.states.GetPositions(accountID)
		closed := 0
		for _, p := range positions {
			fresh, stillOpen := e.states.GetPosition(accountID, p.ID)
			if !stillOpen || fresh.Size == 0 {
				continue
			}
			err := e.retry(ctx, "closePosition", func() error {
				res, err := e.rest.ClosePosition(ctx, accountID, p.ContractID)
				if err != nil {
					return err
				}
				if !res.Success {
					return rerr.Transient("closePosition", errNotSuccessful)
				}
				return nil
			})
			if err != nil {
				e.log.Error().Err(err).Int64("account", accountID).Str("contract", p.ContractID).Msg("failed to close position")
				continue
			}
			closed++
		}
		return e.logEnforcement(accountID, ruleID, domain.ActionCloseAll, reason, map[string]interface{}{"closed": closed}, true, time.Since(start))
	})
}

// ClosePosition fully closes the account's position in contractID. Partial
// reductions go through ReducePositionToLimit.
func (e *Executor) ClosePosition(ctx context.Context, accountID int64, contractID, ruleID, reason string) error {
	return e.withAccount(accountID, func() error {
		start := time.Now()
		if _, open := findPositionByContract(e.states.GetPositions(accountID), contractID); !open {
			return e.logEnforcement(accountID, ruleID, domain.ActionClosePosition, reason, nil, true, time.Since(start))
		}
		err := e.retry(ctx, "closePosition", func() error {
			res, err := e.rest.ClosePosition(ctx, accountID, contractID)
			if err != nil {
				return err
			}
			if !res.Success {
				return rerr.Transient("closePosition", errNotSuccessful)
			}
			return nil
		})
		success := err == nil
		logErr := e.logEnforcement(accountID, ruleID, domain.ActionClosePosition, reason, map[string]interface{}{"contractId": contractID}, success, time.Since(start))
		if err != nil {
			return err
		}
		return logErr
	})
}

// ReducePositionToLimit closes contracts off the account's position in
// contractID until its size equals targetSize (R1/R2); a targetSize of zero
// or less closes the whole position. Nothing is sent to the brokerage when
// the position is no longer open or is already at or below targetSize.
func (e *Executor) ReducePositionToLimit(ctx context.Context, accountID int64, contractID string, targetSize int64, ruleID, reason string) error {
	return e.withAccount(accountID, func() error {
		start := time.Now()
		p, open := findPositionByContract(e.states.GetPositions(accountID), contractID)
		qty := p.Size - targetSize
		if qty > p.Size {
			qty = p.Size
		}
		if !open || qty <= 0 {
			return e.logEnforcement(accountID, ruleID, domain.ActionReduceToLimit, reason, nil, true, time.Since(start))
		}
		err := e.retry(ctx, "closePositionPartial", func() error {
			res, err := e.rest.ClosePositionPartial(ctx, accountID, contractID, qty)
			if err != nil {
				return err
			}
			if !res.Success {
				return rerr.Transient("closePositionPartial", errNotSuccessful)
			}
			return nil
		})
		success := err == nil
		logErr := e.logEnforcement(accountID, ruleID, domain.ActionReduceToLimit, reason, map[string]interface{}{"contractId": contractID, "qty": qty}, success, time.Since(start))
		if err != nil {
			return err
		}
		return logErr
	})
}

// CancelAllOrders cancels every working order for an account.
func (e *Executor) CancelAllOrders(ctx context.Context, accountID int64, ruleID, reason string) error {
	return e.withAccount(accountID, func() error {
		start := time.Now()
		orders := e.states.GetOrders(accountID)
		cancelled := 0
		for _, o := range orders {
			if o.Status.IsTerminal() {
				continue
			}
			err := e.retry(ctx, "cancelOrder", func() error {
				res, err := e.rest.CancelOrder(ctx, accountID, o.ID)
				if err != nil {
					return err
				}
				if !res.Success {
					return rerr.Transient("cancelOrder", errNotSuccessful)
				}
				return nil
			})
			if err != nil {
				e.log.Error().Err(err).Int64("account", accountID).Str("order", o.ID).Msg("failed to cancel order")
				continue
			}
			cancelled++
		}
		return e.logEnforcement(accountID, ruleID, domain.ActionCancelAllOrders, reason, map[string]interface{}{"cancelled": cancelled}, true, time.Since(start))
	})
}

// CancelOrder cancels a single order (R9 SessionBlockOutside, R11 SymbolBlocks).
func (e *Executor) CancelOrder(ctx context.Context, accountID int64, orderID, ruleID, reason string) error {
	return e.withAccount(accountID, func() error {
		start := time.Now()
		err := e.retry(ctx, "cancelOrder", func() error {
			res, err := e.rest.CancelOrder(ctx, accountID, orderID)
			if err != nil {
				return err
			}
			if !res.Success {
				return rerr.Transient("cancelOrder", errNotSuccessful)
			}
			return nil
		})
		success := err == nil
		logErr := e.logEnforcement(accountID, ruleID, domain.ActionCancelOrder, reason, map[string]interface{}{"orderId": orderID}, success, time.Since(start))
		if err != nil {
			return err
		}
		return logErr
	})
}

// PlaceStopLossOrder places a protective stop (R12 TradeManagement).
func (e *Executor) PlaceStopLossOrder(ctx context.Context, accountID int64, req brokerage.OrderRequest, ruleID, reason string) error {
	return e.withAccount(accountID, func() error {
		start := time.Now()
		var orderID string
		err := e.retry(ctx, "placeOrder", func() error {
			res, err := e.rest.PlaceOrder(ctx, accountID, req)
			if err != nil {
				return err
			}
			orderID = res.OrderID
			return nil
		})
		success := err == nil
		logErr := e.logEnforcement(accountID, ruleID, domain.ActionPlaceStopLoss, reason, map[string]interface{}{"contractId": req.ContractID, "orderId": orderID}, success, time.Since(start))
		if err != nil {
			return err
		}
		return logErr
	})
}

// ApplyLockout applies an account lockout and logs it.
func (e *Executor) ApplyLockout(accountID int64, l domain.Lockout, ruleID, reason string) error {
	return e.withAccount(accountID, func() error {
		start := time.Now()
		err := e.lockouts.ApplyLockout(l)
		return e.logEnforcement(accountID, ruleID, domain.ActionApplyLockout, reason, map[string]interface{}{"kind": l.Kind}, err == nil, time.Since(start))
	})
}

// RemoveLockout clears an account's lockout (admin action).
func (e *Executor) RemoveLockout(accountID int64, ruleID, reason string) error {
	return e.withAccount(accountID, func() error {
		start := time.Now()
		err := e.lockouts.RemoveLockout(accountID)
		return e.logEnforcement(accountID, ruleID, domain.ActionRemoveLockout, reason, nil, err == nil, time.Since(start))
	})
}

func (e *Executor) logEnforcement(accountID int64, ruleID string, action domain.EnforcementAction, reason string, details map[string]interface{}, success bool, elapsed time.Duration) error {
	rec := domain.EnforcementLogRecord{
		ID:          uuid.NewString(),
		Ts:          time.Now(),
		AccountID:   accountID,
		RuleID:      ruleID,
		Action:      action,
		Reason:      reason,
		Details:     details,
		Success:     success,
		ExecutionMs: elapsed.Milliseconds(),
	}
	if err := e.store.AppendEnforcementLog(rec); err != nil {
		e.log.Error().Err(err).Msg("failed to persist enforcement log record")
		return err
	}
	return nil
}

var errNotSuccessful = errors.New("brokerage reported action unsuccessful")
