package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/aristath/riskguard/internal/domain"
	"github.com/aristath/riskguard/internal/rerr"
	"github.com/shopspring/decimal"
)

const timeLayout = time.RFC3339Nano

// Store provides typed read/write access to the durable store's tables, on
// top of the raw DB connection (§6 schema sketch, §4.12 contracts).
type Store struct {
	db *DB
}

// New wraps an opened DB as a Store.
func New(db *DB) *Store { return &Store{db: db} }

// --- Lockouts ---

// SaveLockout upserts the single lockout slot for an account (§4.8).
func (s *Store) SaveLockout(l domain.Lockout) error {
	var expiresAt *string
	if l.Until != nil {
		v := l.Until.Format(timeLayout)
		expiresAt = &v
	}
	_, err := s.db.Conn().Exec(`
		INSERT INTO lockouts (account_id, reason, rule_id, locked_at, expires_at, kind)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			reason=excluded.reason, rule_id=excluded.rule_id, locked_at=excluded.locked_at,
			expires_at=excluded.expires_at, kind=excluded.kind
	`, l.AccountID, l.Reason, l.RuleID, l.LockedAt.Format(timeLayout), expiresAt, lockoutKindToString(l.Kind))
	if err != nil {
		return rerr.StoreIntegrity("save_lockout", err)
	}
	return nil
}

// DeleteLockout removes the lockout slot for an account (admin removeLockout,
// or lazy-clear-on-expiry per §4.8).
func (s *Store) DeleteLockout(accountID int64) error {
	_, err := s.db.Conn().Exec(`DELETE FROM lockouts WHERE account_id = ?`, accountID)
	if err != nil {
		return rerr.StoreIntegrity("delete_lockout", err)
	}
	return nil
}

// LoadLockouts loads every non-expired lockout at startup (§4.8: "Loaded on
// startup, filtering out those whose until is already past").
func (s *Store) LoadLockouts(now time.Time) ([]domain.Lockout, error) {
	rows, err := s.db.Conn().Query(`SELECT account_id, reason, rule_id, locked_at, expires_at, kind FROM lockouts`)
	if err != nil {
		return nil, rerr.StoreIntegrity("load_lockouts", err)
	}
	defer rows.Close()

	var out []domain.Lockout
	for rows.Next() {
		var l domain.Lockout
		var lockedAt string
		var expiresAt sql.NullString
		var kind string
		if err := rows.Scan(&l.AccountID, &l.Reason, &l.RuleID, &lockedAt, &expiresAt, &kind); err != nil {
			return nil, rerr.StoreIntegrity("load_lockouts_scan", err)
		}
		l.LockedAt, err = time.Parse(timeLayout, lockedAt)
		if err != nil {
			return nil, rerr.StoreIntegrity("load_lockouts_parse", err)
		}
		l.Kind = lockoutKindFromString(kind)
		if expiresAt.Valid {
			until, err := time.Parse(timeLayout, expiresAt.String)
			if err != nil {
				return nil, rerr.StoreIntegrity("load_lockouts_parse_until", err)
			}
			if l.Kind != domain.LockoutKindPermanent && !now.Before(until) {
				continue // already expired, skip per §4.8
			}
			l.Until = &until
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func lockoutKindToString(k domain.LockoutKind) string {
	switch k {
	case domain.LockoutKindCooldown:
		return "cooldown"
	case domain.LockoutKindPermanent:
		return "permanent"
	default:
		return "hard"
	}
}

func lockoutKindFromString(s string) domain.LockoutKind {
	switch s {
	case "cooldown":
		return domain.LockoutKindCooldown
	case "permanent":
		return domain.LockoutKindPermanent
	default:
		return domain.LockoutKindHard
	}
}

// --- Daily P&L ---

// SaveDailyPnL upserts the realized running total for an account/date (§4.3).
func (s *Store) SaveDailyPnL(p domain.DailyPnL) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO daily_pnl (account_id, date, realized_pnl) VALUES (?, ?, ?)
		ON CONFLICT(account_id, date) DO UPDATE SET realized_pnl=excluded.realized_pnl
	`, p.AccountID, p.Date, p.Realized.String())
	if err != nil {
		return rerr.StoreIntegrity("save_daily_pnl", err)
	}
	return nil
}

// LoadDailyPnL loads the realized total for an account/date, or the zero
// value if no row exists yet.
func (s *Store) LoadDailyPnL(accountID int64, date string) (domain.DailyPnL, error) {
	var realized string
	err := s.db.Conn().QueryRow(`SELECT realized_pnl FROM daily_pnl WHERE account_id=? AND date=?`, accountID, date).Scan(&realized)
	if err == sql.ErrNoRows {
		return domain.DailyPnL{AccountID: accountID, Date: date, Realized: decimal.Zero}, nil
	}
	if err != nil {
		return domain.DailyPnL{}, rerr.StoreIntegrity("load_daily_pnl", err)
	}
	d, err := decimal.NewFromString(realized)
	if err != nil {
		return domain.DailyPnL{}, rerr.StoreIntegrity("load_daily_pnl_decode", err)
	}
	return domain.DailyPnL{AccountID: accountID, Date: date, Realized: d}, nil
}

// --- Trade history ---

// AppendTrade records an immutable trade fill (§3, §4.3).
func (s *Store) AppendTrade(t domain.Trade) error {
	var pnl *string
	if t.PnL != nil {
		v := t.PnL.String()
		pnl = &v
	}
	voided := 0
	if t.Voided {
		voided = 1
	}
	_, err := s.db.Conn().Exec(`
		INSERT INTO trade_history (id, account_id, contract_id, order_id, side, size, price, pnl, fees, voided, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.AccountID, t.ContractID, t.OrderID, int(t.Side), t.Size, t.Price.String(), pnl, t.Fees.String(), voided, t.Ts.Format(timeLayout))
	if err != nil {
		return rerr.StoreIntegrity("append_trade", err)
	}
	return nil
}

// PruneTradeHistory deletes trade rows older than cutoff. Per §4.12, the
// trade history is pruned to <=7 days on startup; archival beyond that is
// out of core scope.
func (s *Store) PruneTradeHistory(cutoff time.Time) (int64, error) {
	res, err := s.db.Conn().Exec(`DELETE FROM trade_history WHERE ts < ?`, cutoff.Format(timeLayout))
	if err != nil {
		return 0, rerr.StoreIntegrity("prune_trade_history", err)
	}
	return res.RowsAffected()
}

// --- Positions ---

// UpsertPosition writes through a position update (§4.2 apply(event)).
func (s *Store) UpsertPosition(p domain.Position) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO positions (id, account_id, contract_id, symbol_id, side, size, average_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			size=excluded.size, average_price=excluded.average_price, side=excluded.side
	`, p.ID, p.AccountID, p.ContractID, p.SymbolID, int(p.Side), p.Size, p.AveragePrice.String(), p.CreatedAt.Format(timeLayout))
	if err != nil {
		return rerr.StoreIntegrity("upsert_position", err)
	}
	return nil
}

// DeletePosition removes a position row once size reaches zero (§3).
func (s *Store) DeletePosition(id string) error {
	_, err := s.db.Conn().Exec(`DELETE FROM positions WHERE id = ?`, id)
	if err != nil {
		return rerr.StoreIntegrity("delete_position", err)
	}
	return nil
}

// LoadPositions rebuilds all tracked positions at startup (§4.2 loadSnapshot).
func (s *Store) LoadPositions() ([]domain.Position, error) {
	rows, err := s.db.Conn().Query(`SELECT id, account_id, contract_id, symbol_id, side, size, average_price, created_at FROM positions`)
	if err != nil {
		return nil, rerr.StoreIntegrity("load_positions", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var side int
		var avgPrice, createdAt string
		if err := rows.Scan(&p.ID, &p.AccountID, &p.ContractID, &p.SymbolID, &side, &p.Size, &avgPrice, &createdAt); err != nil {
			return nil, rerr.StoreIntegrity("load_positions_scan", err)
		}
		p.Side = domain.Side(side)
		if p.AveragePrice, err = decimal.NewFromString(avgPrice); err != nil {
			return nil, rerr.StoreIntegrity("load_positions_decode", err)
		}
		if p.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, rerr.StoreIntegrity("load_positions_parse_time", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Orders ---

// UpsertOrder writes through an order update.
func (s *Store) UpsertOrder(o domain.Order) error {
	var limitPrice, stopPrice *string
	if o.LimitPrice != nil {
		v := o.LimitPrice.String()
		limitPrice = &v
	}
	if o.StopPrice != nil {
		v := o.StopPrice.String()
		stopPrice = &v
	}
	_, err := s.db.Conn().Exec(`
		INSERT INTO orders (id, account_id, contract_id, symbol_id, type, side, size, limit_price, stop_price, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, size=excluded.size, limit_price=excluded.limit_price, stop_price=excluded.stop_price
	`, o.ID, o.AccountID, o.ContractID, o.SymbolID, int(o.Type), int(o.Side), o.Size, limitPrice, stopPrice, int(o.Status), o.CreatedAt.Format(timeLayout))
	if err != nil {
		return rerr.StoreIntegrity("upsert_order", err)
	}
	return nil
}

// DeleteOrder removes an order row once it reaches a terminal status (§3).
func (s *Store) DeleteOrder(id string) error {
	_, err := s.db.Conn().Exec(`DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return rerr.StoreIntegrity("delete_order", err)
	}
	return nil
}

// LoadOrders rebuilds all tracked (Pending/Open) orders at startup.
func (s *Store) LoadOrders() ([]domain.Order, error) {
	rows, err := s.db.Conn().Query(`SELECT id, account_id, contract_id, symbol_id, type, side, size, limit_price, stop_price, status, created_at FROM orders`)
	if err != nil {
		return nil, rerr.StoreIntegrity("load_orders", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var typ, side, status int
		var limitPrice, stopPrice sql.NullString
		var createdAt string
		if err := rows.Scan(&o.ID, &o.AccountID, &o.ContractID, &o.SymbolID, &typ, &side, &o.Size, &limitPrice, &stopPrice, &status, &createdAt); err != nil {
			return nil, rerr.StoreIntegrity("load_orders_scan", err)
		}
		o.Type = domain.OrderType(typ)
		o.Side = domain.OrderSide(side)
		o.Status = domain.OrderStatus(status)
		if limitPrice.Valid {
			d, err := decimal.NewFromString(limitPrice.String)
			if err != nil {
				return nil, rerr.StoreIntegrity("load_orders_decode_limit", err)
			}
			o.LimitPrice = &d
		}
		if stopPrice.Valid {
			d, err := decimal.NewFromString(stopPrice.String)
			if err != nil {
				return nil, rerr.StoreIntegrity("load_orders_decode_stop", err)
			}
			o.StopPrice = &d
		}
		if o.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, rerr.StoreIntegrity("load_orders_parse_time", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- Contract cache ---

// SaveContract persists a contract-cache entry (§4.5).
func (s *Store) SaveContract(c domain.Contract) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO contract_cache (contract_id, symbol_id, tick_size, tick_value, display_name, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(contract_id) DO UPDATE SET
			symbol_id=excluded.symbol_id, tick_size=excluded.tick_size, tick_value=excluded.tick_value,
			display_name=excluded.display_name, cached_at=excluded.cached_at
	`, c.ID, c.SymbolID, c.TickSize.String(), c.TickValue.String(), c.DisplayName, c.CachedAt.Format(timeLayout))
	if err != nil {
		return rerr.StoreIntegrity("save_contract", err)
	}
	return nil
}

// LoadContracts warms the contract cache from the store at startup, up to
// limit entries, most-recently-cached first (§4.5).
func (s *Store) LoadContracts(limit int) ([]domain.Contract, error) {
	rows, err := s.db.Conn().Query(`SELECT contract_id, symbol_id, tick_size, tick_value, display_name, cached_at FROM contract_cache ORDER BY cached_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, rerr.StoreIntegrity("load_contracts", err)
	}
	defer rows.Close()

	var out []domain.Contract
	for rows.Next() {
		var c domain.Contract
		var tickSize, tickValue, cachedAt string
		if err := rows.Scan(&c.ID, &c.SymbolID, &tickSize, &tickValue, &c.DisplayName, &cachedAt); err != nil {
			return nil, rerr.StoreIntegrity("load_contracts_scan", err)
		}
		if c.TickSize, err = decimal.NewFromString(tickSize); err != nil {
			return nil, rerr.StoreIntegrity("load_contracts_decode", err)
		}
		if c.TickValue, err = decimal.NewFromString(tickValue); err != nil {
			return nil, rerr.StoreIntegrity("load_contracts_decode", err)
		}
		if c.CachedAt, err = time.Parse(timeLayout, cachedAt); err != nil {
			return nil, rerr.StoreIntegrity("load_contracts_parse_time", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Enforcement log ---

// AppendEnforcementLog records one append-only enforcement decision (§3,
// §8 invariant 5: monotonically growing, non-decreasing timestamps per
// account).
func (s *Store) AppendEnforcementLog(r domain.EnforcementLogRecord) error {
	detailsJSON, err := json.Marshal(r.Details)
	if err != nil {
		return rerr.Parse("marshal_enforcement_details", err)
	}
	success := 0
	if r.Success {
		success = 1
	}
	_, err = s.db.Conn().Exec(`
		INSERT INTO enforcement_log (id, ts, account_id, rule_id, action, reason, details_json, success, execution_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Ts.Format(timeLayout), r.AccountID, r.RuleID, string(r.Action), r.Reason, string(detailsJSON), success, r.ExecutionMs)
	if err != nil {
		return rerr.StoreIntegrity("append_enforcement_log", err)
	}
	return nil
}

// RecentEnforcementLog returns the most recent N enforcement records for an
// account, for the Admin read-only boundary (§6).
func (s *Store) RecentEnforcementLog(accountID int64, limit int) ([]domain.EnforcementLogRecord, error) {
	rows, err := s.db.Conn().Query(`
		SELECT id, ts, account_id, rule_id, action, reason, details_json, success, execution_ms
		FROM enforcement_log WHERE account_id = ? ORDER BY ts DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, rerr.StoreIntegrity("recent_enforcement_log", err)
	}
	defer rows.Close()

	var out []domain.EnforcementLogRecord
	for rows.Next() {
		var r domain.EnforcementLogRecord
		var ts, action, detailsJSON string
		var success int
		if err := rows.Scan(&r.ID, &ts, &r.AccountID, &r.RuleID, &action, &r.Reason, &detailsJSON, &success, &r.ExecutionMs); err != nil {
			return nil, rerr.StoreIntegrity("recent_enforcement_log_scan", err)
		}
		if r.Ts, err = time.Parse(timeLayout, ts); err != nil {
			return nil, rerr.StoreIntegrity("recent_enforcement_log_parse_time", err)
		}
		r.Action = domain.EnforcementAction(action)
		r.Success = success == 1
		if detailsJSON != "" {
			if err := json.Unmarshal([]byte(detailsJSON), &r.Details); err != nil {
				return nil, rerr.Parse("unmarshal_enforcement_details", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Session state ---

// SaveSessionStart persists the session-start clock used by the Trade
// Counter's session window (§4.6, §4.9).
func (s *Store) SaveSessionStart(accountID int64, start time.Time) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO session_state (account_id, session_start) VALUES (?, ?)
		ON CONFLICT(account_id) DO UPDATE SET session_start=excluded.session_start
	`, accountID, start.Format(timeLayout))
	if err != nil {
		return rerr.StoreIntegrity("save_session_start", err)
	}
	return nil
}

// LoadSessionStart loads the session-start clock for an account, or ok=false
// if none has been recorded yet.
func (s *Store) LoadSessionStart(accountID int64) (t time.Time, ok bool, err error) {
	var raw string
	err = s.db.Conn().QueryRow(`SELECT session_start FROM session_state WHERE account_id=?`, accountID).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, rerr.StoreIntegrity("load_session_start", err)
	}
	t, err = time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, false, rerr.StoreIntegrity("load_session_start_parse", err)
	}
	return t, true, nil
}

// --- Reset schedule ---

// SaveLastResetDate persists the idempotence guard date (§4.9).
func (s *Store) SaveLastResetDate(hour, minute int, zone, lastResetDate string) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO reset_schedule (id, hour, minute, zone, last_reset_date) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET hour=excluded.hour, minute=excluded.minute, zone=excluded.zone, last_reset_date=excluded.last_reset_date
	`, hour, minute, zone, lastResetDate)
	if err != nil {
		return rerr.StoreIntegrity("save_last_reset_date", err)
	}
	return nil
}

// LoadLastResetDate loads the idempotence guard date, or "" if unset.
func (s *Store) LoadLastResetDate() (string, error) {
	var lastResetDate sql.NullString
	err := s.db.Conn().QueryRow(`SELECT last_reset_date FROM reset_schedule WHERE id=1`).Scan(&lastResetDate)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", rerr.StoreIntegrity("load_last_reset_date", err)
	}
	if !lastResetDate.Valid {
		return "", nil
	}
	return lastResetDate.String, nil
}
