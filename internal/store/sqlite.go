package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"orca/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ TradeStore = (*SQLiteStore)(nil)
var _ PositionStore = (*SQLiteStore)(nil)
var _ RuleStore = (*SQLiteStore)(nil)
var _ AuditStore = (*SQLiteStore)(nil)
var _ AccountStore = (*SQLiteStore)(nil)
var _ ChainStore = (*SQLiteStore)(nil)
var _ LifecycleStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	sell_strike REAL NOT NULL,
	buy_strike  REAL NOT NULL,
	expiration  INTEGER NOT NULL,
	quantity    INTEGER NOT NULL,
	credit      REAL NOT NULL,
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	filled_at   INTEGER
);

CREATE TABLE IF NOT EXISTS positions (
	id              TEXT PRIMARY KEY,
	symbol          TEXT NOT NULL,
	strategy        TEXT NOT NULL,
	sell_strike     REAL NOT NULL,
	buy_strike      REAL NOT NULL,
	expiration      INTEGER NOT NULL,
	quantity        INTEGER NOT NULL,
	open_credit     REAL NOT NULL,
	current_value   REAL NOT NULL,
	delta           REAL NOT NULL,
	margin_required REAL NOT NULL,
	status          TEXT NOT NULL,
	opened_at       INTEGER NOT NULL,
	closed_at       INTEGER
);

CREATE TABLE IF NOT EXISTS risk_rules (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	version           INTEGER NOT NULL,
	min_credit        REAL NOT NULL,
	max_loss          REAL NOT NULL,
	min_open_interest INTEGER NOT NULL,
	delta_cap         REAL NOT NULL,
	leverage_cap      REAL NOT NULL,
	active            INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	details    TEXT NOT NULL,
	actor      TEXT NOT NULL,
	status     TEXT NOT NULL,
	trade_id   TEXT NOT NULL DEFAULT '',
	timestamp  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS account (
	account_id   TEXT PRIMARY KEY,
	net_liq      REAL NOT NULL,
	buying_power REAL NOT NULL,
	margin_used  REAL NOT NULL,
	day_pnl      REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS option_contracts (
	symbol        TEXT PRIMARY KEY,
	underlying    TEXT NOT NULL,
	strike        REAL NOT NULL,
	type          TEXT NOT NULL,
	expiration    TEXT NOT NULL,
	bid           REAL NOT NULL,
	ask           REAL NOT NULL,
	last          REAL NOT NULL,
	delta         REAL NOT NULL,
	open_interest INTEGER NOT NULL
);
`

// SQLiteStore implements every store interface backed by a SQLite database.
// The pipeline's transactional operations (transition + audit entry) lean
// on SQLite's single-writer transactions for their atomicity guarantees.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// the schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Serialize access through the driver; SQLite allows one writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// ---------------------------------------------------------------------------
// TradeStore implementation
// ---------------------------------------------------------------------------

// CreateTrade inserts a new trade.
func (s *SQLiteStore) CreateTrade(ctx context.Context, t *domain.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, strategy, sell_strike, buy_strike, expiration, quantity, credit, status, created_at, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		t.ID, t.Symbol, string(t.Strategy), t.SellStrike, t.BuyStrike,
		millis(t.Expiration), t.Quantity, t.Credit, string(t.Status), millis(t.CreatedAt))
	return err
}

func scanTrade(row interface{ Scan(...any) error }) (*domain.Trade, error) {
	var t domain.Trade
	var strategy, status string
	var expiration, createdAt int64
	var filledAt sql.NullInt64
	err := row.Scan(&t.ID, &t.Symbol, &strategy, &t.SellStrike, &t.BuyStrike,
		&expiration, &t.Quantity, &t.Credit, &status, &createdAt, &filledAt)
	if err != nil {
		return nil, err
	}
	t.Strategy = domain.Strategy(strategy)
	t.Status = domain.TradeStatus(status)
	t.Expiration = fromMillis(expiration)
	t.CreatedAt = fromMillis(createdAt)
	if filledAt.Valid {
		ts := fromMillis(filledAt.Int64)
		t.FilledAt = &ts
	}
	return &t, nil
}

const tradeColumns = `id, symbol, strategy, sell_strike, buy_strike, expiration, quantity, credit, status, created_at, filled_at`

// GetTrade retrieves a single trade by its ID.
func (s *SQLiteStore) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTradeNotFound
	}
	return t, err
}

// GetTrades returns all trades, newest first.
func (s *SQLiteStore) GetTrades(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tradeColumns+` FROM trades ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

// UpdateTradeStatus sets the status of an existing trade.
func (s *SQLiteStore) UpdateTradeStatus(ctx context.Context, id string, status domain.TradeStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE trades SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrTradeNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

const positionColumns = `id, symbol, strategy, sell_strike, buy_strike, expiration, quantity, open_credit, current_value, delta, margin_required, status, opened_at, closed_at`

// CreatePosition inserts a new position.
func (s *SQLiteStore) CreatePosition(ctx context.Context, p *domain.Position) error {
	return insertPosition(ctx, s.db, p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPosition(ctx context.Context, db execer, p *domain.Position) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		p.ID, p.Symbol, string(p.Strategy), p.SellStrike, p.BuyStrike,
		millis(p.Expiration), p.Quantity, p.OpenCredit, p.CurrentValue,
		p.Delta, p.MarginRequired, string(p.Status), millis(p.OpenedAt))
	return err
}

func scanPosition(row interface{ Scan(...any) error }) (*domain.Position, error) {
	var p domain.Position
	var strategy, status string
	var expiration, openedAt int64
	var closedAt sql.NullInt64
	err := row.Scan(&p.ID, &p.Symbol, &strategy, &p.SellStrike, &p.BuyStrike,
		&expiration, &p.Quantity, &p.OpenCredit, &p.CurrentValue, &p.Delta,
		&p.MarginRequired, &status, &openedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	p.Strategy = domain.Strategy(strategy)
	p.Status = domain.PositionStatus(status)
	p.Expiration = fromMillis(expiration)
	p.OpenedAt = fromMillis(openedAt)
	if closedAt.Valid {
		ts := fromMillis(closedAt.Int64)
		p.ClosedAt = &ts
	}
	return &p, nil
}

// GetPosition retrieves a single position by its ID.
func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPositionNotFound
	}
	return p, err
}

// GetPositions returns all positions, open first, newest first within status.
func (s *SQLiteStore) GetPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+positionColumns+` FROM positions
		ORDER BY CASE status WHEN 'OPEN' THEN 0 ELSE 1 END, opened_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// ClosePosition marks a position CLOSED, records the close time, and
// releases its margin back to the account.
func (s *SQLiteStore) ClosePosition(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var margin float64
	err = tx.QueryRowContext(ctx, `SELECT margin_required FROM positions WHERE id = ? AND status = 'OPEN'`, id).Scan(&margin)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrPositionNotFound
	}
	if err != nil {
		return err
	}

	now := millis(time.Now().UTC())
	if _, err := tx.ExecContext(ctx, `UPDATE positions SET status = 'CLOSED', closed_at = ? WHERE id = ?`, now, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE account SET margin_used = MAX(0, margin_used - ?)`, margin); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkPosition updates the mark-to-market value of an open position.
func (s *SQLiteStore) MarkPosition(ctx context.Context, id string, currentValue float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE positions SET current_value = ? WHERE id = ? AND status = 'OPEN'`, currentValue, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrPositionNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// RuleStore implementation
// ---------------------------------------------------------------------------

const ruleColumns = `id, name, version, min_credit, max_loss, min_open_interest, delta_cap, leverage_cap, active, created_at`

func scanRules(row interface{ Scan(...any) error }) (*domain.RiskRules, error) {
	var r domain.RiskRules
	var active int
	var createdAt int64
	err := row.Scan(&r.ID, &r.Name, &r.Version, &r.MinCredit, &r.MaxLossPerTrade,
		&r.MinOpenInterest, &r.DeltaCapAbs, &r.LeverageCap, &active, &createdAt)
	if err != nil {
		return nil, err
	}
	r.Active = active != 0
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}

// GetRiskRules returns all rule versions, newest first.
func (s *SQLiteStore) GetRiskRules(ctx context.Context) ([]domain.RiskRules, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM risk_rules ORDER BY version DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []domain.RiskRules
	for rows.Next() {
		r, err := scanRules(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, *r)
	}
	return all, rows.Err()
}

// ActiveRiskRules returns the single active rule version.
func (s *SQLiteStore) ActiveRiskRules(ctx context.Context) (*domain.RiskRules, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM risk_rules WHERE active = 1`)
	r, err := scanRules(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoActiveRules
	}
	return r, err
}

// CreateRiskRules appends a new active rule version. The version number is
// assigned inside the transaction; the previous active version is
// deactivated but kept, so past validations stay reproducible.
func (s *SQLiteStore) CreateRiskRules(ctx context.Context, r *domain.RiskRules) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM risk_rules`).Scan(&maxVersion); err != nil {
		return err
	}
	r.Version = int(maxVersion.Int64) + 1
	r.Active = true
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE risk_rules SET active = 0 WHERE active = 1`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO risk_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		r.ID, r.Name, r.Version, r.MinCredit, r.MaxLossPerTrade,
		r.MinOpenInterest, r.DeltaCapAbs, r.LeverageCap, millis(r.CreatedAt)); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// AuditStore implementation
// ---------------------------------------------------------------------------

func insertAudit(ctx context.Context, db execer, e *domain.AuditLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO audit_log (event_type, details, actor, status, trade_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.EventType, e.Details, e.Actor, e.Status, e.TradeID, millis(e.Timestamp))
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

// CreateAuditLog appends an entry to the compliance log.
func (s *SQLiteStore) CreateAuditLog(ctx context.Context, e *domain.AuditLogEntry) error {
	return insertAudit(ctx, s.db, e)
}

const auditColumns = `id, event_type, details, actor, status, trade_id, timestamp`

func scanAudit(rows *sql.Rows) (*domain.AuditLogEntry, error) {
	var e domain.AuditLogEntry
	var ts int64
	if err := rows.Scan(&e.ID, &e.EventType, &e.Details, &e.Actor, &e.Status, &e.TradeID, &ts); err != nil {
		return nil, err
	}
	e.Timestamp = fromMillis(ts)
	return &e, nil
}

func (s *SQLiteStore) queryAudit(ctx context.Context, query string, args ...any) ([]domain.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// AuditLogs returns all entries in insertion order.
func (s *SQLiteStore) AuditLogs(ctx context.Context) ([]domain.AuditLogEntry, error) {
	return s.queryAudit(ctx, `SELECT `+auditColumns+` FROM audit_log ORDER BY id`)
}

// AuditLogsForTrade returns the entries recorded for one trade.
func (s *SQLiteStore) AuditLogsForTrade(ctx context.Context, tradeID string) ([]domain.AuditLogEntry, error) {
	return s.queryAudit(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE trade_id = ? ORDER BY id`, tradeID)
}

// ---------------------------------------------------------------------------
// AccountStore implementation
// ---------------------------------------------------------------------------

// GetAccountInfo returns the stored account snapshot.
func (s *SQLiteStore) GetAccountInfo(ctx context.Context) (*domain.AccountSnapshot, error) {
	var a domain.AccountSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, net_liq, buying_power, margin_used, day_pnl FROM account LIMIT 1`).
		Scan(&a.AccountID, &a.NetLiq, &a.BuyingPower, &a.MarginUsed, &a.DayPnL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account not initialized")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveAccountInfo inserts or replaces the account snapshot.
func (s *SQLiteStore) SaveAccountInfo(ctx context.Context, a *domain.AccountSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO account (account_id, net_liq, buying_power, margin_used, day_pnl)
		VALUES (?, ?, ?, ?, ?)`,
		a.AccountID, a.NetLiq, a.BuyingPower, a.MarginUsed, a.DayPnL)
	return err
}

// ---------------------------------------------------------------------------
// ChainStore implementation
// ---------------------------------------------------------------------------

// GetOptionChain returns the chain for an underlying, optionally filtered
// to one expiration date.
func (s *SQLiteStore) GetOptionChain(ctx context.Context, symbol, expiration string) (*domain.OptionChain, error) {
	query := `SELECT symbol, underlying, strike, type, expiration, bid, ask, last, delta, open_interest
		FROM option_contracts WHERE underlying = ?`
	args := []any{symbol}
	if expiration != "" {
		query += ` AND expiration = ?`
		args = append(args, expiration)
	}
	query += ` ORDER BY expiration, type, strike`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chain := &domain.OptionChain{Underlying: symbol, Expiration: expiration}
	for rows.Next() {
		var c domain.OptionContract
		var typ, exp string
		if err := rows.Scan(&c.Symbol, &c.Underlying, &c.Strike, &typ, &exp,
			&c.Bid, &c.Ask, &c.Last, &c.Delta, &c.OpenInterest); err != nil {
			return nil, err
		}
		c.Type = domain.OptionType(typ)
		c.Expiration, _ = time.Parse("2006-01-02", exp)
		chain.Contracts = append(chain.Contracts, c)
	}
	return chain, rows.Err()
}

// SaveOptionChain inserts or replaces the contracts of a chain.
func (s *SQLiteStore) SaveOptionChain(ctx context.Context, chain *domain.OptionChain) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range chain.Contracts {
		c := &chain.Contracts[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO option_contracts (symbol, underlying, strike, type, expiration, bid, ask, last, delta, open_interest)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.Symbol, c.Underlying, c.Strike, string(c.Type),
			c.Expiration.Format("2006-01-02"), c.Bid, c.Ask, c.Last, c.Delta, c.OpenInterest); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// LifecycleStore implementation
// ---------------------------------------------------------------------------

// Snapshot reads the account and active rules in one read transaction.
func (s *SQLiteStore) Snapshot(ctx context.Context) (domain.AccountSnapshot, domain.RiskRules, error) {
	var acct domain.AccountSnapshot
	var rules domain.RiskRules

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return acct, rules, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		SELECT account_id, net_liq, buying_power, margin_used, day_pnl FROM account LIMIT 1`).
		Scan(&acct.AccountID, &acct.NetLiq, &acct.BuyingPower, &acct.MarginUsed, &acct.DayPnL)
	if errors.Is(err, sql.ErrNoRows) {
		return acct, rules, fmt.Errorf("account not initialized")
	}
	if err != nil {
		return acct, rules, err
	}

	row := tx.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM risk_rules WHERE active = 1`)
	r, err := scanRules(row)
	if errors.Is(err, sql.ErrNoRows) {
		return acct, rules, domain.ErrNoActiveRules
	}
	if err != nil {
		return acct, rules, err
	}
	return acct, *r, tx.Commit()
}

// CreateTradeWithAudit inserts a trade and its audit entry atomically.
func (s *SQLiteStore) CreateTradeWithAudit(ctx context.Context, t *domain.Trade, entry *domain.AuditLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, strategy, sell_strike, buy_strike, expiration, quantity, credit, status, created_at, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		t.ID, t.Symbol, string(t.Strategy), t.SellStrike, t.BuyStrike,
		millis(t.Expiration), t.Quantity, t.Credit, string(t.Status), millis(t.CreatedAt)); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// TransitionTrade moves a trade between statuses with its audit entry in
// the same transaction.
func (s *SQLiteStore) TransitionTrade(ctx context.Context, id string, from, to domain.TradeStatus, entry *domain.AuditLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := guardedStatusFlip(ctx, tx, id, from, to, nil); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// FillTrade flips a pending trade to filled, inserts the position, reserves
// its margin, and appends the audit entry, all in one transaction.
func (s *SQLiteStore) FillTrade(ctx context.Context, id string, filledAt time.Time, pos *domain.Position, entry *domain.AuditLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := millis(filledAt)
	if err := guardedStatusFlip(ctx, tx, id, domain.TradeStatusPending, domain.TradeStatusFilled, &ts); err != nil {
		return err
	}
	if err := insertPosition(ctx, tx, pos); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE account SET margin_used = margin_used + ?`, pos.MarginRequired); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// guardedStatusFlip updates a trade's status only when it currently holds
// the expected from status. Zero rows affected distinguishes a missing
// trade from a conflicting (already transitioned) one.
func guardedStatusFlip(ctx context.Context, tx *sql.Tx, id string, from, to domain.TradeStatus, filledAt *int64) error {
	var res sql.Result
	var err error
	if filledAt != nil {
		res, err = tx.ExecContext(ctx, `UPDATE trades SET status = ?, filled_at = ? WHERE id = ? AND status = ?`,
			string(to), *filledAt, id, string(from))
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE trades SET status = ? WHERE id = ? AND status = ?`,
			string(to), id, string(from))
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrTradeNotFound
		}
		return domain.ErrTerminalState
	}
	return nil
}
