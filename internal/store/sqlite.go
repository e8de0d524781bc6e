// Package store persists trades and the bankroll so settlement survives restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"polyarb-go/internal/paper"
	"polyarb-go/internal/signal"
)

// SQLite stores trades and a single bankroll row.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the database and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id            TEXT PRIMARY KEY,
			window_start  INTEGER NOT NULL,
			direction     TEXT NOT NULL,
			price         TEXT NOT NULL,
			shares        TEXT NOT NULL,
			stake         TEXT NOT NULL,
			fair_value    TEXT,
			edge_cents    TEXT,
			delta_usd     TEXT,
			delta_percent TEXT,
			elapsed_ms    INTEGER,
			status        TEXT NOT NULL,
			payout        TEXT,
			pnl           TEXT,
			created_at    INTEGER NOT NULL,
			settled_at    INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_window ON trades(window_start)`,

		`CREATE TABLE IF NOT EXISTS bankroll (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			available  TEXT NOT NULL,
			pnl        TEXT NOT NULL,
			wins       INTEGER NOT NULL,
			losses     INTEGER NOT NULL,
			paused     INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveTrade upserts a trade by ID.
func (s *SQLite) SaveTrade(ctx context.Context, tr paper.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTrade(ctx, s.db, tr)
}

// SaveSettlement writes a settled trade and the bankroll it credited in one
// transaction, so a restart never sees one without the other.
func (s *SQLite) SaveSettlement(ctx context.Context, tr paper.Trade, state signal.BankrollState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlement %s: %w", tr.ID, err)
	}
	if err := saveTrade(ctx, tx, tr); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := saveBankroll(ctx, tx, state); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settlement %s: %w", tr.ID, err)
	}
	return nil
}

func saveTrade(ctx context.Context, ex execer, tr paper.Trade) error {
	var settled sql.NullInt64
	if !tr.SettledAt.IsZero() {
		settled = sql.NullInt64{Int64: tr.SettledAt.UnixMilli(), Valid: true}
	}
	_, err := ex.ExecContext(ctx, `INSERT INTO trades (
			id, window_start, direction, price, shares, stake, fair_value, edge_cents,
			delta_usd, delta_percent, elapsed_ms, status, payout, pnl, created_at, settled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payout = excluded.payout,
			pnl = excluded.pnl,
			settled_at = excluded.settled_at`,
		tr.ID, tr.WindowStart.Unix(), string(tr.Direction), tr.Price.String(), tr.Shares.String(),
		tr.Stake.String(), tr.FairValue.String(), tr.EdgeCents.String(), tr.DeltaUSD.String(),
		tr.DeltaPercent.String(), tr.Elapsed.Milliseconds(), string(tr.Status), tr.Payout.String(),
		tr.PnL.String(), tr.CreatedAt.UnixMilli(), settled,
	)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", tr.ID, err)
	}
	return nil
}

// PendingTrades returns unresolved trades, oldest window first.
func (s *SQLite) PendingTrades(ctx context.Context) ([]paper.Trade, error) {
	return s.queryTrades(ctx, `WHERE status = ? ORDER BY window_start, created_at`, string(paper.StatusPending))
}

// RecentTrades returns up to limit trades, newest first.
func (s *SQLite) RecentTrades(ctx context.Context, limit int) ([]paper.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryTrades(ctx, `ORDER BY created_at DESC LIMIT ?`, limit)
}

// TradedWindows returns window starts that already carry a trade at or after since.
func (s *SQLite) TradedWindows(ctx context.Context, since time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT window_start FROM trades WHERE window_start >= ?`, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, time.Unix(ts, 0).UTC())
	}
	return out, rows.Err()
}

func (s *SQLite) queryTrades(ctx context.Context, clause string, args ...any) ([]paper.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT
			id, window_start, direction, price, shares, stake, fair_value, edge_cents,
			delta_usd, delta_percent, elapsed_ms, status, payout, pnl, created_at, settled_at
		FROM trades `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []paper.Trade
	for rows.Next() {
		var (
			tr                                       paper.Trade
			window, elapsedMs, created               int64
			direction, status                        string
			price, shares, stake, fair, edge, du, dp string
			payout, pnl                              sql.NullString
			settled                                  sql.NullInt64
		)
		if err := rows.Scan(&tr.ID, &window, &direction, &price, &shares, &stake, &fair, &edge,
			&du, &dp, &elapsedMs, &status, &payout, &pnl, &created, &settled); err != nil {
			return nil, err
		}
		tr.WindowStart = time.Unix(window, 0).UTC()
		tr.Direction = signal.Direction(direction)
		tr.Status = paper.TradeStatus(status)
		tr.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		tr.CreatedAt = time.UnixMilli(created).UTC()
		if settled.Valid {
			tr.SettledAt = time.UnixMilli(settled.Int64).UTC()
		}
		tr.Price = parseDecimal(price)
		tr.Shares = parseDecimal(shares)
		tr.Stake = parseDecimal(stake)
		tr.FairValue = parseDecimal(fair)
		tr.EdgeCents = parseDecimal(edge)
		tr.DeltaUSD = parseDecimal(du)
		tr.DeltaPercent = parseDecimal(dp)
		tr.Payout = parseDecimal(payout.String)
		tr.PnL = parseDecimal(pnl.String)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// SaveBankroll overwrites the persisted bankroll row.
func (s *SQLite) SaveBankroll(ctx context.Context, state signal.BankrollState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBankroll(ctx, s.db, state)
}

func saveBankroll(ctx context.Context, ex execer, state signal.BankrollState) error {
	paused := 0
	if state.Paused {
		paused = 1
	}
	_, err := ex.ExecContext(ctx, `INSERT INTO bankroll (id, available, pnl, wins, losses, paused, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			available = excluded.available, pnl = excluded.pnl, wins = excluded.wins,
			losses = excluded.losses, paused = excluded.paused, updated_at = excluded.updated_at`,
		state.Available.String(), state.CumulativePnL.String(), state.Wins, state.Losses, paused, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save bankroll: %w", err)
	}
	return nil
}

// LoadBankroll returns the persisted bankroll; ok is false when none was saved.
func (s *SQLite) LoadBankroll(ctx context.Context) (signal.BankrollState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		available, pnl string
		state          signal.BankrollState
		paused         int
	)
	err := s.db.QueryRowContext(ctx, `SELECT available, pnl, wins, losses, paused FROM bankroll WHERE id = 1`).
		Scan(&available, &pnl, &state.Wins, &state.Losses, &paused)
	if errors.Is(err, sql.ErrNoRows) {
		return signal.BankrollState{}, false, nil
	}
	if err != nil {
		return signal.BankrollState{}, false, fmt.Errorf("load bankroll: %w", err)
	}
	state.Available = parseDecimal(available)
	state.CumulativePnL = parseDecimal(pnl)
	state.Paused = paused == 1
	return state, true, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func parseDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}
