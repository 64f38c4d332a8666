package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_trade_bot/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// sqlite handles one writer at a time
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS strategies (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			exchange_id TEXT NOT NULL,
			token TEXT NOT NULL,
			symbol TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 0,
			rules TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_strategies_key ON strategies(user_id, exchange_id, token);`,
		`CREATE INDEX IF NOT EXISTS idx_strategies_symbol ON strategies(symbol);`,
		`CREATE TABLE IF NOT EXISTS positions (
			user_id TEXT NOT NULL,
			exchange_id TEXT NOT NULL,
			token TEXT NOT NULL,
			amount REAL NOT NULL,
			entry_price REAL NOT NULL,
			total_invested REAL NOT NULL,
			purchases TEXT NOT NULL DEFAULT '[]',
			sales TEXT NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, exchange_id, token)
		);`,
		`CREATE TABLE IF NOT EXISTS execution_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			exchange_id TEXT NOT NULL,
			token TEXT NOT NULL,
			symbol TEXT NOT NULL,
			executor TEXT NOT NULL,
			action TEXT NOT NULL,
			reason TEXT NOT NULL,
			outcome TEXT NOT NULL,
			order_id TEXT,
			amount REAL NOT NULL DEFAULT 0,
			price REAL NOT NULL DEFAULT 0,
			error TEXT,
			snapshot TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_execution_logs_symbol ON execution_logs(symbol, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS realized_pnl (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			exchange_id TEXT NOT NULL,
			token TEXT NOT NULL,
			amount REAL NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_realized_pnl_key ON realized_pnl(user_id, exchange_id, token, created_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StrategyRepository implementation

func (s *SQLiteStore) SaveStrategy(ctx context.Context, rs *domain.RuleSet) error {
	rules, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	query := `INSERT INTO strategies (id, user_id, exchange_id, token, symbol, active, rules, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rs.ID, rs.UserID, rs.ExchangeID, rs.Token, rs.Symbol, rs.Active, string(rules), rs.CreatedAt, rs.UpdatedAt)
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", domain.ErrStrategyExists, rs.Symbol)
	}
	return err
}

func (s *SQLiteStore) ReplaceStrategy(ctx context.Context, rs *domain.RuleSet) error {
	rules, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	query := `INSERT INTO strategies (id, user_id, exchange_id, token, symbol, active, rules, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(user_id, exchange_id, token) DO UPDATE SET
			  symbol=excluded.symbol,
			  active=excluded.active,
			  rules=excluded.rules,
			  updated_at=excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		rs.ID, rs.UserID, rs.ExchangeID, rs.Token, rs.Symbol, rs.Active, string(rules), rs.CreatedAt, rs.UpdatedAt)
	return err
}

func scanStrategy(row interface{ Scan(...interface{}) error }) (*domain.RuleSet, error) {
	var rules string
	if err := row.Scan(&rules); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrStrategyNotFound
		}
		return nil, err
	}
	var rs domain.RuleSet
	if err := json.Unmarshal([]byte(rules), &rs); err != nil {
		return nil, fmt.Errorf("decode stored strategy: %w", err)
	}
	return &rs, nil
}

func (s *SQLiteStore) GetStrategy(ctx context.Context, userID, exchangeID, token string) (*domain.RuleSet, error) {
	query := `SELECT rules FROM strategies WHERE user_id = ? AND exchange_id = ? AND token = ?`
	return scanStrategy(s.db.QueryRowContext(ctx, query, userID, exchangeID, token))
}

func (s *SQLiteStore) GetStrategyBySymbol(ctx context.Context, symbol string) (*domain.RuleSet, error) {
	query := `SELECT rules FROM strategies WHERE symbol = ? ORDER BY updated_at DESC LIMIT 1`
	return scanStrategy(s.db.QueryRowContext(ctx, query, symbol))
}

func (s *SQLiteStore) listStrategies(ctx context.Context, query string) ([]*domain.RuleSet, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RuleSet
	for rows.Next() {
		var rules string
		if err := rows.Scan(&rules); err != nil {
			return nil, err
		}
		var rs domain.RuleSet
		if err := json.Unmarshal([]byte(rules), &rs); err != nil {
			return nil, fmt.Errorf("decode stored strategy: %w", err)
		}
		out = append(out, &rs)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]*domain.RuleSet, error) {
	return s.listStrategies(ctx, `SELECT rules FROM strategies ORDER BY symbol`)
}

func (s *SQLiteStore) ListActiveStrategies(ctx context.Context) ([]*domain.RuleSet, error) {
	return s.listStrategies(ctx, `SELECT rules FROM strategies WHERE active = 1 ORDER BY symbol`)
}

func (s *SQLiteStore) SetStrategyActive(ctx context.Context, id string, active bool) error {
	// active is kept both in the column and inside the rules JSON
	query := `UPDATE strategies
			  SET active = ?, rules = json_set(rules, '$.active', json(?)), updated_at = ?
			  WHERE id = ?`
	activeJSON := "false"
	if active {
		activeJSON = "true"
	}
	res, err := s.db.ExecContext(ctx, query, active, activeJSON, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrStrategyNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteStrategy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrStrategyNotFound
	}
	return nil
}

// PositionRepository implementation

func (s *SQLiteStore) SavePosition(ctx context.Context, p *domain.Position) error {
	purchases, err := json.Marshal(p.Purchases)
	if err != nil {
		return err
	}
	sales, err := json.Marshal(p.Sales)
	if err != nil {
		return err
	}
	query := `INSERT INTO positions (user_id, exchange_id, token, amount, entry_price, total_invested, purchases, sales, is_active, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(user_id, exchange_id, token) DO UPDATE SET
			  amount=excluded.amount,
			  entry_price=excluded.entry_price,
			  total_invested=excluded.total_invested,
			  purchases=excluded.purchases,
			  sales=excluded.sales,
			  is_active=excluded.is_active,
			  updated_at=excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		p.UserID, p.ExchangeID, p.Token, p.Amount, p.EntryPrice, p.TotalInvested,
		string(purchases), string(sales), p.IsActive, p.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetPosition(ctx context.Context, userID, exchangeID, token string) (*domain.Position, error) {
	query := `SELECT user_id, exchange_id, token, amount, entry_price, total_invested, purchases, sales, is_active, updated_at
			  FROM positions WHERE user_id = ? AND exchange_id = ? AND token = ?`
	row := s.db.QueryRowContext(ctx, query, userID, exchangeID, token)

	var p domain.Position
	var purchases, sales string
	err := row.Scan(&p.UserID, &p.ExchangeID, &p.Token, &p.Amount, &p.EntryPrice, &p.TotalInvested,
		&purchases, &sales, &p.IsActive, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(purchases), &p.Purchases); err != nil {
		return nil, fmt.Errorf("decode purchases: %w", err)
	}
	if err := json.Unmarshal([]byte(sales), &p.Sales); err != nil {
		return nil, fmt.Errorf("decode sales: %w", err)
	}
	return &p, nil
}

// ExecutionLogRepository implementation

func (s *SQLiteStore) AppendExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	snapshot, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return err
	}
	query := `INSERT INTO execution_logs (id, user_id, exchange_id, token, symbol, executor, action, reason, outcome, order_id, amount, price, error, snapshot, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.ExchangeID, rec.Token, rec.Symbol, string(rec.Executor),
		string(rec.Action), rec.Reason, rec.Outcome, rec.OrderID, rec.Amount, rec.Price,
		rec.Error, string(snapshot), rec.CreatedAt)
	return err
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, symbol string, limit int) ([]*domain.ExecutionRecord, error) {
	query := `SELECT id, user_id, exchange_id, token, symbol, executor, action, reason, outcome, order_id, amount, price, error, snapshot, created_at
			  FROM execution_logs`
	args := []interface{}{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		var executor, action, snapshot string
		var orderID, errText sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ExchangeID, &rec.Token, &rec.Symbol,
			&executor, &action, &rec.Reason, &rec.Outcome, &orderID, &rec.Amount, &rec.Price,
			&errText, &snapshot, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Executor = domain.Executor(executor)
		rec.Action = domain.Action(action)
		rec.OrderID = orderID.String
		rec.Error = errText.String
		if err := json.Unmarshal([]byte(snapshot), &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// PnLRepository implementation

func (s *SQLiteStore) SaveRealizedPnL(ctx context.Context, entry *domain.RealizedPnL) error {
	query := `INSERT INTO realized_pnl (user_id, exchange_id, token, amount, created_at)
			  VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		entry.UserID, entry.ExchangeID, entry.Token, entry.Amount, entry.CreatedAt)
	return err
}

func (s *SQLiteStore) SumRealizedPnL(ctx context.Context, userID, exchangeID, token string, since time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM realized_pnl
			  WHERE user_id = ? AND exchange_id = ? AND token = ? AND created_at >= ?`
	var sum float64
	err := s.db.QueryRowContext(ctx, query, userID, exchangeID, token, since).Scan(&sum)
	return sum, err
}
