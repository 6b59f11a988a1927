package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Journal 订单尝试与状态切换的流水（SQLite）。nil *Journal 的所有方法都是 no-op。
type Journal struct {
	db *sql.DB
}

// OrderRecord 一次下单尝试
type OrderRecord struct {
	ID         int64     `json:"id"`
	Market     string    `json:"market"`
	Purpose    string    `json:"purpose"` // entry / hedge / exit_* / emergency
	Leg        string    `json:"leg"`
	Side       string    `json:"side"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	FilledSize float64   `json:"filledSize"`
	AvgPrice   float64   `json:"avgPrice"`
	OrderID    string    `json:"orderId,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TransitionRecord 一次状态切换
type TransitionRecord struct {
	ID        int64     `json:"id"`
	Market    string    `json:"market"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// Open 打开（或创建）journal；path 为 ":memory:" 时使用内存库
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  market TEXT NOT NULL,
  purpose TEXT NOT NULL,
  leg TEXT NOT NULL,
  side TEXT NOT NULL,
  price REAL NOT NULL,
  size REAL NOT NULL,
  filled_size REAL NOT NULL DEFAULT 0,
  avg_price REAL NOT NULL DEFAULT 0,
  order_id TEXT,
  error TEXT,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_market ON orders(market, id);`,
		`
CREATE TABLE IF NOT EXISTS transitions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  market TEXT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  reason TEXT,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_market ON transitions(market, id);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordOrder 写一条下单流水
func (j *Journal) RecordOrder(ctx context.Context, r OrderRecord) error {
	if j == nil {
		return nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO orders (market, purpose, leg, side, price, size, filled_size, avg_price, order_id, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		r.Market, r.Purpose, r.Leg, r.Side, r.Price, r.Size, r.FilledSize, r.AvgPrice,
		r.OrderID, r.Error, r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// RecordTransition 写一条状态切换
func (j *Journal) RecordTransition(ctx context.Context, r TransitionRecord) error {
	if j == nil {
		return nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO transitions (market, from_status, to_status, reason, created_at)
VALUES (?, ?, ?, ?, ?);`,
		r.Market, r.From, r.To, r.Reason, r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// Orders 最近的下单流水（market 为空表示全部），新的在前
func (j *Journal) Orders(ctx context.Context, market string, limit int) ([]OrderRecord, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, market, purpose, leg, side, price, size, filled_size, avg_price, COALESCE(order_id, ''), COALESCE(error, ''), created_at
FROM orders
WHERE (? = '' OR market = ?)
ORDER BY id DESC
LIMIT ?;`, market, market, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var (
			r  OrderRecord
			ts string
		)
		if err := rows.Scan(&r.ID, &r.Market, &r.Purpose, &r.Leg, &r.Side, &r.Price, &r.Size,
			&r.FilledSize, &r.AvgPrice, &r.OrderID, &r.Error, &ts); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transitions 某个市场的状态切换（旧的在前）
func (j *Journal) Transitions(ctx context.Context, market string) ([]TransitionRecord, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, market, from_status, to_status, COALESCE(reason, ''), created_at
FROM transitions
WHERE market = ?
ORDER BY id ASC;`, market)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var (
			r  TransitionRecord
			ts string
		)
		if err := rows.Scan(&r.ID, &r.Market, &r.From, &r.To, &r.Reason, &ts); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
