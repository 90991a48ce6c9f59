package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store persists the whole order collection. Update runs fn against the
// current orders and saves what it returns as one atomic step; a nil result
// leaves the store unchanged.
type Store interface {
	List(ctx context.Context) ([]Order, error)
	Update(ctx context.Context, fn func([]Order) ([]Order, error)) error
}

type MemoryStore struct {
	mu     sync.Mutex
	orders []Order
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) List(context.Context) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Order(nil), m.orders...), nil
}

func (m *MemoryStore) Update(_ context.Context, fn func([]Order) ([]Order, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(append([]Order(nil), m.orders...))
	if err != nil || next == nil {
		return err
	}
	m.orders = append([]Order(nil), next...)
	return nil
}

// SQLiteStore keeps orders in sqlite, one row per order. Update holds the
// file lock and one write transaction across its read and write, so a
// watcher and one-off CLI commands can share the database.
type SQLiteStore struct {
	db   *sql.DB
	lock *flock.Flock
	// mu serialises updates within the process; the file lock alone does
	// not, since one Flock reports itself held to every goroutine.
	mu sync.Mutex
}

func OpenSQLiteStore(path, lockPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create order store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create order lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open order sqlite: %w", err)
	}
	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			chain_id INTEGER NOT NULL,
			token TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_orders_chain_token ON orders(chain_id, token);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init order schema: %w", err)
		}
	}
	return &SQLiteStore{db: db, lock: flock.New(lockPath)}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) List(ctx context.Context) ([]Order, error) {
	return listOrders(ctx, s.db)
}

func listOrders(ctx context.Context, q queryer) ([]Order, error) {
	rows, err := q.QueryContext(ctx, "SELECT payload FROM orders ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		var order Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return nil, fmt.Errorf("decode order row: %w", err)
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	sortOrders(out)
	return out, nil
}

func (s *SQLiteStore) Update(ctx context.Context, fn func([]Order) ([]Order, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock order store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock order store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin order write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := listOrders(ctx, tx)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM orders"); err != nil {
		return fmt.Errorf("clear orders: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO orders (id, chain_id, token, status, created_at, payload) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare order insert: %w", err)
	}
	defer stmt.Close()
	for _, order := range next {
		payload, err := json.Marshal(order)
		if err != nil {
			return fmt.Errorf("marshal order %s: %w", order.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, order.ID, order.ChainID, strings.ToLower(order.Token.Hex()), string(order.Status), order.CreatedAt.UnixNano(), payload); err != nil {
			return fmt.Errorf("save order %s: %w", order.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit orders: %w", err)
	}
	return nil
}

func sortOrders(orders []Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}
