package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
)

// Journal persists trades in sqlite. Writes are serialised across processes
// with a file lock.
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenJournal(path, lockPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS trades (
			trade_id TEXT PRIMARY KEY,
			intent TEXT NOT NULL,
			status TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			token TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_trades_status_updated ON trades(status, updated_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_trades_token ON trades(token);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath)}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Save(trade Trade) error {
	if j == nil {
		return nil
	}
	if strings.TrimSpace(trade.TradeID) == "" {
		return fmt.Errorf("save trade: missing trade id")
	}
	locked, err := j.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()

	payload, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	createdUnix, _ := parseRFC3339Unix(trade.CreatedAt)
	updatedUnix, _ := parseRFC3339Unix(trade.UpdatedAt)
	if createdUnix == 0 {
		createdUnix = time.Now().UTC().Unix()
	}
	if updatedUnix == 0 {
		updatedUnix = time.Now().UTC().Unix()
	}

	_, err = j.db.Exec(`
		INSERT INTO trades (trade_id, intent, status, chain_id, token, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id) DO UPDATE SET
			status=excluded.status,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, trade.TradeID, string(trade.Intent), string(trade.Status), trade.ChainID, strings.ToLower(trade.Token), createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	return nil
}

func (j *Journal) Get(tradeID string) (Trade, error) {
	var payload []byte
	err := j.db.QueryRow("SELECT payload FROM trades WHERE trade_id = ?", tradeID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trade{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("trade not found: %s", tradeID))
		}
		return Trade{}, fmt.Errorf("read trade: %w", err)
	}
	var trade Trade
	if err := json.Unmarshal(payload, &trade); err != nil {
		return Trade{}, fmt.Errorf("decode trade payload: %w", err)
	}
	return trade, nil
}

type JournalFilter struct {
	Status string
	Token  string
	Limit  int
}

// List returns trades newest first.
func (j *Journal) List(filter JournalFilter) ([]Trade, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	query := "SELECT payload FROM trades"
	var (
		clauses []string
		args    []any
	)
	if s := strings.TrimSpace(filter.Status); s != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, s)
	}
	if tok := strings.TrimSpace(filter.Token); tok != "" {
		clauses = append(clauses, "token = ?")
		args = append(args, strings.ToLower(tok))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC, created_at DESC LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	trades := make([]Trade, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		var trade Trade
		if err := json.Unmarshal(payload, &trade); err != nil {
			return nil, fmt.Errorf("decode trade row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}

func parseRFC3339Unix(v string) (int64, bool) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, false
	}
	return t.UTC().Unix(), true
}
