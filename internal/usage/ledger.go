package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Ledger persists usage records to SQLite so accounting survives restarts.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (and initializes) the ledger database at path. An empty
// path opens an in-memory database.
func OpenLedger(path string) (*Ledger, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent across
	// the pool and serializes writers.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db}
	if err := l.init(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// NewLedgerFromDB wraps an existing database handle. The schema must
// already exist; used by tests with sqlmock.
func NewLedgerFromDB(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) init() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_records (
			id TEXT PRIMARY KEY,
			agent_id TEXT,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			cache_write_tokens INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create usage_records table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_usage_agent ON usage_records(agent_id)",
		"CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_records(created_at)",
	}
	for _, idx := range indexes {
		if _, err := l.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Insert appends a record to the ledger.
func (l *Ledger) Insert(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, agent_id, provider, model, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		nullString(r.AgentID),
		r.Provider,
		r.Model,
		r.Usage.InputTokens,
		r.Usage.OutputTokens,
		r.Usage.CacheReadTokens,
		r.Usage.CacheWriteTokens,
		r.Cost,
		r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// LedgerSummary is an aggregate over a set of ledger rows.
type LedgerSummary struct {
	Calls            int64   `json:"calls"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	Cost             float64 `json:"cost"`
}

// Summary aggregates all recorded usage. When agentID is non-empty only
// that agent's rows are counted.
func (l *Ledger) Summary(ctx context.Context, agentID string) (*LedgerSummary, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cache_read_tokens), 0),
		       COALESCE(SUM(cache_write_tokens), 0),
		       COALESCE(SUM(cost), 0)
		FROM usage_records
	`
	args := []any{}
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}

	row := l.db.QueryRowContext(ctx, query, args...)
	s := &LedgerSummary{}
	if err := row.Scan(&s.Calls, &s.InputTokens, &s.OutputTokens, &s.CacheReadTokens, &s.CacheWriteTokens, &s.Cost); err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return s, nil
}

// Prune deletes rows older than the cutoff and returns how many were
// removed.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM usage_records WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
