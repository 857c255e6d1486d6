// Package history persists the MemoryHistory audit trail spec.md §3
// describes: one immutable row per create/update/supersede/archive/
// pause/delete/access against a memory. Grounded on the teacher's
// SQLiteAuditLogger (internal/integration/audit.go): same
// mattn/go-sqlite3-backed append-only table and query-by-filter shape,
// generalized from "API call audit" to "memory lifecycle history".
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Action mirrors models.HistoryAction but is kept independent so this
// package has no import-time dependency on the domain model package.
type Action string

const (
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionSupersede Action = "supersede"
	ActionArchive   Action = "archive"
	ActionPause     Action = "pause"
	ActionDelete    Action = "delete"
	ActionAccess    Action = "access"
)

// Entry is one row of the history log.
type Entry struct {
	ID            string
	MemoryID      string
	UserID        string
	Action        Action
	PreviousValue string
	NewValue      string
	QueryUsed     string
	CreatedAt     time.Time
}

// Filter restricts a Query call; zero-value fields are unconstrained.
type Filter struct {
	MemoryID string
	UserID   string
	Action   Action
	Since    time.Time
	Limit    int
}

// Log is the history store.
type Log struct {
	db *sql.DB
}

func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS memory_history (
		id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		previous_value TEXT,
		new_value TEXT,
		query_used TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_memory ON memory_history(memory_id);
	CREATE INDEX IF NOT EXISTS idx_history_user ON memory_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_history_created ON memory_history(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: init schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Append records one history row. Callers write this after the
// corresponding graph-store mutation commits, never before — a history
// row describes a change that already happened (spec.md §5's ordering
// requirement for audit-after-mutation).
func (l *Log) Append(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO memory_history (id, memory_id, user_id, action, previous_value, new_value, query_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.MemoryID, e.UserID, string(e.Action), e.PreviousValue, e.NewValue, e.QueryUsed, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

func (l *Log) Query(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT id, memory_id, user_id, action, previous_value, new_value, query_used, created_at FROM memory_history WHERE 1=1`
	var args []interface{}

	if f.MemoryID != "" {
		query += " AND memory_id = ?"
		args = append(args, f.MemoryID)
	}
	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, string(f.Action))
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, f.Since)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		if err := rows.Scan(&e.ID, &e.MemoryID, &e.UserID, &action, &e.PreviousValue, &e.NewValue, &e.QueryUsed, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Action = Action(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarizes row counts per action, mirroring the teacher's
// SQLiteAuditLogger.GetStats.
type Stats struct {
	TotalEntries int64
	ByAction     map[Action]int64
}

func (l *Log) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{ByAction: make(map[Action]int64)}

	rows, err := l.db.QueryContext(ctx, `SELECT action, COUNT(*) FROM memory_history GROUP BY action`)
	if err != nil {
		return stats, fmt.Errorf("history: stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return stats, fmt.Errorf("history: stats scan: %w", err)
		}
		stats.ByAction[Action(action)] = count
		stats.TotalEntries += count
	}
	return stats, rows.Err()
}

func (l *Log) Close() error { return l.db.Close() }
