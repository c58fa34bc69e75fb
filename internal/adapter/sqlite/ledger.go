// Package sqlite persists workflow run history in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/couchcryptid/weather-etl/internal/pipeline"
)

const schema = `CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	status      TEXT NOT NULL,
	failed_task TEXT NOT NULL DEFAULT '',
	city        TEXT NOT NULL DEFAULT '',
	object_key  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);`

// Ledger records run results. It implements pipeline.RunRecorder.
type Ledger struct {
	db *sql.DB
}

var _ pipeline.RunRecorder = (*Ledger)(nil)

// Open opens or creates the ledger database at path and applies the schema.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply run ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record inserts one run result.
func (l *Ledger) Record(ctx context.Context, res pipeline.RunResult) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, finished_at, status, failed_task, city, object_key, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		formatTime(res.StartedAt), formatTime(res.FinishedAt),
		res.Status, res.FailedTask, res.City, res.ObjectKey, res.Error,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]pipeline.RunResult, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, failed_task, city, object_key, error
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := make([]pipeline.RunResult, 0, limit)
	for rows.Next() {
		var (
			res               pipeline.RunResult
			started, finished string
		)
		if err := rows.Scan(&res.ID, &started, &finished, &res.Status, &res.FailedTask, &res.City, &res.ObjectKey, &res.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if res.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at of run %d: %w", res.ID, err)
		}
		if res.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at of run %d: %w", res.ID, err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// CheckReadiness pings the database so /readyz fails when the ledger is unusable.
func (l *Ledger) CheckReadiness(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("run ledger: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
