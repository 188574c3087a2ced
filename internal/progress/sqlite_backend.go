package progress

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/telemetry/tracing"

	_ "modernc.org/sqlite"
)

var _ Backend = (*SQLiteBackend)(nil)

// SQLiteBackend stores one row per day in a local sqlite database.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS day_outcome (
			day                   TEXT PRIMARY KEY,
			completed             INTEGER NOT NULL DEFAULT 0,
			audio_minutes         INTEGER NOT NULL DEFAULT 0,
			completion_percentage INTEGER NOT NULL DEFAULT 0,
			updated_at            TEXT NOT NULL
		);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Load(ctx context.Context) (_ Store, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.backend.sqlite.load")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := b.db.QueryContext(ctx, `
		SELECT day, completed, audio_minutes, completion_percentage, updated_at
		FROM day_outcome
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrStorageRead, err)
	}
	defer rows.Close()

	store := NewStore()
	for rows.Next() {
		var (
			day       string
			completed int
			updatedAt string
			outcome   DayOutcome
		)
		if err := rows.Scan(&day, &completed, &outcome.AudioMinutes, &outcome.CompletionPercentage, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrStorageRead, err)
		}
		date, err := calendar.ParseDateKey(day)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageRead, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: day %s timestamp: %w", ErrStorageRead, day, err)
		}
		outcome.Date = date
		outcome.Completed = completed != 0
		outcome.Timestamp = ts
		store[date] = outcome
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", ErrStorageRead, err)
	}

	return store, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, store Store) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.backend.sqlite.save")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM day_outcome`); err != nil {
		return fmt.Errorf("clear day outcomes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO day_outcome (day, completed, audio_minutes, completion_percentage, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range store.Outcomes() {
		completed := 0
		if o.Completed {
			completed = 1
		}
		if _, err = stmt.ExecContext(ctx,
			string(o.Date), completed, o.AudioMinutes, o.CompletionPercentage,
			o.Timestamp.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert day %s: %w", o.Date, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
