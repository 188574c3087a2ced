package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/telemetry/tracing"
	"github.com/2beens/homecoach/pkg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

var _ Backend = (*PostgresBackend)(nil)

// PostgresBackend keeps one row per (profile, day) in homecoach.day_outcome.
type PostgresBackend struct {
	db      *pgxpool.Pool
	profile string
}

func NewPostgresBackend(db *pgxpool.Pool, profile string) *PostgresBackend {
	return &PostgresBackend{
		db:      db,
		profile: profile,
	}
}

func (b *PostgresBackend) Load(ctx context.Context) (_ Store, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.backend.psql.load")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("profile", b.profile))

	rows, err := b.db.Query(ctx, `
		SELECT to_char(day, 'YYYY-MM-DD'), completed, audio_minutes, completion_percentage, updated_at
		FROM homecoach.day_outcome
		WHERE profile = $1
	`, b.profile)
	if err != nil {
		if pkg.IsUndefinedTableError(err) {
			return nil, fmt.Errorf("%w: day_outcome table missing, schema not migrated: %w", ErrStorageRead, err)
		}
		return nil, fmt.Errorf("%w: query: %w", ErrStorageRead, err)
	}
	defer rows.Close()

	store := NewStore()
	for rows.Next() {
		var (
			o   DayOutcome
			day string
		)
		if err := rows.Scan(&day, &o.Completed, &o.AudioMinutes, &o.CompletionPercentage, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrStorageRead, err)
		}
		if o.Date, err = calendar.ParseDateKey(day); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageRead, err)
		}
		store[o.Date] = o
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", ErrStorageRead, err)
	}

	return store, nil
}

// Save replaces all rows of the profile inside a single transaction.
func (b *PostgresBackend) Save(ctx context.Context, store Store) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.backend.psql.save")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("profile", b.profile),
		attribute.Int("days", len(store)),
	)

	tx, err := b.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				err = fmt.Errorf("failed to rollback transaction: %w: %w", rollbackErr, err)
			}
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM homecoach.day_outcome WHERE profile = $1`, b.profile); err != nil {
		return fmt.Errorf("clear profile days: %w", err)
	}

	outcomes := store.Outcomes()
	rows := make([][]any, 0, len(outcomes))
	for _, o := range outcomes {
		day, err := time.ParseInLocation("2006-01-02", string(o.Date), time.UTC)
		if err != nil {
			return fmt.Errorf("day %s: %w", o.Date, err)
		}
		rows = append(rows, []any{
			b.profile, day, o.Completed, o.AudioMinutes, o.CompletionPercentage, o.Timestamp,
		})
	}

	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"homecoach", "day_outcome"},
		[]string{"profile", "day", "completed", "audio_minutes", "completion_percentage", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy day outcomes: %w", err)
	}
	return nil
}
