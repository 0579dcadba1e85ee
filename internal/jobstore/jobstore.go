// Package jobstore persists the set of tracked jobs in SQLite so a later run
// can resume polling jobs submitted earlier.
package jobstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/tonimelisma/netanalyzer-go/internal/api"
	"github.com/tonimelisma/netanalyzer-go/internal/poller"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlInsertJob = `INSERT INTO tracked_jobs
		(id, name, status, result, error, created_at, updated_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	sqlUpdateJob = `UPDATE tracked_jobs SET
		status = ?, result = ?, error = ?, created_at = ?, updated_at = ?, synced_at = ?
		WHERE id = ?`

	sqlListJobs = `SELECT id, name, status, result, error, created_at, updated_at
		FROM tracked_jobs ORDER BY seq`

	sqlDeleteJob = `DELETE FROM tracked_jobs WHERE id = ?`
)

// Store is the durable tracked-job set. Insertion order is preserved.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

// Open opens (creating if needed) the job database at dbPath and applies
// pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("jobstore: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("job store opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFn: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("jobstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("jobstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("jobstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Track adds jobs that are not stored yet, keeping existing rows.
func (s *Store) Track(ctx context.Context, jobs []poller.Job) error {
	return s.inTx(ctx, "tracking jobs", func(tx *sql.Tx) error {
		now := s.nowFn().UnixNano()

		for i := range jobs {
			j := &jobs[i]

			_, err := tx.ExecContext(ctx, sqlInsertJob,
				j.ID, j.Name, string(j.Status), resultText(j.Result), j.Error,
				unixNano(j.CreatedAt), unixNano(j.UpdatedAt), now,
			)
			if err != nil {
				return fmt.Errorf("inserting job %s: %w", j.ID, err)
			}
		}

		return nil
	})
}

// Save updates the stored records of jobs that are still tracked. Jobs that
// were removed meanwhile are not re-added. Save satisfies poller.Mirror.
func (s *Store) Save(ctx context.Context, jobs []poller.Job) error {
	return s.inTx(ctx, "saving jobs", func(tx *sql.Tx) error {
		now := s.nowFn().UnixNano()

		for i := range jobs {
			j := &jobs[i]

			_, err := tx.ExecContext(ctx, sqlUpdateJob,
				string(j.Status), resultText(j.Result), j.Error,
				unixNano(j.CreatedAt), unixNano(j.UpdatedAt), now, j.ID,
			)
			if err != nil {
				return fmt.Errorf("updating job %s: %w", j.ID, err)
			}
		}

		return nil
	})
}

// Remove deletes the given job ids. Unknown ids are ignored. It returns the
// number of rows removed.
func (s *Store) Remove(ctx context.Context, ids []string) (int, error) {
	removed := 0

	err := s.inTx(ctx, "removing jobs", func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, sqlDeleteJob, id)
			if err != nil {
				return fmt.Errorf("deleting job %s: %w", id, err)
			}

			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("deleting job %s: %w", id, err)
			}

			removed += int(n)
		}

		return nil
	})

	return removed, err
}

// List returns every stored job in the order it was first tracked.
func (s *Store) List(ctx context.Context) ([]poller.Job, error) {
	rows, err := s.db.QueryContext(ctx, sqlListJobs)
	if err != nil {
		return nil, fmt.Errorf("jobstore: listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []poller.Job

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobstore: iterating job rows: %w", err)
	}

	s.logger.Debug("tracked jobs loaded", slog.Int("jobs", len(jobs)))

	return jobs, nil
}

func scanJob(rows *sql.Rows) (poller.Job, error) {
	var (
		j         poller.Job
		status    string
		result    sql.NullString
		createdAt int64
		updatedAt int64
	)

	if err := rows.Scan(&j.ID, &j.Name, &status, &result, &j.Error, &createdAt, &updatedAt); err != nil {
		return poller.Job{}, fmt.Errorf("jobstore: scanning job row: %w", err)
	}

	parsed, err := api.ParseStatus(status)
	if err != nil {
		return poller.Job{}, fmt.Errorf("jobstore: job %s: %w", j.ID, err)
	}

	j.Status = parsed
	j.CreatedAt = fromUnixNano(createdAt)
	j.UpdatedAt = fromUnixNano(updatedAt)

	if result.Valid {
		res, err := api.DecodeResult(json.RawMessage(result.String))
		if err != nil {
			return poller.Job{}, fmt.Errorf("jobstore: job %s result: %w", j.ID, err)
		}

		j.Result = res
	}

	return j, nil
}

func (s *Store) inTx(ctx context.Context, what string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("jobstore: %s: beginning transaction: %w", what, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("jobstore: %s: %w", what, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("jobstore: %s: committing: %w", what, err)
	}

	return nil
}

func resultText(r *api.JobResult) sql.NullString {
	if r == nil || len(r.Raw) == 0 {
		return sql.NullString{}
	}

	return sql.NullString{String: string(r.Raw), Valid: true}
}

// unixNano stores the zero time as 0.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n).UTC()
}
