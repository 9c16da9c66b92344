// Package history is the optional, append-only run-history store
// (SPEC_FULL.md §8): one row per completed run, persisted to Postgres
// when STRAW_HISTORY_DSN is set. It is strictly an audit trail of
// finished runs — the Non-goal "durable result storage" in spec.md
// excludes making this the system of record for in-flight results, and
// nothing on the hot control-channel path depends on it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"straw/internal/straw/analysable"
)

// Store is a thin wrapper over *sql.DB for the run_history table.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and verifies connectivity. It does not run
// migrations; call Migrate separately so a caller can choose when
// schema changes apply.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("straw: open history db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("straw: ping history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Migrate applies every migration under migrationsPath.
func (s *Store) Migrate(migrationsPath string) error {
	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("straw: history migration driver: %w", err)
	}
	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return fmt.Errorf("straw: history migration path: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+absPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("straw: history migration init: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("straw: history migration up: %w", err)
	}
	return nil
}

// Record inserts one completed run's AnalyseResult, keyed by result.ID; a
// second Record with an id already present is ignored.
func (s *Store) Record(ctx context.Context, result *analysable.Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_history (id, started_at, stopped_at, total_request, success_request, qps)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`,
		result.ID,
		time.UnixMilli(result.StartTime),
		time.UnixMilli(result.StopTime),
		result.TotalRequest,
		result.SuccessRequest,
		result.QPS,
	)
	if err != nil {
		return fmt.Errorf("straw: record run history: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
