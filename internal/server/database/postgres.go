package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations contains all database migrations in order.
// Each migration has a version key and SQL to execute.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_batch_runs",
		SQL: `
			CREATE TABLE IF NOT EXISTS batch_runs (
				id           VARCHAR(36)  PRIMARY KEY,
				niche        VARCHAR(255) NOT NULL,
				privacy      VARCHAR(16)  NOT NULL,
				destinations TEXT[]       NOT NULL,
				retry        BOOLEAN      NOT NULL DEFAULT FALSE,
				started_at   TIMESTAMPTZ  NOT NULL,
				finished_at  TIMESTAMPTZ  NOT NULL,
				succeeded    INTEGER      NOT NULL DEFAULT 0,
				partial      INTEGER      NOT NULL DEFAULT 0,
				failed       INTEGER      NOT NULL DEFAULT 0,
				pending      INTEGER      NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_batch_runs_started_at ON batch_runs(started_at);
		`,
	},
	{
		Version: "000002_create_batch_run_items",
		SQL: `
			CREATE TABLE IF NOT EXISTS batch_run_items (
				item_id  VARCHAR(36)  NOT NULL,
				run_id   VARCHAR(36)  NOT NULL REFERENCES batch_runs(id) ON DELETE CASCADE,
				filename VARCHAR(255) NOT NULL,
				title    VARCHAR(255) NOT NULL,
				status   VARCHAR(16)  NOT NULL,
				error    TEXT         NOT NULL DEFAULT '',
				outcomes JSONB        NOT NULL DEFAULT '{}',
				PRIMARY KEY (run_id, item_id)
			);
			CREATE INDEX IF NOT EXISTS idx_batch_run_items_run_id ON batch_run_items(run_id);
		`,
	},
}

// DB wraps a pgxpool connection pool and provides health checks and migrations.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database")
	return &DB{Pool: pool}, nil
}

// RunMigrations applies all pending database migrations in order.
func (db *DB) RunMigrations(ctx context.Context) error {
	// Create migrations tracking table
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		// Check if already applied
		var exists bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		// Execute migration in a transaction
		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}

		slog.Info("applied migration", "version", m.Version)
	}

	return nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
