package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	ErrRunNotFound = errors.New("batch run not found")
)

// Repository persists the history of finished dispatch runs.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateRun inserts a finished run and its item snapshots in one transaction.
func (r *Repository) CreateRun(ctx context.Context, run *BatchRun) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO batch_runs (
			id, niche, privacy, destinations, retry,
			started_at, finished_at, succeeded, partial, failed, pending
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		run.ID,
		run.Niche,
		run.Privacy,
		run.Destinations,
		run.Retry,
		run.StartedAt,
		run.FinishedAt,
		run.Succeeded,
		run.Partial,
		run.Failed,
		run.Pending,
	)
	if err != nil {
		return fmt.Errorf("failed to create batch run: %w", err)
	}

	for _, item := range run.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO batch_run_items (
				item_id, run_id, filename, title, status, error, outcomes
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			item.ItemID,
			run.ID,
			item.Filename,
			item.Title,
			item.Status,
			item.Error,
			item.Outcomes,
		)
		if err != nil {
			return fmt.Errorf("failed to create batch run item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetRun retrieves one run with its item snapshots.
func (r *Repository) GetRun(ctx context.Context, id string) (*BatchRun, error) {
	run := &BatchRun{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, niche, privacy, destinations, retry,
			   started_at, finished_at, succeeded, partial, failed, pending
		FROM batch_runs WHERE id = $1
	`, id).Scan(
		&run.ID,
		&run.Niche,
		&run.Privacy,
		&run.Destinations,
		&run.Retry,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Succeeded,
		&run.Partial,
		&run.Failed,
		&run.Pending,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get batch run: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT item_id, run_id, filename, title, status, error, outcomes
		FROM batch_run_items WHERE run_id = $1
		ORDER BY item_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item := &BatchRunItem{}
		if err := rows.Scan(
			&item.ItemID,
			&item.RunID,
			&item.Filename,
			&item.Title,
			&item.Status,
			&item.Error,
			&item.Outcomes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run item: %w", err)
		}
		run.Items = append(run.Items, item)
	}
	return run, rows.Err()
}

// ListRuns returns the most recent runs, newest first, without items.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, niche, privacy, destinations, retry,
			   started_at, finished_at, succeeded, partial, failed, pending
		FROM batch_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch runs: %w", err)
	}
	defer rows.Close()

	var runs []*BatchRun
	for rows.Next() {
		run := &BatchRun{}
		if err := rows.Scan(
			&run.ID,
			&run.Niche,
			&run.Privacy,
			&run.Destinations,
			&run.Retry,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Succeeded,
			&run.Partial,
			&run.Failed,
			&run.Pending,
		); err != nil {
			return nil, fmt.Errorf("failed to scan batch run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate history statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM batch_runs),
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'succeeded'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM batch_run_items
	`).Scan(
		&stats.TotalRuns,
		&stats.TotalItems,
		&stats.TotalSucceeded,
		&stats.TotalFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
