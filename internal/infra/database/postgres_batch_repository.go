package database

import (
	"context"
	"database/sql"
	"fmt"

	"reminder_dispatcher/internal/domain/dispatch"
)

type PostgresBatchRepository struct {
	db *sql.DB
}

func NewPostgresBatchRepository(db *sql.DB) *PostgresBatchRepository {
	return &PostgresBatchRepository{db: db}
}

func (r *PostgresBatchRepository) Create(ctx context.Context, run *dispatch.BatchRun) error {
	query := `INSERT INTO batch_runs (id, started_at, finished_at, total, sent, invalid, flush_error)
               VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, run.ID, run.StartedAt, run.FinishedAt, run.Total, run.Sent, run.Invalid, run.FlushError)
	if err != nil {
		return fmt.Errorf("error creating batch run: %w", err)
	}
	return nil
}

func (r *PostgresBatchRepository) ListRecent(ctx context.Context, limit int) ([]dispatch.BatchRun, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT id, started_at, finished_at, total, sent, invalid, flush_error
               FROM batch_runs ORDER BY started_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing batch runs: %w", err)
	}
	defer rows.Close()

	var runs []dispatch.BatchRun
	for rows.Next() {
		var run dispatch.BatchRun
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Total, &run.Sent, &run.Invalid, &run.FlushError); err != nil {
			return nil, fmt.Errorf("error scanning batch run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batch runs: %w", err)
	}
	return runs, nil
}
