package database

import (
	"context"
	"database/sql"
	"fmt"

	"reminder_dispatcher/internal/domain/delivery"
)

// PostgresDeliveryRepository journals the latest webhook status per phone so the
// reconciler survives restarts.
type PostgresDeliveryRepository struct {
	db *sql.DB
}

func NewPostgresDeliveryRepository(db *sql.DB) *PostgresDeliveryRepository {
	return &PostgresDeliveryRepository{db: db}
}

func (r *PostgresDeliveryRepository) Upsert(ctx context.Context, phoneKey string, status delivery.Status) error {
	query := `INSERT INTO delivery_statuses (phone_key, status, updated_at)
               VALUES ($1, $2, NOW())
               ON CONFLICT (phone_key) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, phoneKey, string(status)); err != nil {
		return fmt.Errorf("error upserting delivery status: %w", err)
	}
	return nil
}

func (r *PostgresDeliveryRepository) LoadAll(ctx context.Context) ([]delivery.Record, error) {
	query := `SELECT phone_key, status, updated_at FROM delivery_statuses`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error loading delivery statuses: %w", err)
	}
	defer rows.Close()

	var records []delivery.Record
	for rows.Next() {
		var (
			rec    delivery.Record
			status string
		)
		if err := rows.Scan(&rec.PhoneKey, &status, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning delivery status: %w", err)
		}
		rec.Status, err = delivery.ParseStatus(status)
		if err != nil {
			return nil, fmt.Errorf("stored status for %s: %w", rec.PhoneKey, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery statuses: %w", err)
	}
	return records, nil
}

func (r *PostgresDeliveryRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM delivery_statuses`); err != nil {
		return fmt.Errorf("error clearing delivery statuses: %w", err)
	}
	return nil
}
