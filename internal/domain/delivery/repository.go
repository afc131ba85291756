// internal/domain/delivery/repository.go
package delivery

import "context"

// Repository persists the reconciled delivery statuses so they survive a restart.
type Repository interface {
	Upsert(ctx context.Context, phoneKey string, status Status) error
	LoadAll(ctx context.Context) ([]Record, error)
	DeleteAll(ctx context.Context) error
}
