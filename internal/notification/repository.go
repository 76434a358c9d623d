package notification

import "context"

type Repository interface {
	Create(ctx context.Context, r *Record) error
	// ListByUser returns the newest records first. limit <= 0 means all.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Record, error)
}
