package pushsubscription

import "context"

type Repository interface {
	Put(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	// ListByUser returns subscriptions owned by any of userIDs.
	ListByUser(ctx context.Context, userIDs ...string) ([]*Subscription, error)
	Delete(ctx context.Context, id string) error
	FindByEndpoint(ctx context.Context, endpoint string) (*Subscription, error)
}
