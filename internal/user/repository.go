package user

import "context"

type Repository interface {
	Get(ctx context.Context, id string) (*User, error)
	// Put creates or replaces a user.
	Put(ctx context.Context, u *User) error
	// List returns all users, or only those with role when it is set.
	List(ctx context.Context, role Role) ([]*User, error)
	Delete(ctx context.Context, id string) error
}
