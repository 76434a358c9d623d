package task

import (
	"context"
	"slices"
	"time"
)

// Condition is the state a conditional write expects to find.
type Condition struct {
	Status  Status
	Version int64
}

// ListFilter selects tasks. Zero fields match everything; deadline bounds
// are inclusive.
type ListFilter struct {
	Status       Status
	OwnerUserIDs []string
	DeadlineFrom time.Time
	DeadlineTo   time.Time
}

func (f ListFilter) Match(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if len(f.OwnerUserIDs) > 0 && !slices.Contains(f.OwnerUserIDs, t.OwnerUserID) {
		return false
	}
	if !f.DeadlineFrom.IsZero() && t.Deadline.Before(f.DeadlineFrom) {
		return false
	}
	if !f.DeadlineTo.IsZero() && t.Deadline.After(f.DeadlineTo) {
		return false
	}
	return true
}

type Repository interface {
	// Create fails with AlreadyExists if the id is taken.
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f ListFilter) ([]*Task, error)
	// UpdateIf replaces the stored task only if it still matches cond,
	// bumping t.Version. A mismatch fails with Aborted, a missing task with
	// NotFound.
	UpdateIf(ctx context.Context, t *Task, cond Condition) error
	Delete(ctx context.Context, id string) error
}
