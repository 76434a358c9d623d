package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskwarden/internal/authz"
	"github.com/kazz187/taskwarden/internal/queue"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

// ErrUnchanged is returned from a Modify callback to skip the write.
var ErrUnchanged = errors.New("task unchanged")

const defaultMaxAttempts = 3

// Engine owns every state change of a task. Each change is a conditional
// write against the status and version that were read, retried from a fresh
// read when another writer got there first.
type Engine struct {
	repo        Repository
	policy      *authz.Policy
	enqueuer    queue.Enqueuer
	now         func() time.Time
	maxAttempts int
}

type EngineOption func(*Engine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithMaxAttempts(n int) EngineOption {
	return func(e *Engine) { e.maxAttempts = n }
}

func NewEngine(repo Repository, policy *authz.Policy, enqueuer queue.Enqueuer, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:        repo,
		policy:      policy,
		enqueuer:    enqueuer,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

type CreateInput struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Responsibility string `json:"responsibility"`
	Deadline       string `json:"deadline"`
	OwnerUserID    string `json:"userId"`
}

func (e *Engine) Create(ctx context.Context, claims *authz.Claims, in CreateInput) (*Task, error) {
	if err := e.policy.Require(authz.CreateTask, claims, authz.Resource{}); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{
		"name":           in.Name,
		"description":    in.Description,
		"responsibility": in.Responsibility,
		"deadline":       in.Deadline,
		"userId":         in.OwnerUserID,
	}); err != nil {
		return nil, err
	}
	deadline, err := ParseDeadline(in.Deadline)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	t := &Task{
		ID:             ulid.Make().String(),
		OwnerUserID:    strings.TrimSpace(in.OwnerUserID),
		Name:           strings.TrimSpace(in.Name),
		Description:    in.Description,
		Responsibility: in.Responsibility,
		Status:         StatusOpen,
		Deadline:       deadline,
		CreatedAt:      now,
		CreatedBy:      claims.Subject,
		LastUpdatedAt:  now,
		Version:        1,
	}
	if err := e.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	e.enqueue(ctx, t.Job(queue.KindAssigned, queue.AudienceOwner, now))
	return t, nil
}

// UpdateInput is a partial update. Nil fields are left alone.
type UpdateInput struct {
	Status         *Status `json:"status,omitempty"`
	UserComment    *string `json:"userComment,omitempty"`
	AdminComment   *string `json:"adminComment,omitempty"`
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	Responsibility *string `json:"responsibility,omitempty"`
	Deadline       *string `json:"deadline,omitempty"`
	OwnerUserID    *string `json:"userId,omitempty"`
}

func (in UpdateInput) adminFields() []string {
	var fields []string
	for _, f := range []struct {
		name string
		set  bool
	}{
		{"adminComment", in.AdminComment != nil},
		{"name", in.Name != nil},
		{"description", in.Description != nil},
		{"responsibility", in.Responsibility != nil},
		{"deadline", in.Deadline != nil},
		{"userId", in.OwnerUserID != nil},
	} {
		if f.set {
			fields = append(fields, f.name)
		}
	}
	return fields
}

func (in UpdateInput) empty() bool {
	return in.Status == nil && in.UserComment == nil && len(in.adminFields()) == 0
}

func (in UpdateInput) validate() (time.Time, error) {
	if in.empty() {
		return time.Time{}, cerr.NewError(cerr.InvalidArgument, "nothing to update", nil)
	}
	if in.Status != nil && !in.Status.Valid() {
		return time.Time{}, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown status %q", *in.Status), nil)
	}
	required := map[string]string{}
	for name, v := range map[string]*string{
		"name":           in.Name,
		"description":    in.Description,
		"responsibility": in.Responsibility,
		"deadline":       in.Deadline,
		"userId":         in.OwnerUserID,
	} {
		if v != nil {
			required[name] = *v
		}
	}
	if err := requireFields(required); err != nil {
		return time.Time{}, err
	}
	if in.Deadline == nil {
		return time.Time{}, nil
	}
	return ParseDeadline(*in.Deadline)
}

func (e *Engine) Update(ctx context.Context, claims *authz.Claims, id string, in UpdateInput) (*Task, error) {
	deadline, err := in.validate()
	if err != nil {
		return nil, err
	}
	return e.mutate(ctx, id, func(t *Task) ([]*queue.Job, error) {
		res := authz.Resource{OwnerUserID: t.OwnerUserID}
		if err := e.policy.Require(authz.UpdateStatusOrComment, claims, res); err != nil {
			return nil, err
		}
		if fields := in.adminFields(); len(fields) > 0 && e.policy.Decide(authz.UpdateAnyField, claims, res) == authz.Deny {
			return nil, cerr.NewError(cerr.PermissionDenied, "only admins may update "+strings.Join(fields, ", "), nil)
		}
		if in.UserComment != nil && !e.policy.IsOwner(claims, t.OwnerUserID) {
			return nil, cerr.NewError(cerr.PermissionDenied, "only the task owner may set userComment", nil)
		}

		now := e.Now()
		var jobs []*queue.Job
		if in.Status != nil {
			job, err := transition(t, *in.Status, now)
			if err != nil {
				return nil, err
			}
			if job != nil {
				jobs = append(jobs, job)
			}
		}
		if in.UserComment != nil {
			t.UserComment = *in.UserComment
		}
		if in.AdminComment != nil {
			t.AdminComment = *in.AdminComment
		}
		if in.Name != nil {
			t.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			t.Description = *in.Description
		}
		if in.Responsibility != nil {
			t.Responsibility = *in.Responsibility
		}
		if in.Deadline != nil && !deadline.Equal(t.Deadline) {
			t.Deadline = deadline
			t.DeadlineNotified = false
		}
		if in.OwnerUserID != nil {
			if owner := strings.TrimSpace(*in.OwnerUserID); owner != t.OwnerUserID {
				t.OwnerUserID = owner
				t.reassign()
				if t.Status == StatusOpen {
					jobs = append(jobs, t.Job(queue.KindAssigned, queue.AudienceOwner, now))
				}
			}
		}
		t.LastUpdatedAt = now
		return jobs, nil
	})
}

// transition applies a status change requested through Update.
func transition(t *Task, target Status, now time.Time) (*queue.Job, error) {
	switch {
	case target == StatusExpired:
		return nil, invalidTransition("tasks expire only when their deadline passes")
	case t.Status == StatusExpired:
		return nil, invalidTransition("expired tasks must be reopened by an admin")
	case target == StatusCompleted && t.Status == StatusOpen:
		t.Status = StatusCompleted
		t.CompletedAt = &now
		return t.Job(queue.KindCompleted, queue.AudienceAdmins, now), nil
	case target == StatusOpen && t.Status == StatusCompleted:
		return nil, invalidTransition("completed tasks are reopened with reopen")
	}
	// open -> open and completed -> completed only refresh lastUpdatedAt.
	return nil, nil
}

type ReopenInput struct {
	// OwnerUserID reassigns the task; empty keeps the current owner.
	OwnerUserID  string  `json:"userId,omitempty"`
	AdminComment string  `json:"adminComment,omitempty"`
	Deadline     *string `json:"deadline,omitempty"`
}

func (e *Engine) Reopen(ctx context.Context, claims *authz.Claims, id string, in ReopenInput) (*Task, error) {
	if err := e.policy.Require(authz.Reopen, claims, authz.Resource{}); err != nil {
		return nil, err
	}
	var deadline time.Time
	if in.Deadline != nil {
		d, err := ParseDeadline(*in.Deadline)
		if err != nil {
			return nil, err
		}
		deadline = d
	}
	return e.mutate(ctx, id, func(t *Task) ([]*queue.Job, error) {
		now := e.Now()
		if owner := strings.TrimSpace(in.OwnerUserID); owner != "" {
			t.OwnerUserID = owner
		}
		if in.AdminComment != "" {
			t.AdminComment = in.AdminComment
		}
		if !deadline.IsZero() {
			t.Deadline = deadline
		}
		t.Status = StatusOpen
		t.CompletedAt = nil
		t.reassign()
		t.LastUpdatedAt = now
		return []*queue.Job{t.Job(queue.KindAssigned, queue.AudienceOwner, now)}, nil
	})
}

// Expire moves an overdue open task to expired. Expiring an expired task is
// a no-op.
func (e *Engine) Expire(ctx context.Context, id string) (*Task, error) {
	return e.mutate(ctx, id, func(t *Task) ([]*queue.Job, error) {
		now := e.Now()
		switch {
		case t.Status == StatusExpired:
			return nil, ErrUnchanged
		case t.Status != StatusOpen:
			return nil, invalidTransition(fmt.Sprintf("cannot expire a %s task", t.Status))
		case !t.Deadline.Before(now):
			return nil, invalidTransition("deadline has not passed yet")
		}
		t.Status = StatusExpired
		t.LastUpdatedAt = now
		return []*queue.Job{
			t.Job(queue.KindExpired, queue.AudienceOwner, t.Deadline),
			t.Job(queue.KindExpired, queue.AudienceAdmins, t.Deadline),
		}, nil
	})
}

func (e *Engine) Delete(ctx context.Context, claims *authz.Claims, id string) error {
	if err := e.policy.Require(authz.DeleteTask, claims, authz.Resource{}); err != nil {
		return err
	}
	t, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}
	job := t.Job(queue.KindDeleted, queue.AudienceOwner, e.Now())
	job.Snapshot = t.Snapshot()
	e.enqueue(ctx, job)
	return nil
}

func (e *Engine) Get(ctx context.Context, claims *authz.Claims, id string) (*Task, error) {
	t, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.policy.Require(authz.ViewTask, claims, authz.Resource{OwnerUserID: t.OwnerUserID}); err != nil {
		return nil, err
	}
	return t, nil
}

// List returns every task for admins and the caller's own tasks otherwise.
func (e *Engine) List(ctx context.Context, claims *authz.Claims, f ListFilter) ([]*Task, error) {
	if claims == nil || claims.Subject == "" {
		return nil, cerr.NewError(cerr.Unauthenticated, "no caller identity", nil)
	}
	if !e.policy.IsAdmin(claims) {
		f.OwnerUserIDs = claims.Identities()
	}
	return e.repo.List(ctx, f)
}

// Modify applies fn with the same conditional write and retry rules as the
// lifecycle operations. Returning ErrUnchanged from fn skips the write.
func (e *Engine) Modify(ctx context.Context, id string, fn func(t *Task) error) (*Task, error) {
	return e.mutate(ctx, id, func(t *Task) ([]*queue.Job, error) {
		return nil, fn(t)
	})
}

// Enqueue submits jobs on behalf of a caller that already persisted the
// state they announce. Failures are returned, unlike lifecycle side effects.
func (e *Engine) Enqueue(ctx context.Context, jobs ...*queue.Job) error {
	return e.enqueuer.Enqueue(ctx, jobs...)
}

type mutation func(t *Task) ([]*queue.Job, error)

func (e *Engine) mutate(ctx context.Context, id string, fn mutation) (*Task, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		current, err := e.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		jobs, err := fn(next)
		if errors.Is(err, ErrUnchanged) {
			return current, nil
		}
		if err != nil {
			return nil, err
		}
		err = e.repo.UpdateIf(ctx, next, Condition{Status: current.Status, Version: current.Version})
		if err == nil {
			e.enqueue(ctx, jobs...)
			return next, nil
		}
		if !cerr.IsCode(err, cerr.Aborted) {
			return nil, err
		}
		lastErr = err
		slog.DebugContext(ctx, "conditional write lost, retrying", "task_id", id, "attempt", attempt)
	}
	return nil, cerr.NewError(cerr.Aborted, "task was modified concurrently", lastErr)
}

// enqueue never fails the operation: the write already happened and the
// notice flags stay unset, so the scanner or a retry can still deliver.
func (e *Engine) enqueue(ctx context.Context, jobs ...*queue.Job) {
	if len(jobs) == 0 {
		return
	}
	if err := e.enqueuer.Enqueue(ctx, jobs...); err != nil {
		for _, j := range jobs {
			slog.ErrorContext(ctx, "failed to enqueue notification job", "task_id", j.TaskID, "kind", j.Kind, "error", err)
		}
	}
}
