package task_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskwarden/internal/authz"
	"github.com/kazz187/taskwarden/internal/queue"
	"github.com/kazz187/taskwarden/internal/task"
	"github.com/kazz187/taskwarden/internal/task/repositoryimpl"
	"github.com/kazz187/taskwarden/pkg/cerr"
	"github.com/kazz187/taskwarden/pkg/storage"
)

var (
	admin = &authz.Claims{Subject: "A1", Username: "alice", Groups: []string{"admin"}}
	owner = &authz.Claims{Subject: "U1", Username: "bob"}
	other = &authz.Claims{Subject: "U2", Username: "carol"}
	now   = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	repo   task.Repository
	queue  *queue.MemoryQueue
	engine *task.Engine
	clock  *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	clock := now
	f := &fixture{
		repo:  repositoryimpl.NewYAMLRepository(store),
		queue: queue.NewMemoryQueue(),
		clock: &clock,
	}
	f.engine = task.NewEngine(f.repo, authz.NewPolicy("admin"), f.queue, task.WithClock(func() time.Time { return *f.clock }))
	return f
}

func (f *fixture) create(t *testing.T, deadline time.Time) *task.Task {
	t.Helper()
	created, err := f.engine.Create(context.Background(), admin, task.CreateInput{
		Name:           "write report",
		Description:    "quarterly numbers",
		Responsibility: "finance",
		Deadline:       deadline.Format(time.RFC3339),
		OwnerUserID:    "U1",
	})
	require.NoError(t, err)
	return created
}

func (f *fixture) drain() []*queue.Job {
	jobs := f.queue.Jobs()
	ctx := context.Background()
	for f.queue.Len() > 0 {
		msgs, err := f.queue.Receive(ctx, 100)
		if err != nil || len(msgs) == 0 {
			break
		}
		_ = f.queue.Ack(ctx, msgs...)
	}
	return jobs
}

func ptr[T any](v T) *T { return &v }

func TestEngine_Create(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, now.Add(24*time.Hour))

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, task.StatusOpen, created.Status)
	assert.Equal(t, "A1", created.CreatedBy)
	assert.False(t, created.NotificationSent)
	assert.False(t, created.DeadlineNotified)

	jobs := f.drain()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindAssigned, jobs[0].Kind)
	assert.Equal(t, queue.AudienceOwner, jobs[0].Audience)
	assert.Equal(t, "U1", jobs[0].UserID)
}

func TestEngine_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, owner, task.CreateInput{Name: "x", Description: "x", Responsibility: "x", Deadline: now.Format(time.RFC3339), OwnerUserID: "U1"})
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	_, err = f.engine.Create(ctx, admin, task.CreateInput{Name: "x", Deadline: now.Format(time.RFC3339), OwnerUserID: "U1"})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	assert.Contains(t, err.Error(), "description")

	_, err = f.engine.Create(ctx, admin, task.CreateInput{Name: "x", Description: "x", Responsibility: "x", Deadline: "tomorrow", OwnerUserID: "U1"})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	assert.Empty(t, f.drain())
}

func TestParseDeadline_NormalizesOffset(t *testing.T) {
	d, err := task.ParseDeadline("2025-03-01T18:00:00+09:00")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, d.Location())
	assert.True(t, d.Equal(now))
}

func TestEngine_OwnerCompletes(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, now.Add(24*time.Hour))
	f.drain()
	ctx := context.Background()

	*f.clock = now.Add(time.Hour)
	updated, err := f.engine.Update(ctx, owner, created.ID, task.UpdateInput{
		Status:      ptr(task.StatusCompleted),
		UserComment: ptr("done"),
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.True(t, f.clock.Equal(*updated.CompletedAt))
	assert.Equal(t, "done", updated.UserComment)

	jobs := f.drain()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindCompleted, jobs[0].Kind)
	assert.Equal(t, queue.AudienceAdmins, jobs[0].Audience)

	// Completing again refreshes the record without a second notice.
	*f.clock = now.Add(2 * time.Hour)
	again, err := f.engine.Update(ctx, owner, created.ID, task.UpdateInput{Status: ptr(task.StatusCompleted)})
	require.NoError(t, err)
	assert.True(t, f.clock.Equal(again.LastUpdatedAt))
	assert.True(t, updated.CompletedAt.Equal(*again.CompletedAt))
	assert.Empty(t, f.drain())
}

func TestEngine_UpdatePermissions(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, now.Add(24*time.Hour))
	ctx := context.Background()

	_, err := f.engine.Update(ctx, other, created.ID, task.UpdateInput{Status: ptr(task.StatusCompleted)})
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	_, err = f.engine.Update(ctx, owner, created.ID, task.UpdateInput{Name: ptr("renamed")})
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	_, err = f.engine.Update(ctx, admin, created.ID, task.UpdateInput{UserComment: ptr("not mine")})
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	got, err := f.engine.Get(ctx, admin, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Version, got.Version)
	assert.Equal(t, "write report", got.Name)

	_, err = f.engine.Get(ctx, other, created.ID)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	// The owner may be addressed by username as well as subject.
	byName := &authz.Claims{Subject: "sub-x", Username: "U1"}
	_, err = f.engine.Get(ctx, byName, created.ID)
	assert.NoError(t, err)
}

func TestEngine_InvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, now.Add(time.Hour))

	_, err := f.engine.Update(ctx, admin, created.ID, task.UpdateInput{Status: ptr(task.StatusExpired)})
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	_, err = f.engine.Update(ctx, owner, created.ID, task.UpdateInput{Status: ptr(task.StatusCompleted)})
	require.NoError(t, err)
	_, err = f.engine.Update(ctx, owner, created.ID, task.UpdateInput{Status: ptr(task.StatusOpen)})
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	_, err = f.engine.Update(ctx, owner, created.ID, task.UpdateInput{Status: ptr(task.Status("archived"))})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	_, err = f.engine.Update(ctx, owner, created.ID, task.UpdateInput{})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestEngine_Expire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, now.Add(time.Hour))
	f.drain()

	_, err := f.engine.Expire(ctx, created.ID)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition), "deadline not passed")

	*f.clock = now.Add(time.Hour + 10*time.Minute)
	expired, err := f.engine.Expire(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusExpired, expired.Status)

	jobs := f.drain()
	require.Len(t, jobs, 2)
	audiences := []queue.Audience{jobs[0].Audience, jobs[1].Audience}
	assert.ElementsMatch(t, []queue.Audience{queue.AudienceOwner, queue.AudienceAdmins}, audiences)
	for _, j := range jobs {
		assert.Equal(t, queue.KindExpired, j.Kind)
		assert.True(t, created.Deadline.Equal(j.ScheduledAt))
	}

	again, err := f.engine.Expire(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, expired.Version, again.Version)
	assert.Empty(t, f.drain())

	_, err = f.engine.Update(ctx, owner, created.ID, task.UpdateInput{Status: ptr(task.StatusCompleted)})
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestEngine_Reopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, now.Add(time.Hour))
	f.drain()
	*f.clock = now.Add(2 * time.Hour)
	_, err := f.engine.Expire(ctx, created.ID)
	require.NoError(t, err)
	f.drain()

	_, err = f.engine.Reopen(ctx, owner, created.ID, task.ReopenInput{})
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	newDeadline := now.Add(48 * time.Hour).Format(time.RFC3339)
	reopened, err := f.engine.Reopen(ctx, admin, created.ID, task.ReopenInput{
		OwnerUserID:  "U2",
		AdminComment: "try again",
		Deadline:     &newDeadline,
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusOpen, reopened.Status)
	assert.Equal(t, "U2", reopened.OwnerUserID)
	assert.Equal(t, "try again", reopened.AdminComment)
	assert.Nil(t, reopened.CompletedAt)
	assert.False(t, reopened.DeadlineNotified)
	assert.Equal(t, int64(1), reopened.Generation)
	assert.Empty(t, reopened.DeliveredNotices)

	jobs := f.drain()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindAssigned, jobs[0].Kind)
	assert.Equal(t, "U2", jobs[0].UserID)
	assert.Equal(t, int64(1), jobs[0].Generation)
}

func TestEngine_ReopenSeparatesNoticeKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, now.Add(time.Hour))
	f.drain()
	*f.clock = now.Add(2 * time.Hour)
	_, err := f.engine.Expire(ctx, created.ID)
	require.NoError(t, err)
	first := f.drain()
	require.Len(t, first, 2)

	_, err = f.engine.Reopen(ctx, admin, created.ID, task.ReopenInput{})
	require.NoError(t, err)
	f.drain()
	_, err = f.engine.Expire(ctx, created.ID)
	require.NoError(t, err)

	// Same deadline and audiences, but a new assignment: nothing collides.
	second := f.drain()
	require.Len(t, second, 2)
	for i := range second {
		assert.Equal(t, first[i].Slot(), second[i].Slot())
		assert.NotEqual(t, first[i].IdempotencyKey, second[i].IdempotencyKey)
	}
}

func TestEngine_Reassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, now.Add(time.Hour))
	_, err := f.engine.Modify(ctx, created.ID, func(t *task.Task) error {
		t.NotificationSent = true
		t.DeadlineNotified = true
		return nil
	})
	require.NoError(t, err)
	f.drain()

	*f.clock = now.Add(time.Minute)
	later := now.Add(5 * time.Hour).Format(time.RFC3339)
	updated, err := f.engine.Update(ctx, admin, created.ID, task.UpdateInput{OwnerUserID: ptr("U2"), Deadline: &later})
	require.NoError(t, err)
	assert.False(t, updated.NotificationSent)
	assert.False(t, updated.DeadlineNotified)

	jobs := f.drain()
	require.Len(t, jobs, 1)
	assert.Equal(t, "U2", jobs[0].UserID)
}

func TestEngine_ReassignKeepingDeadlineClearsReminderFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, now.Add(time.Hour))
	reminder := created.Job(queue.KindDeadlineHourBefore, queue.AudienceOwner, created.Deadline)
	_, err := f.engine.Modify(ctx, created.ID, func(t *task.Task) error {
		t.DeadlineNotified = true
		t.MarkDelivered(reminder)
		return nil
	})
	require.NoError(t, err)
	f.drain()

	updated, err := f.engine.Update(ctx, admin, created.ID, task.UpdateInput{OwnerUserID: ptr("U2")})
	require.NoError(t, err)
	assert.Equal(t, "U2", updated.OwnerUserID)
	assert.False(t, updated.DeadlineNotified)
	assert.False(t, updated.Delivered(reminder))
	assert.Equal(t, created.Generation+1, updated.Generation)

	// Reassigning to the current owner is not a new assignment.
	same, err := f.engine.Update(ctx, admin, created.ID, task.UpdateInput{OwnerUserID: ptr("U2")})
	require.NoError(t, err)
	assert.Equal(t, updated.Generation, same.Generation)
}

func TestEngine_AdminOnlyFieldsListedInOrder(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, now.Add(24*time.Hour))

	for range 5 {
		_, err := f.engine.Update(context.Background(), owner, created.ID, task.UpdateInput{
			OwnerUserID:  ptr("U2"),
			Deadline:     ptr(now.Format(time.RFC3339)),
			Name:         ptr("renamed"),
			AdminComment: ptr("x"),
		})
		var cErr *cerr.Error
		require.ErrorAs(t, err, &cErr)
		assert.Equal(t, "only admins may update adminComment, name, deadline, userId", cErr.Msg)
	}
}

func TestEngine_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, now.Add(time.Hour))
	f.drain()

	assert.True(t, cerr.IsCode(f.engine.Delete(ctx, owner, created.ID), cerr.PermissionDenied))
	require.NoError(t, f.engine.Delete(ctx, admin, created.ID))
	assert.True(t, cerr.IsCode(f.engine.Delete(ctx, admin, created.ID), cerr.NotFound))

	jobs := f.drain()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindDeleted, jobs[0].Kind)
	require.NotNil(t, jobs[0].Snapshot)
	assert.Equal(t, "write report", jobs[0].Snapshot.Name)

	_, err := f.engine.Get(ctx, admin, created.ID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestEngine_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, now.Add(time.Hour))
	_, err := f.engine.Create(ctx, admin, task.CreateInput{
		Name: "other", Description: "d", Responsibility: "r",
		Deadline: now.Add(time.Hour).Format(time.RFC3339), OwnerUserID: "U2",
	})
	require.NoError(t, err)

	all, err := f.engine.List(ctx, admin, task.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.engine.List(ctx, owner, task.ListFilter{OwnerUserIDs: []string{"U2"}})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "U1", mine[0].OwnerUserID)
}

func TestEngine_ConcurrentCompletionNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, now.Add(time.Hour))
	f.drain()

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Update(ctx, owner, created.ID, task.UpdateInput{Status: ptr(task.StatusCompleted)})
		}()
	}
	wg.Wait()

	got, err := f.engine.Get(ctx, admin, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)

	jobs := f.drain()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindCompleted, jobs[0].Kind)
}

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(context.Context, ...*queue.Job) error {
	return errors.New("queue unavailable")
}

func TestEngine_EnqueueFailureKeepsWrite(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repositoryimpl.NewYAMLRepository(store)
	engine := task.NewEngine(repo, authz.NewPolicy("admin"), failingEnqueuer{}, task.WithClock(func() time.Time { return now }))

	created, err := engine.Create(context.Background(), admin, task.CreateInput{
		Name: "n", Description: "d", Responsibility: "r",
		Deadline: now.Add(time.Hour).Format(time.RFC3339), OwnerUserID: "U1",
	})
	require.NoError(t, err)

	got, err := repo.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, got.NotificationSent)
}
