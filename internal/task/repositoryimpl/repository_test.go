package repositoryimpl

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kazz187/taskwarden/internal/queue"
	"github.com/kazz187/taskwarden/internal/task"
	"github.com/kazz187/taskwarden/pkg/cerr"
	"github.com/kazz187/taskwarden/pkg/storage"
)

func repositories(t *testing.T) map[string]task.Repository {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tasks.db")), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	})
	require.NoError(t, err)
	gormRepo, err := NewGormRepository(db)
	require.NoError(t, err)

	return map[string]task.Repository{
		"yaml": NewYAMLRepository(store),
		"gorm": gormRepo,
	}
}

func newTask(id, owner string, deadline time.Time) *task.Task {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &task.Task{
		ID:             id,
		OwnerUserID:    owner,
		Name:           "write report",
		Description:    "quarterly",
		Responsibility: "finance",
		Status:         task.StatusOpen,
		Deadline:       deadline,
		CreatedAt:      now,
		CreatedBy:      "admin",
		LastUpdatedAt:  now,
		Version:        1,
	}
}

func TestRepository_CreateGetDelete(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deadline := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)

			_, err := repo.Get(ctx, "T1")
			assert.True(t, cerr.IsCode(err, cerr.NotFound))

			require.NoError(t, repo.Create(ctx, newTask("T1", "U1", deadline)))
			err = repo.Create(ctx, newTask("T1", "U2", deadline))
			assert.True(t, cerr.IsCode(err, cerr.AlreadyExists), "got %v", err)

			got, err := repo.Get(ctx, "T1")
			require.NoError(t, err)
			assert.Equal(t, "U1", got.OwnerUserID)
			assert.True(t, deadline.Equal(got.Deadline))
			assert.Nil(t, got.CompletedAt)

			require.NoError(t, repo.Delete(ctx, "T1"))
			assert.True(t, cerr.IsCode(repo.Delete(ctx, "T1"), cerr.NotFound))
		})
	}
}

func TestRepository_UpdateIf(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, newTask("T1", "U1", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))))

			current, err := repo.Get(ctx, "T1")
			require.NoError(t, err)

			next := current.Clone()
			completedAt := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
			next.Status = task.StatusCompleted
			next.CompletedAt = &completedAt
			job := queue.NewJob(queue.KindCompleted, queue.AudienceAdmins, "T1", "U1", completedAt)
			next.MarkDelivered(job)
			require.NoError(t, repo.UpdateIf(ctx, next, task.Condition{Status: current.Status, Version: current.Version}))
			assert.Equal(t, current.Version+1, next.Version)

			stale := current.Clone()
			stale.UserComment = "late"
			err = repo.UpdateIf(ctx, stale, task.Condition{Status: current.Status, Version: current.Version})
			assert.True(t, cerr.IsCode(err, cerr.Aborted), "got %v", err)

			got, err := repo.Get(ctx, "T1")
			require.NoError(t, err)
			assert.Equal(t, task.StatusCompleted, got.Status)
			require.NotNil(t, got.CompletedAt)
			assert.True(t, completedAt.Equal(*got.CompletedAt))
			assert.Empty(t, got.UserComment)
			assert.True(t, got.Delivered(job))

			missing := newTask("T404", "U1", time.Now())
			err = repo.UpdateIf(ctx, missing, task.Condition{Status: task.StatusOpen, Version: 1})
			assert.True(t, cerr.IsCode(err, cerr.NotFound), "got %v", err)
		})
	}
}

func TestRepository_List(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, repo.Create(ctx, newTask("T1", "U1", base.Add(30*time.Minute))))
			require.NoError(t, repo.Create(ctx, newTask("T2", "U2", base.Add(2*time.Hour))))
			done := newTask("T3", "U1", base.Add(10*time.Minute))
			done.Status = task.StatusCompleted
			require.NoError(t, repo.Create(ctx, done))

			all, err := repo.List(ctx, task.ListFilter{})
			require.NoError(t, err)
			assert.Len(t, all, 3)

			mine, err := repo.List(ctx, task.ListFilter{OwnerUserIDs: []string{"U1"}})
			require.NoError(t, err)
			assert.Len(t, mine, 2)

			due, err := repo.List(ctx, task.ListFilter{
				Status:     task.StatusOpen,
				DeadlineTo: base.Add(time.Hour),
			})
			require.NoError(t, err)
			require.Len(t, due, 1)
			assert.Equal(t, "T1", due[0].ID)
		})
	}
}
