package repositoryimpl

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskwarden/internal/task"
	"github.com/kazz187/taskwarden/pkg/cerr"
	"github.com/kazz187/taskwarden/pkg/storage"
)

const tasksPrefix = "tasks"

// YAMLRepository keeps one YAML document per task. Conditional writes use
// the storage version token of the document that was read.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", tasksPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, t *task.Task) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	if err := r.storage.WriteIfVersion(ctx, path(t.ID), data, ""); err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			return cerr.NewError(cerr.AlreadyExists, "task already exists", err)
		}
		return cerr.WrapStorageWriteError("task", err)
	}
	return nil
}

func (r *YAMLRepository) read(ctx context.Context, id string) (*task.Task, string, error) {
	data, version, err := r.storage.ReadVersioned(ctx, path(id))
	if err != nil {
		return nil, "", cerr.WrapStorageReadError("task", err)
	}
	var t task.Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, "", cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task: %w", err))
	}
	return &t, version, nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	t, _, err := r.read(ctx, id)
	return t, err
}

func (r *YAMLRepository) List(ctx context.Context, f task.ListFilter) ([]*task.Task, error) {
	paths, err := r.storage.List(ctx, tasksPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("tasks", err)
	}
	sort.Strings(paths)

	var tasks []*task.Task
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			// Deleted between List and Read.
			continue
		}
		var t task.Task
		if err := yaml.Unmarshal(data, &t); err != nil {
			continue
		}
		if f.Match(&t) {
			tasks = append(tasks, &t)
		}
	}
	return tasks, nil
}

func (r *YAMLRepository) UpdateIf(ctx context.Context, t *task.Task, cond task.Condition) error {
	current, version, err := r.read(ctx, t.ID)
	if err != nil {
		return err
	}
	if current.Status != cond.Status || current.Version != cond.Version {
		return cerr.NewError(cerr.Aborted, "task was modified concurrently", nil)
	}
	t.Version = cond.Version + 1
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	if err := r.storage.WriteIfVersion(ctx, path(t.ID), data, version); err != nil {
		t.Version = cond.Version
		return cerr.WrapStorageWriteError("task", err)
	}
	return nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("task", err)
	}
	return nil
}
