package repositoryimpl

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskwarden/internal/notification"
	"github.com/kazz187/taskwarden/pkg/cerr"
	"github.com/kazz187/taskwarden/pkg/storage"
)

const notificationsPrefix = "notifications"

// YAMLRepository stores each record under notifications/<userId>/, named so
// lexical order is creation order.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func userPrefix(userID string) string {
	return fmt.Sprintf("%s/%s/", notificationsPrefix, userID)
}

func path(r *notification.Record) string {
	return fmt.Sprintf("%s%020d.yaml", userPrefix(r.UserID), r.CreatedAt.UnixNano())
}

func (r *YAMLRepository) Create(ctx context.Context, rec *notification.Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal notification: %w", err))
	}
	if err := r.storage.WriteIfVersion(ctx, path(rec), data, ""); err != nil {
		return cerr.WrapStorageWriteError("notification", err)
	}
	return nil
}

func (r *YAMLRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*notification.Record, error) {
	paths, err := r.storage.List(ctx, userPrefix(userID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("notifications", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	records := make([]*notification.Record, 0, len(paths))
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var rec notification.Record
		if err := yaml.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return slices.Clip(records), nil
}
