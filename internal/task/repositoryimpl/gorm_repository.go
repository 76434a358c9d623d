package repositoryimpl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kazz187/taskwarden/internal/task"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

type taskRow struct {
	ID               string `gorm:"primaryKey"`
	OwnerUserID      string `gorm:"index"`
	Name             string
	Description      string
	Responsibility   string
	Status           string    `gorm:"index"`
	Deadline         time.Time `gorm:"index"`
	UserComment      string
	AdminComment     string
	DeadlineNotified bool
	NotificationSent bool
	Generation       int64
	DeliveredNotices map[string]string `gorm:"serializer:json"`
	CompletedAt      *time.Time
	CreatedAt        time.Time `gorm:"autoCreateTime:false"`
	CreatedBy        string
	LastUpdatedAt    time.Time
	Version          int64
}

func (taskRow) TableName() string { return "tasks" }

func toRow(t *task.Task) *taskRow {
	return &taskRow{
		ID:               t.ID,
		OwnerUserID:      t.OwnerUserID,
		Name:             t.Name,
		Description:      t.Description,
		Responsibility:   t.Responsibility,
		Status:           string(t.Status),
		Deadline:         t.Deadline,
		UserComment:      t.UserComment,
		AdminComment:     t.AdminComment,
		DeadlineNotified: t.DeadlineNotified,
		NotificationSent: t.NotificationSent,
		Generation:       t.Generation,
		DeliveredNotices: t.DeliveredNotices,
		CompletedAt:      t.CompletedAt,
		CreatedAt:        t.CreatedAt,
		CreatedBy:        t.CreatedBy,
		LastUpdatedAt:    t.LastUpdatedAt,
		Version:          t.Version,
	}
}

func (r *taskRow) entity() *task.Task {
	t := &task.Task{
		ID:               r.ID,
		OwnerUserID:      r.OwnerUserID,
		Name:             r.Name,
		Description:      r.Description,
		Responsibility:   r.Responsibility,
		Status:           task.Status(r.Status),
		Deadline:         r.Deadline.UTC(),
		UserComment:      r.UserComment,
		AdminComment:     r.AdminComment,
		DeadlineNotified: r.DeadlineNotified,
		NotificationSent: r.NotificationSent,
		Generation:       r.Generation,
		DeliveredNotices: r.DeliveredNotices,
		CreatedAt:        r.CreatedAt.UTC(),
		CreatedBy:        r.CreatedBy,
		LastUpdatedAt:    r.LastUpdatedAt.UTC(),
		Version:          r.Version,
	}
	if r.CompletedAt != nil {
		at := r.CompletedAt.UTC()
		t.CompletedAt = &at
	}
	return t
}

// GormRepository stores tasks in a SQL table. The database must be opened
// with TranslateError so duplicate ids surface as AlreadyExists.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&taskRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate tasks: %w", err)
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Create(ctx context.Context, t *task.Task) error {
	if err := r.db.WithContext(ctx).Create(toRow(t)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return cerr.NewError(cerr.AlreadyExists, "task already exists", err)
		}
		return cerr.WrapGormError("task", err)
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	var row taskRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, cerr.WrapGormError("task", err)
	}
	return row.entity(), nil
}

func (r *GormRepository) List(ctx context.Context, f task.ListFilter) ([]*task.Task, error) {
	q := r.db.WithContext(ctx).Order("id")
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if len(f.OwnerUserIDs) > 0 {
		q = q.Where("owner_user_id IN ?", f.OwnerUserIDs)
	}
	if !f.DeadlineFrom.IsZero() {
		q = q.Where("deadline >= ?", f.DeadlineFrom)
	}
	if !f.DeadlineTo.IsZero() {
		q = q.Where("deadline <= ?", f.DeadlineTo)
	}
	var rows []taskRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, cerr.WrapGormError("tasks", err)
	}
	tasks := make([]*task.Task, 0, len(rows))
	for i := range rows {
		tasks = append(tasks, rows[i].entity())
	}
	return tasks, nil
}

func (r *GormRepository) UpdateIf(ctx context.Context, t *task.Task, cond task.Condition) error {
	row := toRow(t)
	row.Version = cond.Version + 1
	res := r.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("id = ? AND status = ? AND version = ?", t.ID, string(cond.Status), cond.Version).
		Select("*").
		Updates(row)
	if res.Error != nil {
		return cerr.WrapGormError("task", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, t.ID); err != nil {
			return err
		}
		return cerr.NewError(cerr.Aborted, "task was modified concurrently", nil)
	}
	t.Version = row.Version
	return nil
}

func (r *GormRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&taskRow{}, "id = ?", id)
	if res.Error != nil {
		return cerr.WrapGormError("task", res.Error)
	}
	if res.RowsAffected == 0 {
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return nil
}
