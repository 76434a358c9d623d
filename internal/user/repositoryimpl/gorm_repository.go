package repositoryimpl

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kazz187/taskwarden/internal/user"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

type userRow struct {
	ID        string `gorm:"primaryKey"`
	Email     string
	Name      string
	Role      string `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userRow) TableName() string { return "users" }

func toRow(u *user.User) *userRow {
	return &userRow{ID: u.ID, Email: u.Email, Name: u.Name, Role: string(u.Role), CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
}

func (r *userRow) entity() *user.User {
	return &user.User{ID: r.ID, Email: r.Email, Name: r.Name, Role: user.Role(r.Role), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

// GormRepository stores users in a SQL table.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&userRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate users: %w", err)
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (*user.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, cerr.WrapGormError("user", err)
	}
	return row.entity(), nil
}

func (r *GormRepository) Put(ctx context.Context, u *user.User) error {
	if err := r.db.WithContext(ctx).Save(toRow(u)).Error; err != nil {
		return cerr.WrapGormError("user", err)
	}
	return nil
}

func (r *GormRepository) List(ctx context.Context, role user.Role) ([]*user.User, error) {
	q := r.db.WithContext(ctx).Order("id")
	if role != "" {
		q = q.Where("role = ?", string(role))
	}
	var rows []userRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, cerr.WrapGormError("users", err)
	}
	users := make([]*user.User, 0, len(rows))
	for i := range rows {
		users = append(users, rows[i].entity())
	}
	return users, nil
}

func (r *GormRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&userRow{}, "id = ?", id)
	if res.Error != nil {
		return cerr.WrapGormError("user", res.Error)
	}
	if res.RowsAffected == 0 {
		return cerr.NewError(cerr.NotFound, "user not found", nil)
	}
	return nil
}
