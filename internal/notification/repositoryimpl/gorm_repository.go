package repositoryimpl

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kazz187/taskwarden/internal/notification"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

type recordRow struct {
	UserID         string            `gorm:"primaryKey"`
	NotificationID string            `gorm:"primaryKey"`
	Type           string
	Read           bool
	Payload        map[string]string `gorm:"serializer:json"`
	CreatedAt      time.Time         `gorm:"index;autoCreateTime:false"`
}

func (recordRow) TableName() string { return "notifications" }

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate notifications: %w", err)
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Create(ctx context.Context, rec *notification.Record) error {
	row := &recordRow{
		UserID:         rec.UserID,
		NotificationID: rec.NotificationID,
		Type:           rec.Type,
		Read:           rec.Read,
		Payload:        rec.Payload,
		CreatedAt:      rec.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return cerr.WrapGormError("notification", err)
	}
	return nil
}

func (r *GormRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*notification.Record, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []recordRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, cerr.WrapGormError("notifications", err)
	}
	records := make([]*notification.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, &notification.Record{
			UserID:         row.UserID,
			NotificationID: row.NotificationID,
			Type:           row.Type,
			Read:           row.Read,
			Payload:        row.Payload,
			CreatedAt:      row.CreatedAt.UTC(),
		})
	}
	return records, nil
}
