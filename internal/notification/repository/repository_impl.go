package repository

import (
	"context"
	"time"

	"github.com/glacestorm/crmalerts/internal/notification/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, items []domain.Notification) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		if items[i].Metadata == nil {
			items[i].Metadata = datatypes.JSONMap{}
		}
	}
	return db.WithContext(ctx).Create(&items).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Notification, error) {
	var item domain.Notification
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, title, message, severity, alert_id, goal_id, metric_value, threshold_value, metadata, created_at
		 FROM notifications WHERE id = ?`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ExistsForGoal(ctx context.Context, db *gorm.DB, goalID string, from, to time.Time) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM notifications WHERE goal_id = ? AND created_at >= ? AND created_at < ?`,
		goalID,
		from.UTC(),
		to.UTC(),
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
