package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, items []Notification) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Notification, error)
	// ExistsForGoal reports whether any notification references goalID in [from, to).
	ExistsForGoal(ctx context.Context, db *gorm.DB, goalID string, from, to time.Time) (bool, error)
}
