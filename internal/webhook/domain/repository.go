package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// FindActiveChannel returns nil when no active channel carries name.
	FindActiveChannel(ctx context.Context, db *gorm.DB, name string) (*Channel, error)
	ListActiveWebhooks(ctx context.Context, db *gorm.DB, channelID string) ([]Webhook, error)
	InsertLog(ctx context.Context, db *gorm.DB, log DeliveryLog) error
	MarkSuccess(ctx context.Context, db *gorm.DB, webhookID string, at time.Time) error
	IncrementFailure(ctx context.Context, db *gorm.DB, webhookID string) error
}
