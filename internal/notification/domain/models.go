package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Notification is a user-facing message. Rows are append-only for this service.
type Notification struct {
	ID             string            `gorm:"primaryKey" json:"id"`
	UserID         string            `gorm:"not null;index" json:"user_id"`
	Title          string            `gorm:"not null" json:"title"`
	Message        string            `gorm:"not null" json:"message"`
	Severity       Severity          `gorm:"not null" json:"severity"`
	AlertID        *string           `json:"alert_id,omitempty"`
	GoalID         *string           `json:"goal_id,omitempty"`
	MetricValue    *float64          `json:"metric_value,omitempty"`
	ThresholdValue *float64          `json:"threshold_value,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
