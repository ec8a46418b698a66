package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Wildcard subscribes a webhook to every event of its channel.
const Wildcard = "*"

type Channel struct {
	ID          string
	Name        string
	Description string
	IsActive    bool
}

type Webhook struct {
	ID              string
	ChannelID       string
	Name            string
	URL             string
	SecretKey       string
	Headers         map[string]string
	MaxRetries      int
	RetryDelayMS    int
	Events          []string
	IsActive        bool
	FailureCount    int
	LastTriggeredAt *time.Time
}

// Subscribes reports whether the webhook wants eventType.
func (w Webhook) Subscribes(eventType string) bool {
	for _, event := range w.Events {
		event = strings.TrimSpace(event)
		if event == Wildcard || event == eventType {
			return true
		}
	}
	return false
}

func (w Webhook) HasSecret() bool {
	return strings.TrimSpace(w.SecretKey) != ""
}

// DeliveryLog is one HTTP attempt. Rows are append-only.
type DeliveryLog struct {
	ID             string `gorm:"primaryKey"`
	WebhookID      string `gorm:"not null"`
	NotificationID *string
	DeliveryID     string         `gorm:"not null"`
	Payload        datatypes.JSON `gorm:"type:jsonb;not null"`
	ResponseStatus *int
	ResponseBody   *string
	DurationMS     int64 `gorm:"column:duration_ms;not null"`
	Success        bool  `gorm:"not null"`
	RetryCount     int   `gorm:"not null"`
	ErrorMessage   *string
	CreatedAt      time.Time `gorm:"not null"`
}

func (DeliveryLog) TableName() string { return "webhook_delivery_logs" }

type DispatchRequest struct {
	NotificationID string `json:"notification_id"`
	ChannelName    string `json:"channel_name"`
	EventType      string `json:"event_type"`
}

// Payload is the body every subscriber receives for one dispatch.
type Payload struct {
	NotificationID string         `json:"notification_id"`
	ChannelName    string         `json:"channel_name"`
	EventType      string         `json:"event_type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Severity       string         `json:"severity"`
	Metadata       map[string]any `json:"metadata"`
	Timestamp      string         `json:"timestamp"`
}

type WebhookResult struct {
	WebhookID   string `json:"webhook_id"`
	WebhookName string `json:"webhook_name"`
	Success     bool   `json:"success"`
	Status      *int   `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

type DispatchResult struct {
	Dispatched int             `json:"dispatched"`
	Successful int             `json:"successful"`
	Results    []WebhookResult `json:"results"`
}

func EmptyResult() DispatchResult {
	return DispatchResult{Results: []WebhookResult{}}
}
