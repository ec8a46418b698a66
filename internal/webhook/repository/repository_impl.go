package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glacestorm/crmalerts/internal/webhook/domain"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type channelRow struct {
	ID          string
	Name        string
	Description string
	IsActive    bool
}

func (r *repo) FindActiveChannel(ctx context.Context, db *gorm.DB, name string) (*domain.Channel, error) {
	var row channelRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, COALESCE(description, '') AS description, is_active
		 FROM webhook_channels
		 WHERE name = ? AND is_active = ?`,
		name,
		true,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == "" {
		return nil, nil
	}
	return &domain.Channel{ID: row.ID, Name: row.Name, Description: row.Description, IsActive: row.IsActive}, nil
}

type webhookRow struct {
	ID              string
	ChannelID       string
	Name            string
	URL             string
	SecretKey       string
	Headers         datatypes.JSON
	MaxRetries      int
	RetryDelayMS    int `gorm:"column:retry_delay_ms"`
	Events          pq.StringArray
	IsActive        bool
	FailureCount    int
	LastTriggeredAt *time.Time
}

func (r *repo) ListActiveWebhooks(ctx context.Context, db *gorm.DB, channelID string) ([]domain.Webhook, error) {
	var rows []webhookRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, channel_id, name, url, COALESCE(secret_key, '') AS secret_key, headers,
			max_retries, retry_delay_ms, events, is_active, failure_count, last_triggered_at
		 FROM webhooks
		 WHERE channel_id = ? AND is_active = ?
		 ORDER BY created_at, id`,
		channelID,
		true,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Webhook, 0, len(rows))
	for _, row := range rows {
		headers, err := decodeHeaders(row.Headers)
		if err != nil {
			return nil, fmt.Errorf("webhook %s headers: %w", row.ID, err)
		}
		out = append(out, domain.Webhook{
			ID:              row.ID,
			ChannelID:       row.ChannelID,
			Name:            row.Name,
			URL:             row.URL,
			SecretKey:       row.SecretKey,
			Headers:         headers,
			MaxRetries:      row.MaxRetries,
			RetryDelayMS:    row.RetryDelayMS,
			Events:          []string(row.Events),
			IsActive:        row.IsActive,
			FailureCount:    row.FailureCount,
			LastTriggeredAt: row.LastTriggeredAt,
		})
	}
	return out, nil
}

// decodeHeaders accepts any JSON object; non-string values are rendered as JSON text.
func decodeHeaders(raw datatypes.JSON) (map[string]string, error) {
	out := map[string]string{}
	if len(raw) == 0 {
		return out, nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	for key, value := range values {
		switch v := value.(type) {
		case string:
			out[key] = v
		case nil:
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			out[key] = string(encoded)
		}
	}
	return out, nil
}

func (r *repo) InsertLog(ctx context.Context, db *gorm.DB, log domain.DeliveryLog) error {
	return db.WithContext(ctx).Create(&log).Error
}

func (r *repo) MarkSuccess(ctx context.Context, db *gorm.DB, webhookID string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhooks SET failure_count = 0, last_triggered_at = ? WHERE id = ?`,
		at.UTC(),
		webhookID,
	).Error
}

func (r *repo) IncrementFailure(ctx context.Context, db *gorm.DB, webhookID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhooks SET failure_count = failure_count + 1 WHERE id = ?`,
		webhookID,
	).Error
}
