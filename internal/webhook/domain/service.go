package domain

import (
	"context"
	"errors"
	"strings"
)

type Service interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}

var (
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrNotificationNotFound = errors.New("notification_not_found")
	ErrDeliveryFailed       = errors.New("delivery_failed")
)

func (r DispatchRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.NotificationID) == "" {
		missing = append(missing, "notification_id")
	}
	if strings.TrimSpace(r.ChannelName) == "" {
		missing = append(missing, "channel_name")
	}
	if strings.TrimSpace(r.EventType) == "" {
		missing = append(missing, "event_type")
	}
	if len(missing) > 0 {
		return errors.Join(ErrInvalidRequest, errors.New("missing required fields: "+strings.Join(missing, ", ")))
	}
	return nil
}
