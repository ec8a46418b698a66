package domain

import "context"

// Event types published for freshly written notifications.
const (
	EventGoalAtRisk     = "goal.at_risk"
	EventGoalCritical   = "goal.critical"
	EventAlertEscalated = "alert.escalated"
)

// Publisher fans notifications out to external channels after they are
// committed. Implementations must not fail the caller; delivery problems are
// theirs to log.
type Publisher interface {
	Publish(ctx context.Context, eventType string, items []Notification)
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []Notification) {}
