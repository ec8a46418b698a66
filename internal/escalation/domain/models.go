package domain

import "time"

// Definition is the escalation policy of an alert. Alerts are managed
// externally; the engine only reads them.
type Definition struct {
	ID                 string
	Name               string
	EscalationEnabled  bool
	EscalationHours    int
	MaxEscalationLevel int
}

type TargetType string

const (
	TargetOffice TargetType = "office"
	TargetGestor TargetType = "gestor"
)

// Instance is one triggered occurrence of an alert (a row of alert_history).
type Instance struct {
	ID              string
	AlertID         string
	TriggeredAt     time.Time
	ResolvedAt      *time.Time
	EscalationLevel int
	EscalatedAt     *time.Time
	NotifiedTo      []string
	TargetType      TargetType
	TargetOffice    string
	TargetGestorID  string
}

// Candidate pairs an open instance with the policy that governs it.
type Candidate struct {
	Instance   Instance
	Definition Definition
}

// Transition is the persisted outcome of one escalation step.
type Transition struct {
	InstanceID  string
	FromLevel   int
	ToLevel     int
	EscalatedAt time.Time
	NotifiedTo  []string
}

type RunResult struct {
	Checked           int `json:"checked"`
	EscalatedCount    int `json:"escalated_count"`
	NotificationsSent int `json:"notifications_sent"`
	Errors            int `json:"errors"`
}
