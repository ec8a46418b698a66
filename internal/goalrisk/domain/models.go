package domain

import "time"

type Goal struct {
	ID          string
	Title       string
	MetricType  string
	TargetValue float64
	PeriodStart time.Time
	PeriodEnd   time.Time
	AssignedTo  string
}

// CheckResult summarizes one monitor run.
type CheckResult struct {
	GoalsChecked  int `json:"goals_checked"`
	AlertsSent    int `json:"alerts_sent"`
	GoalsAtRisk   int `json:"goals_at_risk"`
	GoalsCritical int `json:"goals_critical"`
	Errors        int `json:"errors"`
}

// RiskMark claims the single risk notification a goal may receive per day.
type RiskMark struct {
	GoalID    string    `gorm:"primaryKey"`
	CheckDate string    `gorm:"primaryKey"`
	RiskLevel RiskLevel `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (RiskMark) TableName() string { return "goal_risk_marks" }
