package domain

import (
	"math"
	"time"

	notificationdomain "github.com/glacestorm/crmalerts/internal/notification/domain"
)

type RiskLevel string

const (
	RiskOnTrack  RiskLevel = "on_track"
	RiskAtRisk   RiskLevel = "at_risk"
	RiskCritical RiskLevel = "critical"
)

// Severity maps a risk level to the notification tier. The monitor never
// emits critical severity.
func (l RiskLevel) Severity() notificationdomain.Severity {
	if l == RiskCritical {
		return notificationdomain.SeverityHigh
	}
	return notificationdomain.SeverityMedium
}

// EventType is the webhook event published for notifications at this level.
func (l RiskLevel) EventType() string {
	if l == RiskCritical {
		return notificationdomain.EventGoalCritical
	}
	return notificationdomain.EventGoalAtRisk
}

type Assessment struct {
	Current    float64
	Target     float64
	Percentage float64
	Expected   float64
	Gap        float64
	Level      RiskLevel
}

// Percentage is progress toward target, bounded to [0, 100]. A goal without a
// positive target has no measurable progress.
func Percentage(current, target float64) float64 {
	if target <= 0 {
		return 0
	}
	pct := current / target * 100
	return math.Max(0, math.Min(100, pct))
}

// ExpectedProgress is the linear pacing share of the period elapsed by day,
// counted in calendar days.
func ExpectedProgress(periodStart, periodEnd, day time.Time) float64 {
	total := calendarDays(periodStart, periodEnd)
	if total <= 0 {
		return 0
	}
	elapsed := calendarDays(periodStart, day)
	return math.Max(0, elapsed/total*100)
}

// Classify keeps both thresholds as independent predicates; critical wins.
func Classify(percentage, gap float64) RiskLevel {
	critical := gap > 40 && percentage < 60
	atRisk := gap > 20 && percentage < 80
	switch {
	case critical:
		return RiskCritical
	case atRisk:
		return RiskAtRisk
	default:
		return RiskOnTrack
	}
}

func Assess(current float64, goal Goal, day time.Time) Assessment {
	pct := Percentage(current, goal.TargetValue)
	expected := ExpectedProgress(goal.PeriodStart, goal.PeriodEnd, day)
	gap := expected - pct
	return Assessment{
		Current:    current,
		Target:     goal.TargetValue,
		Percentage: pct,
		Expected:   expected,
		Gap:        gap,
		Level:      Classify(pct, gap),
	}
}

func calendarDays(from, to time.Time) float64 {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return b.Sub(a).Hours() / 24
}
