package scheduler

import (
	"time"

	"github.com/glacestorm/crmalerts/internal/config"
)

const (
	JobGoalRiskMonitor = "goal_risk_monitor"
	JobAlertEscalation = "alert_escalation"
)

// Config controls the scheduler interval, per-job timeouts and which jobs run.
type Config struct {
	RunInterval       time.Duration
	EnabledJobs       []string
	GoalRiskTimeout   time.Duration
	EscalationTimeout time.Duration
	LockTTL           time.Duration
	LockPrefix        string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Hour,
		GoalRiskTimeout:   10 * time.Minute,
		EscalationTimeout: 5 * time.Minute,
		LockTTL:           15 * time.Minute,
		LockPrefix:        "crmalerts:scheduler:",
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.SchedulerInterval,
		EnabledJobs: cfg.SchedulerJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.GoalRiskTimeout <= 0 {
		c.GoalRiskTimeout = defaults.GoalRiskTimeout
	}
	if c.EscalationTimeout <= 0 {
		c.EscalationTimeout = defaults.EscalationTimeout
	}
	// The lock must outlive the longest job it guards.
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockPrefix == "" {
		c.LockPrefix = defaults.LockPrefix
	}
	return c
}
