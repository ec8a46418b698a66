package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glacestorm/crmalerts/internal/clock"
	escalationdomain "github.com/glacestorm/crmalerts/internal/escalation/domain"
	goalriskdomain "github.com/glacestorm/crmalerts/internal/goalrisk/domain"
	"github.com/glacestorm/crmalerts/internal/metricspush"
	obsmetrics "github.com/glacestorm/crmalerts/internal/observability/metrics"
	"github.com/glacestorm/crmalerts/internal/runlock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	GoalRiskSvc   goalriskdomain.Service
	EscalationSvc escalationdomain.Service
	Locker        runlock.Locker
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        Config              `optional:"true"`
	Pusher        metricspush.Pusher  `optional:"true"`
	Gatherer      prometheus.Gatherer `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	locker        runlock.Locker
	goalRiskSvc   goalriskdomain.Service
	escalationSvc escalationdomain.Service
	pusher        metricspush.Pusher
	gatherer      prometheus.Gatherer
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GoalRiskSvc == nil || p.EscalationSvc == nil || p.Locker == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		locker:        p.Locker,
		goalRiskSvc:   p.GoalRiskSvc,
		escalationSvc: p.EscalationSvc,
		pusher:        p.Pusher,
		gatherer:      p.Gatherer,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	schedMetrics := obsmetrics.Scheduler()
	lockKey := s.cfg.LockPrefix + name
	token, acquired, err := s.locker.TryLock(parent, lockKey, s.cfg.LockTTL)
	if err != nil {
		schedMetrics.IncJobError(name, err)
		return fmt.Errorf("%s: acquire run lock: %w", name, err)
	}
	if !acquired {
		schedMetrics.IncJobSkipped(name, obsmetrics.SchedulerSkipReasonLockHeld)
		s.log.Info("scheduler.job.skipped", zap.String("job", name), zap.String("reason", obsmetrics.SchedulerSkipReasonLockHeld))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(parent), lockKey, token); err != nil {
			s.log.Warn("scheduler.lock.release_failed", zap.String("job", name), zap.Error(err))
		}
	}()

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics.IncJobRun(name)

	err = fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout: the next tick picks up where this one stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{JobGoalRiskMonitor, s.cfg.GoalRiskTimeout, s.GoalRiskJob},
		{JobAlertEscalation, s.cfg.EscalationTimeout, s.EscalationJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			obsmetrics.Scheduler().IncJobSkipped(job.Name, obsmetrics.SchedulerSkipReasonDisabled)
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Timeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		s.pushMetrics(ctx)
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) pushMetrics(ctx context.Context) {
	if s.pusher == nil {
		return
	}
	gatherer := s.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if err := s.pusher.Push(ctx, gatherer); err != nil {
		s.log.Warn("scheduler.metrics_push.failed", zap.Error(err))
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) GoalRiskJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	result, err := s.goalRiskSvc.RunCheck(ctx)
	run.AddProcessed(result.GoalsChecked)
	obsmetrics.Scheduler().AddBatchProcessed(JobGoalRiskMonitor, "goals", result.GoalsChecked)
	for i := 0; i < result.Errors; i++ {
		run.IncError()
	}
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.goal_risk.failed", JobGoalRiskMonitor, err)
		return err
	}
	s.logger(ctx).Info("scheduler.goal_risk.done",
		zap.Int("goals_checked", result.GoalsChecked),
		zap.Int("alerts_sent", result.AlertsSent),
	)
	return nil
}

func (s *Scheduler) EscalationJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	result, err := s.escalationSvc.Run(ctx)
	run.AddProcessed(result.EscalatedCount)
	obsmetrics.Scheduler().AddBatchProcessed(JobAlertEscalation, "alert_instances", result.Checked)
	for i := 0; i < result.Errors; i++ {
		run.IncError()
	}
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.escalation.failed", JobAlertEscalation, err)
		return err
	}
	s.logger(ctx).Info("scheduler.escalation.done",
		zap.Int("escalated", result.EscalatedCount),
		zap.Int("notifications_sent", result.NotificationsSent),
	)
	return nil
}
