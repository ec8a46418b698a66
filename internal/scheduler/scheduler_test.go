package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glacestorm/crmalerts/internal/clock"
	escalationdomain "github.com/glacestorm/crmalerts/internal/escalation/domain"
	goalriskdomain "github.com/glacestorm/crmalerts/internal/goalrisk/domain"
	obsmetrics "github.com/glacestorm/crmalerts/internal/observability/metrics"
	"github.com/glacestorm/crmalerts/internal/runlock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeGoalRisk struct {
	mu     sync.Mutex
	calls  int
	result goalriskdomain.CheckResult
	err    error
}

func (f *fakeGoalRisk) RunCheck(context.Context) (goalriskdomain.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type fakeEscalation struct {
	mu     sync.Mutex
	calls  int
	result escalationdomain.RunResult
	err    error
}

func (f *fakeEscalation) Run(context.Context) (escalationdomain.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func newTestScheduler(t *testing.T, cfg Config, goalRisk *fakeGoalRisk, escalation *fakeEscalation, locker runlock.Locker) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	if locker == nil {
		locker = runlock.NewLocalLocker()
	}
	s, err := New(Params{
		Log:           zaptest.NewLogger(t),
		GoalRiskSvc:   goalRisk,
		EscalationSvc: escalation,
		Locker:        locker,
		GenID:         node,
		Clock:         clock.NewFakeClock(time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)),
		Config:        cfg,
	})
	require.NoError(t, err)
	return s
}

func useTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "crmalerts",
		Environment: "test",
	})
	return registry
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zaptest.NewLogger(t)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := useTestRegistry(t)
	s := newTestScheduler(t, Config{}, &fakeGoalRisk{}, &fakeEscalation{}, nil)

	err := s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "crmalerts",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "crmalerts_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "crmalerts",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "crmalerts_scheduler_job_errors_total", errorLabels))
}

func TestRunOnceRunsBothJobs(t *testing.T) {
	registry := useTestRegistry(t)
	goalRisk := &fakeGoalRisk{result: goalriskdomain.CheckResult{GoalsChecked: 4, AlertsSent: 2}}
	escalation := &fakeEscalation{result: escalationdomain.RunResult{Checked: 3, EscalatedCount: 1, NotificationsSent: 2}}
	s := newTestScheduler(t, Config{}, goalRisk, escalation, nil)

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Equal(t, 1, goalRisk.calls)
	assert.Equal(t, 1, escalation.calls)

	goals := map[string]string{
		"service":  "crmalerts",
		"env":      "test",
		"job":      JobGoalRiskMonitor,
		"resource": "goals",
	}
	assert.Equal(t, float64(4), getCounterValue(t, registry, "crmalerts_scheduler_batch_processed_total", goals))

	runs := map[string]string{
		"service": "crmalerts",
		"env":     "test",
		"job":     JobAlertEscalation,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "crmalerts_scheduler_job_runs_total", runs))
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	useTestRegistry(t)
	boom := errors.New("boom")
	goalRisk := &fakeGoalRisk{err: boom}
	escalation := &fakeEscalation{}
	s := newTestScheduler(t, Config{}, goalRisk, escalation, nil)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobGoalRiskMonitor)
	// A failing job does not stop the next one.
	assert.Equal(t, 1, escalation.calls)
}

func TestRunOnceSkipsDisabledJobs(t *testing.T) {
	registry := useTestRegistry(t)
	goalRisk := &fakeGoalRisk{}
	escalation := &fakeEscalation{}
	s := newTestScheduler(t, Config{EnabledJobs: []string{"ALERT_ESCALATION"}}, goalRisk, escalation, nil)

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Equal(t, 0, goalRisk.calls)
	assert.Equal(t, 1, escalation.calls)

	skipped := map[string]string{
		"service": "crmalerts",
		"env":     "test",
		"job":     JobGoalRiskMonitor,
		"reason":  obsmetrics.SchedulerSkipReasonDisabled,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "crmalerts_scheduler_job_skips_total", skipped))
}

func TestRunOnceSkipsJobWhenLockHeld(t *testing.T) {
	registry := useTestRegistry(t)
	locker := runlock.NewLocalLocker()
	cfg := Config{}.withDefaults()

	// Another replica is already running the escalation job.
	_, ok, err := locker.TryLock(context.Background(), cfg.LockPrefix+JobAlertEscalation, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	goalRisk := &fakeGoalRisk{}
	escalation := &fakeEscalation{}
	s := newTestScheduler(t, Config{}, goalRisk, escalation, locker)

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Equal(t, 1, goalRisk.calls)
	assert.Equal(t, 0, escalation.calls)

	skipped := map[string]string{
		"service": "crmalerts",
		"env":     "test",
		"job":     JobAlertEscalation,
		"reason":  obsmetrics.SchedulerSkipReasonLockHeld,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "crmalerts_scheduler_job_skips_total", skipped))
}

func TestRunJobReleasesLock(t *testing.T) {
	useTestRegistry(t)
	locker := runlock.NewLocalLocker()
	s := newTestScheduler(t, Config{}, &fakeGoalRisk{}, &fakeEscalation{}, locker)

	require.NoError(t, s.RunOnce(context.Background()))

	_, ok, err := locker.TryLock(context.Background(), s.cfg.LockPrefix+JobGoalRiskMonitor, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

type recordingPusher struct {
	pushes   int
	gatherer prometheus.Gatherer
	err      error
}

func (p *recordingPusher) Push(_ context.Context, gatherer prometheus.Gatherer) error {
	p.pushes++
	p.gatherer = gatherer
	return p.err
}

func TestPushMetricsUsesConfiguredGatherer(t *testing.T) {
	registry := useTestRegistry(t)
	pusher := &recordingPusher{err: errors.New("gateway down")}
	s := newTestScheduler(t, Config{}, &fakeGoalRisk{}, &fakeEscalation{}, nil)
	s.pusher = pusher
	s.gatherer = registry

	s.pushMetrics(context.Background())

	assert.Equal(t, 1, pusher.pushes)
	assert.Same(t, registry, pusher.gatherer)
}

func TestPushMetricsWithoutPusherIsNoop(t *testing.T) {
	s := newTestScheduler(t, Config{}, &fakeGoalRisk{}, &fakeEscalation{}, nil)
	assert.NotPanics(t, func() { s.pushMetrics(context.Background()) })
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Hour, cfg.RunInterval)
	assert.Equal(t, 10*time.Minute, cfg.GoalRiskTimeout)
	assert.Equal(t, 5*time.Minute, cfg.EscalationTimeout)
	assert.Equal(t, 15*time.Minute, cfg.LockTTL)
	assert.Equal(t, "crmalerts:scheduler:", cfg.LockPrefix)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
