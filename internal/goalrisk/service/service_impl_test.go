package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glacestorm/crmalerts/internal/clock"
	"github.com/glacestorm/crmalerts/internal/config"
	directoryrepo "github.com/glacestorm/crmalerts/internal/directory/repository"
	"github.com/glacestorm/crmalerts/internal/goalrisk/domain"
	"github.com/glacestorm/crmalerts/internal/goalrisk/metric"
	goalriskrepo "github.com/glacestorm/crmalerts/internal/goalrisk/repository"
	notificationdomain "github.com/glacestorm/crmalerts/internal/notification/domain"
	notificationrepo "github.com/glacestorm/crmalerts/internal/notification/repository"
	"github.com/glacestorm/crmalerts/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type capturedEvent struct {
	eventType string
	items     []notificationdomain.Notification
}

type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (p *capturePublisher) Publish(_ context.Context, eventType string, items []notificationdomain.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{eventType: eventType, items: items})
}

type fixture struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	publisher *capturePublisher
	svc       domain.Service
}

var periodStart = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, registry *metric.Registry) *fixture {
	t.Helper()

	conn := dbtest.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(periodStart.AddDate(0, 0, 15).Add(9 * time.Hour))
	publisher := &capturePublisher{}
	svc := New(Params{
		DB:               conn,
		Log:              zaptest.NewLogger(t),
		GenID:            node,
		Clock:            clk,
		Cfg:              config.Config{Timezone: "UTC"},
		Repo:             goalriskrepo.Provide(),
		NotificationRepo: notificationrepo.Provide(),
		DirectoryRepo:    directoryrepo.Provide(),
		Metrics:          registry,
		Publisher:        publisher,
	})
	return &fixture{db: conn, clock: clk, publisher: publisher, svc: svc}
}

func seedTeam(t *testing.T, conn *gorm.DB) {
	dbtest.SeedProfile(t, conn, "gestor-1", "Madrid Centro", "gestor")
	dbtest.SeedProfile(t, conn, "od-madrid", "Madrid Centro", "office_director")
	dbtest.SeedProfile(t, conn, "od-bcn", "Barcelona", "office_director")
	dbtest.SeedProfile(t, conn, "cd-1", "", "commercial_director")
	dbtest.SeedProfile(t, conn, "admin-1", "", "superadmin", "commercial_director")
}

func seedVisitGoal(t *testing.T, conn *gorm.DB, id string) {
	dbtest.SeedGoal(t, conn, dbtest.Goal{
		ID:          id,
		MetricType:  metric.Visits,
		Target:      100,
		PeriodStart: periodStart,
		PeriodEnd:   periodStart.AddDate(0, 0, 30),
		AssignedTo:  "gestor-1",
	})
}

func recipientsOf(t *testing.T, conn *gorm.DB, goalID string) []string {
	t.Helper()
	var ids []string
	require.NoError(t, conn.Raw(
		`SELECT user_id FROM notifications WHERE goal_id = ? ORDER BY user_id`, goalID,
	).Scan(&ids).Error)
	return ids
}

func TestRunCheckOnTrackSendsNothing(t *testing.T) {
	f := newFixture(t, nil)
	seedTeam(t, f.db)
	seedVisitGoal(t, f.db, "goal-1")
	dbtest.SeedVisits(t, f.db, "gestor-1", periodStart.AddDate(0, 0, 2), "successful", 40)

	result, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.CheckResult{GoalsChecked: 1}, result)
	assert.Zero(t, dbtest.Count(t, f.db, "notifications", ""))
	assert.Empty(t, f.publisher.events)
}

func TestRunCheckCountsRecordsDatedLaterInThePeriod(t *testing.T) {
	f := newFixture(t, nil)
	seedTeam(t, f.db)
	seedVisitGoal(t, f.db, "goal-1")
	dbtest.SeedVisits(t, f.db, "gestor-1", periodStart.AddDate(0, 0, 20), "successful", 60)

	result, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.CheckResult{GoalsChecked: 1}, result)
	assert.Zero(t, dbtest.Count(t, f.db, "notifications", ""))
}

func TestRunCheckIgnoresRecordsAfterThePeriod(t *testing.T) {
	f := newFixture(t, nil)
	seedTeam(t, f.db)
	seedVisitGoal(t, f.db, "goal-1")
	dbtest.SeedVisits(t, f.db, "gestor-1", periodStart.AddDate(0, 0, 20), "successful", 20)
	dbtest.SeedVisits(t, f.db, "gestor-1", periodStart.AddDate(0, 0, 31), "successful", 80)

	result, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.GoalsAtRisk)
	assert.Equal(t, 0, result.GoalsCritical)
	assert.Equal(t, 4, result.AlertsSent)
}

func TestRunCheckAtRiskNotifiesOwnerDirectorsAndOffice(t *testing.T) {
	f := newFixture(t, nil)
	seedTeam(t, f.db)
	seedVisitGoal(t, f.db, "goal-1")
	dbtest.SeedVisits(t, f.db, "gestor-1", periodStart.AddDate(0, 0, 2), "successful", 20)

	result, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.GoalsChecked)
	assert.Equal(t, 1, result.GoalsAtRisk)
	assert.Equal(t, 0, result.GoalsCritical)
	assert.Equal(t, 4, result.AlertsSent)

	assert.Equal(t, []string{"admin-1", "cd-1", "gestor-1", "od-madrid"}, recipientsOf(t, f.db, "goal-1"))
	assert.Equal(t, int64(4), dbtest.Count(t, f.db, "notifications", "severity = ?", "medium"))

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, notificationdomain.EventGoalAtRisk, f.publisher.events[0].eventType)
	assert.Len(t, f.publisher.events[0].items, 4)

	owner := f.publisher.events[0].items[0]
	assert.Equal(t, "gestor-1", owner.UserID)
	assert.Equal(t, true, owner.Metadata["is_owner"])
	assert.Equal(t, "at_risk", owner.Metadata["risk_level"])
	require.NotNil(t, owner.ThresholdValue)
	assert.InDelta(t, 50, *owner.ThresholdValue, 1e-9)
}

func TestRunCheckCriticalUsesHighSeverity(t *testing.T) {
	f := newFixture(t, nil)
	seedTeam(t, f.db)
	seedVisitGoal(t, f.db, "goal-1")
	dbtest.SeedVisits(t, f.db, "gestor-1", periodStart.AddDate(0, 0, 2), "successful", 5)

	result, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.GoalsCritical)
	assert.Equal(t, 0, result.GoalsAtRisk)
	assert.Equal(t, int64(4), dbtest.Count(t, f.db, "notifications", "severity = ?", "high"))
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, notificationdomain.EventGoalCritical, f.publisher.events[0].eventType)
}

func TestRunCheckIsIdempotentWithinTheDay(t *testing.T) {
	f := newFixture(t, nil)
	seedTeam(t, f.db)
	seedVisitGoal(t, f.db, "goal-1")
	dbtest.SeedVisits(t, f.db, "gestor-1", periodStart.AddDate(0, 0, 2), "successful", 20)

	first, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, first.AlertsSent)

	f.clock.Advance(6 * time.Hour)
	second, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.AlertsSent)
	assert.Equal(t, 1, second.GoalsAtRisk)

	assert.Equal(t, int64(4), dbtest.Count(t, f.db, "notifications", "goal_id = ?", "goal-1"))
	assert.Len(t, f.publisher.events, 1)
}

func TestRunCheckNotifiesAgainOnTheNextDay(t *testing.T) {
	f := newFixture(t, nil)
	seedTeam(t, f.db)
	seedVisitGoal(t, f.db, "goal-1")
	dbtest.SeedVisits(t, f.db, "gestor-1", periodStart.AddDate(0, 0, 2), "successful", 20)

	_, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	second, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, second.AlertsSent)
	assert.Equal(t, int64(2), dbtest.Count(t, f.db, "goal_risk_marks", "goal_id = ?", "goal-1"))
}

func TestRunCheckExistingMarkBlocksDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	seedTeam(t, f.db)
	seedVisitGoal(t, f.db, "goal-1")
	dbtest.SeedVisits(t, f.db, "gestor-1", periodStart.AddDate(0, 0, 2), "successful", 20)

	claimed, err := goalriskrepo.Provide().ClaimDailyMark(context.Background(), f.db, domain.RiskMark{
		GoalID:    "goal-1",
		CheckDate: dbtest.Date(f.clock.Now()),
		RiskLevel: domain.RiskAtRisk,
	})
	require.NoError(t, err)
	require.True(t, claimed)

	result, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.AlertsSent)
	assert.Zero(t, dbtest.Count(t, f.db, "notifications", ""))
	assert.Empty(t, f.publisher.events)
}

func TestRunCheckMetricErrorDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t, nil)
	seedTeam(t, f.db)
	dbtest.SeedGoal(t, f.db, dbtest.Goal{
		ID:          "goal-a",
		MetricType:  "not_a_metric",
		Target:      10,
		PeriodStart: periodStart,
		PeriodEnd:   periodStart.AddDate(0, 0, 30),
		AssignedTo:  "gestor-1",
	})
	seedVisitGoal(t, f.db, "goal-b")
	dbtest.SeedVisits(t, f.db, "gestor-1", periodStart.AddDate(0, 0, 2), "successful", 20)

	result, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.GoalsChecked)
	// An unknown metric reads as zero progress, so that goal is critical.
	assert.Equal(t, 1, result.GoalsCritical)
	assert.Equal(t, 1, result.GoalsAtRisk)
	assert.Equal(t, int64(4), dbtest.Count(t, f.db, "notifications", "goal_id = ?", "goal-b"))
}

func TestRunCheckSkipsGoalsOutsideTheirPeriod(t *testing.T) {
	f := newFixture(t, nil)
	seedTeam(t, f.db)
	dbtest.SeedGoal(t, f.db, dbtest.Goal{
		ID:          "goal-old",
		MetricType:  metric.Visits,
		Target:      100,
		PeriodStart: periodStart.AddDate(0, -2, 0),
		PeriodEnd:   periodStart.AddDate(0, -1, 0),
		AssignedTo:  "gestor-1",
	})

	result, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.GoalsChecked)
}

func TestRunCheckUnassignedGoalNotifiesDirectorsOnly(t *testing.T) {
	registry := metric.NewRegistry()
	registry.Register("fixed", func(context.Context, *gorm.DB, metric.Query) (float64, error) {
		return 20, nil
	})
	f := newFixture(t, registry)
	seedTeam(t, f.db)
	dbtest.SeedGoal(t, f.db, dbtest.Goal{
		ID:          "goal-team",
		MetricType:  "fixed",
		Target:      100,
		PeriodStart: periodStart,
		PeriodEnd:   periodStart.AddDate(0, 0, 30),
	})

	result, err := f.svc.RunCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.AlertsSent)
	assert.Equal(t, []string{"admin-1", "cd-1"}, recipientsOf(t, f.db, "goal-team"))
}
