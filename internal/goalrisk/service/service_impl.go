package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glacestorm/crmalerts/internal/clock"
	"github.com/glacestorm/crmalerts/internal/config"
	directorydomain "github.com/glacestorm/crmalerts/internal/directory/domain"
	"github.com/glacestorm/crmalerts/internal/goalrisk/domain"
	"github.com/glacestorm/crmalerts/internal/goalrisk/metric"
	notificationdomain "github.com/glacestorm/crmalerts/internal/notification/domain"
	"github.com/glacestorm/crmalerts/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Cfg              config.Config
	Repo             domain.Repository
	NotificationRepo notificationdomain.Repository
	DirectoryRepo    directorydomain.Repository
	Metrics          *metric.Registry             `optional:"true"`
	Publisher        notificationdomain.Publisher `optional:"true"`
	Pipeline         *metrics.PipelineMetrics     `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	loc       *time.Location
	repo      domain.Repository
	notifRepo notificationdomain.Repository
	dirRepo   directorydomain.Repository
	registry  *metric.Registry
	publisher notificationdomain.Publisher
	pipeline  *metrics.PipelineMetrics
}

func New(p Params) domain.Service {
	registry := p.Metrics
	if registry == nil {
		registry = metric.Default()
	}
	publisher := p.Publisher
	if publisher == nil {
		publisher = notificationdomain.NopPublisher{}
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("goalrisk.service"),
		genID:     p.GenID,
		clock:     clk,
		loc:       p.Cfg.Location(),
		repo:      p.Repo,
		notifRepo: p.NotificationRepo,
		dirRepo:   p.DirectoryRepo,
		registry:  registry,
		publisher: publisher,
		pipeline:  p.Pipeline,
	}
}

func (s *Service) RunCheck(ctx context.Context) (domain.CheckResult, error) {
	now := s.clock.Now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	day := today.Format("2006-01-02")

	goals, err := s.repo.ListActiveGoals(ctx, s.db, day)
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("list active goals: %w", err)
	}

	directors, err := s.dirRepo.ListUserIDsByRoles(ctx, s.db,
		directorydomain.RoleCommercialDirector,
		directorydomain.RoleSuperadmin,
	)
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("list directors: %w", err)
	}

	result := domain.CheckResult{}
	for _, goal := range goals {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.GoalsChecked++

		assessment := domain.Assess(s.currentValue(ctx, goal), goal, today)
		switch assessment.Level {
		case domain.RiskCritical:
			result.GoalsCritical++
		case domain.RiskAtRisk:
			result.GoalsAtRisk++
		default:
			continue
		}
		s.pipeline.IncGoalRisk(string(assessment.Level))

		sent, err := s.notifyGoal(ctx, goal, assessment, directors, today)
		if err != nil {
			result.Errors++
			s.log.Error("goal risk notification failed",
				zap.String("goal_id", goal.ID),
				zap.String("risk_level", string(assessment.Level)),
				zap.Error(err),
			)
			continue
		}
		result.AlertsSent += sent
	}

	s.pipeline.AddGoalsChecked(result.GoalsChecked)
	s.pipeline.AddNotifications(metrics.NotificationSourceGoalRisk, result.AlertsSent)
	s.log.Info("goal risk check finished",
		zap.String("day", day),
		zap.Int("goals_checked", result.GoalsChecked),
		zap.Int("goals_at_risk", result.GoalsAtRisk),
		zap.Int("goals_critical", result.GoalsCritical),
		zap.Int("alerts_sent", result.AlertsSent),
		zap.Int("errors", result.Errors),
	)
	return result, nil
}

// currentValue covers the whole goal period, including records dated after
// today. It never fails the batch: computation errors log and count as zero.
func (s *Service) currentValue(ctx context.Context, goal domain.Goal) float64 {
	value, err := s.registry.Compute(ctx, s.db, goal.MetricType, metric.Query{
		OwnerID: goal.AssignedTo,
		From:    goal.PeriodStart,
		To:      goal.PeriodEnd,
	})
	if err != nil {
		s.pipeline.IncMetricError(goal.MetricType)
		level := zap.ErrorLevel
		if errors.Is(err, domain.ErrUnknownMetric) {
			level = zap.WarnLevel
		}
		s.log.Log(level, "goal metric computation failed",
			zap.String("goal_id", goal.ID),
			zap.String("metric_type", goal.MetricType),
			zap.Error(err),
		)
		return 0
	}
	return value
}

func (s *Service) notifyGoal(ctx context.Context, goal domain.Goal, a domain.Assessment, directors []string, today time.Time) (int, error) {
	dayEnd := today.AddDate(0, 0, 1)
	exists, err := s.notifRepo.ExistsForGoal(ctx, s.db, goal.ID, today, dayEnd)
	if err != nil {
		return 0, fmt.Errorf("check existing notifications: %w", err)
	}
	if exists {
		return 0, nil
	}

	recipients, err := s.recipients(ctx, goal, directors)
	if err != nil {
		return 0, err
	}
	if len(recipients) == 0 {
		return 0, nil
	}

	items := s.buildNotifications(goal, a, recipients)
	claimed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := s.repo.ClaimDailyMark(ctx, tx, domain.RiskMark{
			GoalID:    goal.ID,
			CheckDate: today.Format("2006-01-02"),
			RiskLevel: a.Level,
			CreatedAt: s.clock.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("claim daily mark: %w", err)
		}
		if !won {
			return nil
		}
		claimed = true
		return s.notifRepo.InsertBatch(ctx, tx, items)
	})
	if err != nil {
		return 0, err
	}
	if !claimed {
		s.log.Debug("goal already notified today", zap.String("goal_id", goal.ID))
		return 0, nil
	}

	s.publisher.Publish(ctx, a.Level.EventType(), items)
	return len(items), nil
}

// recipients lists the owner first, then directors and superadmins, then
// office directors sharing the owner's office. Each user appears once.
func (s *Service) recipients(ctx context.Context, goal domain.Goal, directors []string) ([]string, error) {
	seen := map[string]struct{}{}
	out := []string{}
	add := func(ids ...string) {
		for _, id := range ids {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	add(goal.AssignedTo)
	add(directors...)

	if goal.AssignedTo != "" {
		owner, err := s.dirRepo.FindProfile(ctx, s.db, goal.AssignedTo)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrRecipientResolving, err)
		}
		if owner != nil && owner.OfficeName() != "" {
			officeDirectors, err := s.dirRepo.ListUserIDsByRoleInOffice(ctx, s.db, directorydomain.RoleOfficeDirector, owner.OfficeName())
			if err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrRecipientResolving, err)
			}
			add(officeDirectors...)
		}
	}
	return out, nil
}

func (s *Service) buildNotifications(goal domain.Goal, a domain.Assessment, recipients []string) []notificationdomain.Notification {
	now := s.clock.Now().UTC()
	title := fmt.Sprintf("Goal at risk: %s", goal.Title)
	if a.Level == domain.RiskCritical {
		title = fmt.Sprintf("Critical goal: %s", goal.Title)
	}
	message := fmt.Sprintf(
		"Progress is %.1f%% against an expected %.1f%% for this point of the period (gap %.1f points).",
		a.Percentage, a.Expected, a.Gap,
	)

	items := make([]notificationdomain.Notification, 0, len(recipients))
	for _, userID := range recipients {
		goalID := goal.ID
		pct := a.Percentage
		expected := a.Expected
		items = append(items, notificationdomain.Notification{
			ID:             s.genID.Generate().String(),
			UserID:         userID,
			Title:          title,
			Message:        message,
			Severity:       a.Level.Severity(),
			GoalID:         &goalID,
			MetricValue:    &pct,
			ThresholdValue: &expected,
			Metadata: datatypes.JSONMap{
				"source":        "goal_risk_monitor",
				"risk_level":    string(a.Level),
				"metric_type":   goal.MetricType,
				"current_value": a.Current,
				"target_value":  a.Target,
				"gap":           a.Gap,
				"is_owner":      userID == goal.AssignedTo,
			},
			CreatedAt: now,
		})
	}
	return items
}
