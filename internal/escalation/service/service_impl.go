package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/glacestorm/crmalerts/internal/clock"
	directorydomain "github.com/glacestorm/crmalerts/internal/directory/domain"
	"github.com/glacestorm/crmalerts/internal/escalation/domain"
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
	Repo             domain.Repository
	NotificationRepo notificationdomain.Repository
	DirectoryRepo    directorydomain.Repository
	Publisher        notificationdomain.Publisher `optional:"true"`
	Pipeline         *metrics.PipelineMetrics     `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	notifRepo notificationdomain.Repository
	dirRepo   directorydomain.Repository
	publisher notificationdomain.Publisher
	pipeline  *metrics.PipelineMetrics
}

func New(p Params) domain.Service {
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
		log:       p.Log.Named("escalation.service"),
		genID:     p.GenID,
		clock:     clk,
		repo:      p.Repo,
		notifRepo: p.NotificationRepo,
		dirRepo:   p.DirectoryRepo,
		publisher: publisher,
		pipeline:  p.Pipeline,
	}
}

func (s *Service) Run(ctx context.Context) (domain.RunResult, error) {
	candidates, err := s.repo.ListOpenCandidates(ctx, s.db)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("list open alert instances: %w", err)
	}

	now := s.clock.Now().UTC()
	result := domain.RunResult{}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		if !domain.CanEscalate(c.Instance, c.Definition, now) {
			continue
		}

		sent, applied, err := s.escalate(ctx, c)
		if err != nil {
			result.Errors++
			s.log.Error("alert escalation failed",
				zap.String("alert_id", c.Definition.ID),
				zap.String("instance_id", c.Instance.ID),
				zap.Int("escalation_level", c.Instance.EscalationLevel),
				zap.Error(err),
			)
			continue
		}
		if !applied {
			continue
		}
		result.EscalatedCount++
		result.NotificationsSent += sent
	}

	s.pipeline.AddNotifications(metrics.NotificationSourceEscalation, result.NotificationsSent)
	s.log.Info("alert escalation finished",
		zap.Int("checked", result.Checked),
		zap.Int("escalated", result.EscalatedCount),
		zap.Int("notifications_sent", result.NotificationsSent),
		zap.Int("errors", result.Errors),
	)
	return result, nil
}

// escalate moves one instance up a level. The transition is applied even when
// nobody new qualifies, so the instance keeps climbing on later runs.
func (s *Service) escalate(ctx context.Context, c domain.Candidate) (int, bool, error) {
	in := c.Instance
	machine := domain.MachineFor(c.Definition)
	now := s.clock.Now().UTC()

	next, err := machine.Escalate(in.State(), in.Idle(now))
	if err != nil {
		return 0, false, err
	}

	qualifying, err := s.qualifyingRecipients(ctx, in, next.Level)
	if err != nil {
		return 0, false, err
	}
	added := domain.NewRecipients(in.NotifiedTo, qualifying)
	transition := domain.Transition{
		InstanceID:  in.ID,
		FromLevel:   in.EscalationLevel,
		ToLevel:     next.Level,
		EscalatedAt: now,
		NotifiedTo:  domain.Union(in.NotifiedTo, added),
	}
	items := s.buildNotifications(c, next.Level, added)

	applied := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.ApplyTransition(ctx, tx, transition)
		if err != nil {
			return fmt.Errorf("apply transition: %w", err)
		}
		if !ok {
			return nil
		}
		applied = true
		return s.notifRepo.InsertBatch(ctx, tx, items)
	})
	if err != nil {
		return 0, false, err
	}
	if !applied {
		s.log.Debug("alert instance changed concurrently",
			zap.String("instance_id", in.ID),
			zap.Int("escalation_level", in.EscalationLevel),
		)
		return 0, false, nil
	}

	s.pipeline.IncEscalation(next.Level)
	s.log.Info("alert escalated",
		zap.String("alert_id", c.Definition.ID),
		zap.String("instance_id", in.ID),
		zap.Int("from_level", in.EscalationLevel),
		zap.Int("to_level", next.Level),
		zap.Int("new_recipients", len(added)),
	)
	if len(items) > 0 {
		s.publisher.Publish(ctx, notificationdomain.EventAlertEscalated, items)
	}
	return len(items), true, nil
}

func (s *Service) qualifyingRecipients(ctx context.Context, in domain.Instance, level int) ([]string, error) {
	var out []string
	for _, role := range domain.RolesForLevel(level) {
		if role == directorydomain.RoleOfficeDirector {
			office, err := s.targetOffice(ctx, in)
			if err != nil {
				return nil, err
			}
			if office == "" {
				continue
			}
			ids, err := s.dirRepo.ListUserIDsByRoleInOffice(ctx, s.db, role, office)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrRecipientResolving, err)
			}
			out = append(out, ids...)
			continue
		}
		ids, err := s.dirRepo.ListUserIDsByRoles(ctx, s.db, role)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrRecipientResolving, err)
		}
		out = append(out, ids...)
	}
	return out, nil
}

// targetOffice prefers the explicit office, then the office of the target gestor.
func (s *Service) targetOffice(ctx context.Context, in domain.Instance) (string, error) {
	if in.TargetOffice != "" {
		return in.TargetOffice, nil
	}
	if in.TargetGestorID == "" {
		return "", nil
	}
	profile, err := s.dirRepo.FindProfile(ctx, s.db, in.TargetGestorID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrRecipientResolving, err)
	}
	if profile == nil {
		return "", nil
	}
	return profile.OfficeName(), nil
}

func (s *Service) buildNotifications(c domain.Candidate, level int, recipients []string) []notificationdomain.Notification {
	if len(recipients) == 0 {
		return nil
	}
	now := s.clock.Now().UTC()
	hoursOpen := int(now.Sub(c.Instance.TriggeredAt).Hours())
	title := fmt.Sprintf("Escalated alert (level %d): %s", level, c.Definition.Name)
	message := fmt.Sprintf("The alert %q has been unresolved for %d hours and was escalated to level %d.",
		c.Definition.Name, hoursOpen, level)

	items := make([]notificationdomain.Notification, 0, len(recipients))
	for _, userID := range recipients {
		alertID := c.Definition.ID
		items = append(items, notificationdomain.Notification{
			ID:       s.genID.Generate().String(),
			UserID:   userID,
			Title:    title,
			Message:  message,
			Severity: domain.SeverityForLevel(level),
			AlertID:  &alertID,
			Metadata: datatypes.JSONMap{
				"source":            "alert_escalation",
				"alert_instance_id": c.Instance.ID,
				"escalation_level":  level,
				"previous_level":    c.Instance.EscalationLevel,
				"target_type":       string(c.Instance.TargetType),
				"hours_open":        hoursOpen,
			},
			CreatedAt: now,
		})
	}
	return items
}
