package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/glacestorm/crmalerts/internal/clock"
	"github.com/glacestorm/crmalerts/internal/config"
	notificationdomain "github.com/glacestorm/crmalerts/internal/notification/domain"
	"github.com/glacestorm/crmalerts/internal/observability/metrics"
	"github.com/glacestorm/crmalerts/internal/webhook/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// timestampLayout matches the millisecond UTC form receivers parse.
const timestampLayout = "2006-01-02T15:04:05.000Z"

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Repo             domain.Repository
	NotificationRepo notificationdomain.Repository
	Alerting         *config.AlertingConfigHolder `optional:"true"`
	HTTPClient       *http.Client                 `optional:"true"`
	Pipeline         *metrics.PipelineMetrics     `optional:"true"`
	Metrics          *metrics.Metrics             `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	notifRepo notificationdomain.Repository
	alerting  *config.AlertingConfigHolder
	client    *http.Client
	pipeline  *metrics.PipelineMetrics
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func New(p Params) domain.Service {
	client := p.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("webhook.service"),
		genID:     p.GenID,
		clock:     clk,
		repo:      p.Repo,
		notifRepo: p.NotificationRepo,
		alerting:  p.Alerting,
		client:    client,
		pipeline:  p.Pipeline,
		metrics:   p.Metrics,
		tracer:    otel.Tracer("crmalerts/webhook"),
	}
}

func (s *Service) Dispatch(ctx context.Context, req domain.DispatchRequest) (domain.DispatchResult, error) {
	if err := req.Validate(); err != nil {
		return domain.DispatchResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "webhook.dispatch", trace.WithAttributes(
		attribute.String("crm.channel", req.ChannelName),
		attribute.String("crm.event_type", req.EventType),
	))
	defer span.End()

	channel, err := s.repo.FindActiveChannel(ctx, s.db, req.ChannelName)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("find channel: %w", err)
	}
	if channel == nil {
		s.log.Debug("webhook channel not found", zap.String("channel", req.ChannelName))
		return domain.EmptyResult(), nil
	}

	hooks, err := s.repo.ListActiveWebhooks(ctx, s.db, channel.ID)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("list webhooks: %w", err)
	}
	subscribed := make([]domain.Webhook, 0, len(hooks))
	for _, hook := range hooks {
		if hook.Subscribes(req.EventType) {
			subscribed = append(subscribed, hook)
		}
	}
	if len(subscribed) == 0 {
		return domain.EmptyResult(), nil
	}

	notification, err := s.notifRepo.FindByID(ctx, s.db, req.NotificationID)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("load notification: %w", err)
	}
	if notification == nil {
		return domain.DispatchResult{}, domain.ErrNotificationNotFound
	}

	timestamp := s.clock.Now().UTC().Format(timestampLayout)
	body, err := json.Marshal(buildPayload(req, notification, timestamp))
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("encode payload: %w", err)
	}

	cfg := s.alerting.Get()
	env := envelope{
		notificationID: req.NotificationID,
		eventType:      req.EventType,
		timestamp:      timestamp,
		body:           body,
	}

	// Deliveries outlive the caller: a dropped request must not cut retries short.
	deliveryCtx := context.WithoutCancel(ctx)
	results := make([]domain.WebhookResult, len(subscribed))
	var g errgroup.Group
	if cfg.Concurrency > 0 {
		g.SetLimit(cfg.Concurrency)
	}
	for i, hook := range subscribed {
		g.Go(func() error {
			results[i] = s.deliver(deliveryCtx, hook, env, cfg)
			return nil
		})
	}
	_ = g.Wait()

	out := domain.DispatchResult{Dispatched: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			out.Successful++
		}
		s.metrics.RecordDispatch(ctx, req.ChannelName, req.EventType, r.Success)
	}
	span.SetAttributes(
		attribute.Int("crm.dispatched", out.Dispatched),
		attribute.Int("crm.successful", out.Successful),
	)
	s.log.Info("webhook dispatch finished",
		zap.String("notification_id", req.NotificationID),
		zap.String("channel", req.ChannelName),
		zap.String("event_type", req.EventType),
		zap.Int("dispatched", out.Dispatched),
		zap.Int("successful", out.Successful),
	)
	return out, nil
}

func buildPayload(req domain.DispatchRequest, n *notificationdomain.Notification, timestamp string) domain.Payload {
	metadata := map[string]any(n.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	return domain.Payload{
		NotificationID: req.NotificationID,
		ChannelName:    req.ChannelName,
		EventType:      req.EventType,
		Title:          n.Title,
		Message:        n.Message,
		Severity:       string(n.Severity),
		Metadata:       metadata,
		Timestamp:      timestamp,
	}
}
