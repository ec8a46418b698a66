package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/glacestorm/crmalerts/internal/config"
	"github.com/glacestorm/crmalerts/internal/observability/metrics"
	"github.com/glacestorm/crmalerts/internal/observability/tracing"
	"github.com/glacestorm/crmalerts/internal/webhook/domain"
	"github.com/glacestorm/crmalerts/internal/webhook/signature"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderDelivery  = "X-Webhook-Delivery"
)

// envelope is the serialized payload shared by every webhook of a dispatch.
type envelope struct {
	notificationID string
	eventType      string
	timestamp      string
	body           []byte
}

type attempt struct {
	status   int
	body     string
	err      error
	duration time.Duration
}

func (a attempt) succeeded() bool {
	return a.err == nil && a.status >= 200 && a.status < 300
}

// terminal client errors are never retried; 429 is.
func (a attempt) terminal() bool {
	return a.err == nil && a.status >= 400 && a.status < 500 && a.status != http.StatusTooManyRequests
}

func (a attempt) errorMessage() string {
	if a.err != nil {
		return a.err.Error()
	}
	if a.succeeded() {
		return ""
	}
	return fmt.Sprintf("HTTP %d", a.status)
}

// deliver runs the retry loop for one webhook. Attempts are sequential and
// every attempt is logged; failure_count moves once per dispatch.
func (s *Service) deliver(ctx context.Context, hook domain.Webhook, env envelope, cfg config.DispatchConfig) domain.WebhookResult {
	headers := buildHeaders(hook, env, ulid.Make().String())
	maxRetries := hook.MaxRetries
	if maxRetries < 0 {
		maxRetries = cfg.DefaultMaxRetries
	}
	delay := time.Duration(hook.RetryDelayMS) * time.Millisecond
	if hook.RetryDelayMS < 0 {
		delay = cfg.DefaultRetryDelay
	}

	log := s.log.With(
		zap.String("webhook_id", hook.ID),
		zap.String("notification_id", env.notificationID),
		zap.String("delivery_id", headers.Get(HeaderDelivery)),
	)

	retryCount := 0
	var total time.Duration
	for {
		a := s.post(ctx, hook.URL, headers, env.body, cfg)
		total += a.duration
		s.pipeline.ObserveDeliveryAttempt(metrics.DeliveryOutcome(a.status), a.duration)
		s.appendLog(ctx, log, hook, env, headers.Get(HeaderDelivery), retryCount, a, cfg.ResponseBodyLimit)

		switch {
		case a.succeeded():
			if err := s.repo.MarkSuccess(ctx, s.db, hook.ID, s.clock.Now()); err != nil {
				log.Error("failed to reset webhook failure count", zap.Error(err))
			}
			return resultOf(hook, a, total)
		case a.terminal():
			log.Warn("webhook rejected delivery", zap.Int("status", a.status))
			s.markFailed(ctx, log, hook)
			return resultOf(hook, a, total)
		}

		retryCount++
		if retryCount > maxRetries {
			log.Warn("webhook delivery exhausted retries",
				zap.Int("attempts", retryCount),
				zap.String("error", a.errorMessage()),
			)
			s.pipeline.IncDeliveryExhausted()
			s.markFailed(ctx, log, hook)
			return resultOf(hook, a, total)
		}
		if err := s.clock.Sleep(ctx, delay*time.Duration(retryCount)); err != nil {
			s.markFailed(ctx, log, hook)
			return resultOf(hook, attempt{err: err}, total)
		}
	}
}

func (s *Service) post(ctx context.Context, url string, headers http.Header, body []byte, cfg config.DispatchConfig) attempt {
	ctx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return attempt{err: err}
	}
	req.Header = headers.Clone()
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := s.client.Do(req)
	if err != nil {
		return attempt{err: err, duration: time.Since(start)}
	}
	defer resp.Body.Close()

	limit := int64(cfg.ResponseBodyLimit)
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, limit))
	return attempt{status: resp.StatusCode, body: string(raw), duration: time.Since(start)}
}

// buildHeaders layers defaults, custom headers and the signature, in that
// order. Custom headers may override defaults but never the signature.
func buildHeaders(hook domain.Webhook, env envelope, deliveryID string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(HeaderEvent, env.eventType)
	h.Set(HeaderTimestamp, env.timestamp)
	h.Set(HeaderDelivery, deliveryID)
	for key, value := range hook.Headers {
		h.Set(key, value)
	}
	if hook.HasSecret() {
		h.Set(signature.Header, signature.SignatureHeader(hook.SecretKey, env.body))
	}
	return h
}

func (s *Service) appendLog(ctx context.Context, log *zap.Logger, hook domain.Webhook, env envelope, deliveryID string, retryCount int, a attempt, limit int) {
	entry := domain.DeliveryLog{
		ID:             s.genID.Generate().String(),
		WebhookID:      hook.ID,
		NotificationID: &env.notificationID,
		DeliveryID:     deliveryID,
		Payload:        datatypes.JSON(env.body),
		DurationMS:     a.duration.Milliseconds(),
		Success:        a.succeeded(),
		RetryCount:     retryCount,
		CreatedAt:      s.clock.Now().UTC(),
	}
	if a.err == nil && a.status != 0 {
		status := a.status
		body := truncate(a.body, limit)
		entry.ResponseStatus = &status
		entry.ResponseBody = &body
	}
	if msg := a.errorMessage(); msg != "" {
		entry.ErrorMessage = &msg
	}
	if err := s.repo.InsertLog(ctx, s.db, entry); err != nil {
		log.Error("failed to write delivery log", zap.Int("retry_count", retryCount), zap.Error(err))
	}
}

func (s *Service) markFailed(ctx context.Context, log *zap.Logger, hook domain.Webhook) {
	if err := s.repo.IncrementFailure(ctx, s.db, hook.ID); err != nil {
		log.Error("failed to increment webhook failure count", zap.Error(err))
	}
}

func resultOf(hook domain.Webhook, a attempt, total time.Duration) domain.WebhookResult {
	r := domain.WebhookResult{
		WebhookID:   hook.ID,
		WebhookName: hook.Name,
		Success:     a.succeeded(),
		Error:       a.errorMessage(),
		DurationMS:  total.Milliseconds(),
	}
	if a.err == nil && a.status != 0 {
		status := a.status
		r.Status = &status
	}
	return r
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "")
}
