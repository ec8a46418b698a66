package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	NotificationSourceGoalRisk   = "goal_risk"
	NotificationSourceEscalation = "escalation"

	DeliveryOutcomeSuccess      = "success"
	DeliveryOutcomeClientError  = "client_error"
	DeliveryOutcomeServerError  = "server_error"
	DeliveryOutcomeNetworkError = "network_error"
)

// PipelineMetrics covers the monitor, escalation and dispatch stages.
// All methods are safe on a nil receiver.
type PipelineMetrics struct {
	goalsChecked      prometheus.Counter
	goalRisk          *prometheus.CounterVec
	metricErrors      *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	escalations       *prometheus.CounterVec
	deliveryAttempts  *prometheus.CounterVec
	deliveryDuration  prometheus.Observer
	deliveryExhausted prometheus.Counter
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// PipelineWithConfig returns the singleton pipeline metrics registered on the default registry.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = NewPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the pipeline metrics singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

// NewPipelineMetrics registers a fresh set of collectors on registerer.
func NewPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	goalsChecked := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "crmalerts_goals_checked_total",
		Help:        "Goals evaluated by the risk monitor.",
		ConstLabels: constLabels,
	})
	goalRisk := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "crmalerts_goal_risk_total",
		Help:        "Goals classified at risk or critical.",
		ConstLabels: constLabels,
	}, []string{"level"})
	metricErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "crmalerts_goal_metric_errors_total",
		Help:        "Goal metric computations that failed and defaulted to zero.",
		ConstLabels: constLabels,
	}, []string{"metric_type"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "crmalerts_notifications_created_total",
		Help:        "Notifications written by source.",
		ConstLabels: constLabels,
	}, []string{"source"})
	escalations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "crmalerts_escalations_total",
		Help:        "Alert instance escalations by new level.",
		ConstLabels: constLabels,
	}, []string{"level"})
	deliveryAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "crmalerts_webhook_attempts_total",
		Help:        "Webhook delivery attempts by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	deliveryDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "crmalerts_webhook_attempt_duration_seconds",
		Help:        "Webhook delivery attempt latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	})
	deliveryExhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "crmalerts_webhook_dispatch_failures_total",
		Help:        "Webhook dispatches that ended without a successful attempt.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		goalsChecked,
		goalRisk,
		metricErrors,
		notifications,
		escalations,
		deliveryAttempts,
		deliveryDuration,
		deliveryExhausted,
	)

	return &PipelineMetrics{
		goalsChecked:      goalsChecked,
		goalRisk:          goalRisk,
		metricErrors:      metricErrors,
		notifications:     notifications,
		escalations:       escalations,
		deliveryAttempts:  deliveryAttempts,
		deliveryDuration:  deliveryDuration,
		deliveryExhausted: deliveryExhausted,
	}
}

func (m *PipelineMetrics) AddGoalsChecked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.goalsChecked.Add(float64(n))
}

func (m *PipelineMetrics) IncGoalRisk(level string) {
	if m == nil {
		return
	}
	m.goalRisk.WithLabelValues(level).Inc()
}

func (m *PipelineMetrics) IncMetricError(metricType string) {
	if m == nil {
		return
	}
	m.metricErrors.WithLabelValues(metricType).Inc()
}

func (m *PipelineMetrics) AddNotifications(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notifications.WithLabelValues(source).Add(float64(n))
}

func (m *PipelineMetrics) IncEscalation(level int) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(escalationLevelLabel(level)).Inc()
}

// ObserveDeliveryAttempt records one HTTP attempt against a webhook.
func (m *PipelineMetrics) ObserveDeliveryAttempt(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.deliveryAttempts.WithLabelValues(outcome).Inc()
	m.deliveryDuration.Observe(duration.Seconds())
}

func (m *PipelineMetrics) IncDeliveryExhausted() {
	if m == nil {
		return
	}
	m.deliveryExhausted.Inc()
}

// DeliveryOutcome buckets an attempt by status code; zero means no response.
func DeliveryOutcome(status int) string {
	switch {
	case status == 0:
		return DeliveryOutcomeNetworkError
	case status >= 200 && status < 300:
		return DeliveryOutcomeSuccess
	case status >= 400 && status < 500:
		return DeliveryOutcomeClientError
	default:
		return DeliveryOutcomeServerError
	}
}

func escalationLevelLabel(level int) string {
	switch {
	case level <= 1:
		return "1"
	case level == 2:
		return "2"
	default:
		return "3+"
	}
}
