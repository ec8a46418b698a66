package metricspush

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/glacestorm/crmalerts/internal/config"
	obstracing "github.com/glacestorm/crmalerts/internal/observability/tracing"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

const (
	ExporterRemoteWrite = "prometheus_remote_write"
	ExporterPushgateway = "prometheus_pushgateway"

	defaultPushTimeout = 5 * time.Second
)

var ErrEndpointRequired = errors.New("metrics_push_endpoint_required")

// Pusher ships a snapshot of gathered metrics to an external collector.
type Pusher interface {
	Push(ctx context.Context, gatherer prometheus.Gatherer) error
}

// NewPusher returns nil when pushing is not configured or the config is unusable.
func NewPusher(cfg config.Config, log *zap.Logger) Pusher {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("metricspush")

	if !cfg.MetricsPush.Enabled() {
		return nil
	}

	endpoint := cfg.MetricsPush.Endpoint
	switch cfg.MetricsPush.Exporter {
	case ExporterRemoteWrite:
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			log.Warn("metrics push disabled", zap.Error(fmt.Errorf("invalid endpoint: %w", err)))
			return nil
		}
		return NewRemoteWritePusher(endpoint, cfg.MetricsPush.AuthToken, nil)
	case ExporterPushgateway:
		return NewPushgatewayPusher(endpoint, cfg.AppName, map[string]string{
			"environment": strings.TrimSpace(cfg.Environment),
		})
	default:
		log.Warn("metrics push disabled", zap.String("exporter", cfg.MetricsPush.Exporter))
		return nil
	}
}

type RemoteWritePusher struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
	now        func() time.Time
}

func NewRemoteWritePusher(endpoint, authToken string, client *http.Client) *RemoteWritePusher {
	if client == nil {
		client = &http.Client{Timeout: defaultPushTimeout}
	}
	return &RemoteWritePusher{
		endpoint:   endpoint,
		authToken:  strings.TrimSpace(authToken),
		httpClient: client,
		now:        time.Now,
	}
}

func (p *RemoteWritePusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}

	families, err := gatherer.Gather()
	if err != nil {
		return err
	}
	series := buildRemoteWriteSeries(families, p.now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	req := &prompb.WriteRequest{Timeseries: series}
	payload, err := proto.Marshal(protoadapt.MessageV2Of(req))
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(snappy.Encode(nil, payload)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.authToken)
	}
	obstracing.InjectContext(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("remote write returned %s", resp.Status)
	}
	return nil
}

type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	return &PushgatewayPusher{
		endpoint: strings.TrimSpace(endpoint),
		job:      strings.TrimSpace(job),
		grouping: grouping,
	}
}

// Push replaces the job's group on the gateway so stale series do not linger.
func (p *PushgatewayPusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}
	if p.endpoint == "" {
		return ErrEndpointRequired
	}
	job := p.job
	if job == "" {
		job = "crmalerts"
	}

	pusher := push.New(p.endpoint, job).Gatherer(exportJobLabel(gatherer))
	for key, value := range p.grouping {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		pusher = pusher.Grouping(key, value)
	}
	return pusher.PushContext(ctx)
}

// exportJobLabel renames the scheduler's "job" label, which the gateway
// reserves for the grouping key.
func exportJobLabel(gatherer prometheus.Gatherer) prometheus.Gatherer {
	return prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		families, err := gatherer.Gather()
		for _, family := range families {
			for _, metric := range family.GetMetric() {
				for _, label := range metric.GetLabel() {
					if label.GetName() == "job" {
						label.Name = proto.String("exported_job")
					}
				}
			}
		}
		return families, err
	})
}

// buildRemoteWriteSeries flattens counters and gauges into one sample each;
// histograms contribute their _sum and _count series.
func buildRemoteWriteSeries(families []*dto.MetricFamily, timestampMs int64) []prompb.TimeSeries {
	series := make([]prompb.TimeSeries, 0, len(families))
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			for _, sample := range samplesOf(family.GetName(), family.GetType(), metric) {
				labels := make([]prompb.Label, 0, len(metric.GetLabel())+1)
				labels = append(labels, prompb.Label{Name: "__name__", Value: sample.name})
				for _, label := range metric.GetLabel() {
					labels = append(labels, prompb.Label{Name: label.GetName(), Value: label.GetValue()})
				}
				sort.Slice(labels, func(i, j int) bool {
					return labels[i].Name < labels[j].Name
				})

				series = append(series, prompb.TimeSeries{
					Labels: labels,
					Samples: []prompb.Sample{{
						Value:     sample.value,
						Timestamp: timestampMs,
					}},
				})
			}
		}
	}
	return series
}

type namedSample struct {
	name  string
	value float64
}

func samplesOf(name string, metricType dto.MetricType, metric *dto.Metric) []namedSample {
	if metric == nil {
		return nil
	}
	switch metricType {
	case dto.MetricType_COUNTER:
		if metric.GetCounter() == nil {
			return nil
		}
		return []namedSample{{name: name, value: metric.GetCounter().GetValue()}}
	case dto.MetricType_GAUGE:
		if metric.GetGauge() == nil {
			return nil
		}
		return []namedSample{{name: name, value: metric.GetGauge().GetValue()}}
	case dto.MetricType_HISTOGRAM:
		h := metric.GetHistogram()
		if h == nil {
			return nil
		}
		return []namedSample{
			{name: name + "_sum", value: h.GetSampleSum()},
			{name: name + "_count", value: float64(h.GetSampleCount())},
		}
	default:
		return nil
	}
}
