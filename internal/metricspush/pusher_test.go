package metricspush

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glacestorm/crmalerts/internal/config"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "crmalerts_scheduler_job_runs_total",
		Help:        "runs",
		ConstLabels: prometheus.Labels{"service": "crmalerts", "env": "test"},
	}, []string{"job"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "crmalerts_delivery_duration_seconds",
		Help:    "duration",
		Buckets: []float64{0.1, 1},
	})
	registry.MustRegister(runs, duration)

	runs.WithLabelValues("goal_risk_monitor").Add(2)
	duration.Observe(0.5)
	duration.Observe(1.5)
	return registry
}

type capturedRequest struct {
	method  string
	path    string
	headers http.Header
	body    []byte
}

func captureServer(t *testing.T, status int) (*httptest.Server, func() capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		last capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		last = capturedRequest{method: r.Method, path: r.URL.Path, headers: r.Header.Clone(), body: body}
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestRemoteWritePushEncodesSeries(t *testing.T) {
	srv, last := captureServer(t, http.StatusNoContent)
	pusher := NewRemoteWritePusher(srv.URL+"/api/v1/write", "push-token", srv.Client())
	pusher.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	require.NoError(t, pusher.Push(context.Background(), testRegistry(t)))

	req := last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/v1/write", req.path)
	assert.Equal(t, "snappy", req.headers.Get("Content-Encoding"))
	assert.Equal(t, "application/x-protobuf", req.headers.Get("Content-Type"))
	assert.Equal(t, "Bearer push-token", req.headers.Get("Authorization"))

	raw, err := snappy.Decode(nil, req.body)
	require.NoError(t, err)
	var write prompb.WriteRequest
	require.NoError(t, write.Unmarshal(raw))

	values := map[string]float64{}
	for _, ts := range write.Timeseries {
		var name string
		for _, l := range ts.Labels {
			if l.Name == "__name__" {
				name = l.Value
			}
		}
		require.Len(t, ts.Samples, 1)
		assert.Equal(t, int64(1_700_000_000_000), ts.Samples[0].Timestamp)
		values[name] = ts.Samples[0].Value
	}

	assert.Equal(t, map[string]float64{
		"crmalerts_scheduler_job_runs_total":        2,
		"crmalerts_delivery_duration_seconds_sum":   2,
		"crmalerts_delivery_duration_seconds_count": 2,
	}, values)
}

func TestRemoteWritePushFailsOnErrorStatus(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadGateway)
	pusher := NewRemoteWritePusher(srv.URL, "", srv.Client())

	err := pusher.Push(context.Background(), testRegistry(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRemoteWriteSkipsEmptyRegistry(t *testing.T) {
	srv, last := captureServer(t, http.StatusNoContent)
	pusher := NewRemoteWritePusher(srv.URL, "", srv.Client())

	require.NoError(t, pusher.Push(context.Background(), prometheus.NewRegistry()))
	assert.Empty(t, last().method)
}

func TestBuildRemoteWriteSeriesSortsLabels(t *testing.T) {
	families, err := testRegistry(t).Gather()
	require.NoError(t, err)

	series := buildRemoteWriteSeries(families, 1)
	for _, ts := range series {
		for i := 1; i < len(ts.Labels); i++ {
			assert.Less(t, ts.Labels[i-1].Name, ts.Labels[i].Name)
		}
	}
}

func TestPushgatewayPushUsesJobAndGrouping(t *testing.T) {
	srv, last := captureServer(t, http.StatusOK)
	pusher := NewPushgatewayPusher(srv.URL, "crmalerts", map[string]string{"environment": "test", "": "ignored"})

	require.NoError(t, pusher.Push(context.Background(), testRegistry(t)))

	req := last()
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/metrics/job/crmalerts/environment/test", req.path)
	assert.True(t, bytes.Contains(req.body, []byte("exported_job")))
}

func TestPushgatewayRequiresEndpoint(t *testing.T) {
	pusher := NewPushgatewayPusher(" ", "crmalerts", nil)
	assert.ErrorIs(t, pusher.Push(context.Background(), testRegistry(t)), ErrEndpointRequired)
}

func TestNewPusher(t *testing.T) {
	log := zaptest.NewLogger(t)

	assert.Nil(t, NewPusher(config.Config{}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: "statsd", Endpoint: "http://x"}}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "not a url"}}, log))

	rw := NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "http://prom:9090/api/v1/write"}}, log)
	assert.IsType(t, &RemoteWritePusher{}, rw)

	pg := NewPusher(config.Config{AppName: "crmalerts", MetricsPush: config.MetricsPushConfig{Exporter: ExporterPushgateway, Endpoint: "http://gateway:9091"}}, log)
	assert.IsType(t, &PushgatewayPusher{}, pg)
}
