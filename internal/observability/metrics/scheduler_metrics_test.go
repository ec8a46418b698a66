package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  fmt.Errorf("goal_risk_monitor: %w", context.DeadlineExceeded),
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "other_pg_error",
			err:  &pgconn.PgError{Code: "42P01"},
			want: SchedulerJobReasonDB,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "crmalerts",
		Environment: "test",
	})

	metrics.AddBatchProcessed("goal_risk_monitor", "goals", 3)
	metrics.AddBatchProcessed("goal_risk_monitor", "goals", 0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("goal_risk_monitor", "goals"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestIncJobSkipped(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{})

	metrics.IncJobSkipped("alert_escalation", SchedulerSkipReasonLockHeld)

	got := testutil.ToFloat64(metrics.jobSkips.WithLabelValues("alert_escalation", SchedulerSkipReasonLockHeld))
	if got != 1 {
		t.Fatalf("expected one skip, got %v", got)
	}
}
