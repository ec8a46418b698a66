package domain

import (
	"context"
	"errors"
)

type Service interface {
	RunCheck(ctx context.Context) (CheckResult, error)
}

var (
	ErrUnknownMetric      = errors.New("unknown_metric_type")
	ErrMetricComputation  = errors.New("metric_computation_failed")
	ErrRecipientResolving = errors.New("recipient_resolution_failed")
)
