package domain

import (
	"context"
	"errors"
)

type Service interface {
	Run(ctx context.Context) (RunResult, error)
}

var (
	ErrNotEscalatable     = errors.New("not_escalatable")
	ErrRecipientResolving = errors.New("recipient_resolution_failed")
)
