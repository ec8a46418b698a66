package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// ListOpenCandidates returns unresolved instances of escalation-enabled
	// alerts still below their maximum level, oldest trigger first.
	ListOpenCandidates(ctx context.Context, db *gorm.DB) ([]Candidate, error)
	// ApplyTransition persists t only while the instance is still open at
	// t.FromLevel. It reports false when another writer got there first.
	ApplyTransition(ctx context.Context, db *gorm.DB, t Transition) (bool, error)
}
