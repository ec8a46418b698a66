package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// ListActiveGoals returns goals whose period contains day (YYYY-MM-DD).
	ListActiveGoals(ctx context.Context, db *gorm.DB, day string) ([]Goal, error)
	// ClaimDailyMark inserts the (goal, day) mark and reports whether this
	// caller won it. Losing callers must not notify.
	ClaimDailyMark(ctx context.Context, db *gorm.DB, mark RiskMark) (bool, error)
}
