package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/glacestorm/crmalerts/internal/goalrisk/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type goalRow struct {
	ID          string
	Title       string
	MetricType  string
	TargetValue float64
	PeriodStart string
	PeriodEnd   string
	AssignedTo  string
}

func (r *repo) ListActiveGoals(ctx context.Context, db *gorm.DB, day string) ([]domain.Goal, error) {
	var rows []goalRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, title, metric_type, target_value,
			CAST(period_start AS TEXT) AS period_start,
			CAST(period_end AS TEXT) AS period_end,
			COALESCE(assigned_to, '') AS assigned_to
		 FROM goals
		 WHERE period_start <= ? AND period_end >= ?
		 ORDER BY id`,
		day,
		day,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	goals := make([]domain.Goal, 0, len(rows))
	for _, row := range rows {
		start, err := parseDate(row.PeriodStart)
		if err != nil {
			return nil, fmt.Errorf("goal %s period_start: %w", row.ID, err)
		}
		end, err := parseDate(row.PeriodEnd)
		if err != nil {
			return nil, fmt.Errorf("goal %s period_end: %w", row.ID, err)
		}
		goals = append(goals, domain.Goal{
			ID:          row.ID,
			Title:       row.Title,
			MetricType:  row.MetricType,
			TargetValue: row.TargetValue,
			PeriodStart: start,
			PeriodEnd:   end,
			AssignedTo:  row.AssignedTo,
		})
	}
	return goals, nil
}

func (r *repo) ClaimDailyMark(ctx context.Context, db *gorm.DB, mark domain.RiskMark) (bool, error) {
	if mark.CreatedAt.IsZero() {
		mark.CreatedAt = time.Now().UTC()
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&mark)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// parseDate accepts DATE text in either plain or timestamp-shaped form.
func parseDate(value string) (time.Time, error) {
	if len(value) < len("2006-01-02") {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	return time.Parse("2006-01-02", value[:10])
}
