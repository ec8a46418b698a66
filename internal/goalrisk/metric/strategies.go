package metric

import (
	"context"

	"gorm.io/gorm"
)

func scalar(ctx context.Context, db *gorm.DB, query string, args ...any) (float64, error) {
	var value float64
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&value).Error; err != nil {
		return 0, err
	}
	return value, nil
}

func countVisits(ctx context.Context, db *gorm.DB, q Query) (float64, error) {
	return scalar(ctx, db,
		`SELECT COUNT(*) FROM visits WHERE gestor_id = ? AND visit_date >= ? AND visit_date <= ?`,
		q.OwnerID, q.FromDate(), q.ToDate(),
	)
}

func countSuccessfulVisits(ctx context.Context, db *gorm.DB, q Query) (float64, error) {
	return scalar(ctx, db,
		`SELECT COUNT(*) FROM visits
		 WHERE gestor_id = ? AND visit_date >= ? AND visit_date <= ? AND result = 'successful'`,
		q.OwnerID, q.FromDate(), q.ToDate(),
	)
}

func countFollowUps(ctx context.Context, db *gorm.DB, q Query) (float64, error) {
	return scalar(ctx, db,
		`SELECT COUNT(*) FROM visits
		 WHERE gestor_id = ? AND visit_date >= ? AND visit_date <= ? AND follow_up_required = ?`,
		q.OwnerID, q.FromDate(), q.ToDate(), true,
	)
}

func countVisitSheets(ctx context.Context, db *gorm.DB, q Query) (float64, error) {
	return scalar(ctx, db,
		`SELECT COUNT(*) FROM visit_sheets WHERE gestor_id = ? AND sheet_date >= ? AND sheet_date <= ?`,
		q.OwnerID, q.FromDate(), q.ToDate(),
	)
}

func sumProductsOffered(ctx context.Context, db *gorm.DB, q Query) (float64, error) {
	return scalar(ctx, db,
		`SELECT COALESCE(SUM(products_offered), 0) FROM visit_sheets
		 WHERE gestor_id = ? AND sheet_date >= ? AND sheet_date <= ?`,
		q.OwnerID, q.FromDate(), q.ToDate(),
	)
}

func countCompanies(ctx context.Context, db *gorm.DB, q Query) (float64, error) {
	start, end := q.Bounds()
	return scalar(ctx, db,
		`SELECT COUNT(*) FROM companies WHERE gestor_id = ? AND created_at >= ? AND created_at < ?`,
		q.OwnerID, start, end,
	)
}

func countNewClients(ctx context.Context, db *gorm.DB, q Query) (float64, error) {
	start, end := q.Bounds()
	return scalar(ctx, db,
		`SELECT COUNT(*) FROM companies
		 WHERE gestor_id = ? AND client_type = 'client' AND created_at >= ? AND created_at < ?`,
		q.OwnerID, start, end,
	)
}

// Annual revenue of clients the owner brought in during the period.
func sumClientFacturacion(ctx context.Context, db *gorm.DB, q Query) (float64, error) {
	start, end := q.Bounds()
	return scalar(ctx, db,
		`SELECT COALESCE(SUM(annual_revenue), 0) FROM companies
		 WHERE gestor_id = ? AND client_type = 'client' AND created_at >= ? AND created_at < ?`,
		q.OwnerID, start, end,
	)
}

// Monthly volume of active terminals installed by the end of the period.
func sumTPVVolume(ctx context.Context, db *gorm.DB, q Query) (float64, error) {
	return scalar(ctx, db,
		`SELECT COALESCE(SUM(t.monthly_volume), 0)
		 FROM company_tpv_terminals t
		 JOIN companies c ON c.id = t.company_id
		 WHERE c.gestor_id = ? AND t.status = 'active' AND (t.installed_at IS NULL OR t.installed_at <= ?)`,
		q.OwnerID, q.ToDate(),
	)
}

func conversionRate(ctx context.Context, db *gorm.DB, q Query) (float64, error) {
	total, err := countVisits(ctx, db, q)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	successful, err := countSuccessfulVisits(ctx, db, q)
	if err != nil {
		return 0, err
	}
	return successful / total * 100, nil
}
