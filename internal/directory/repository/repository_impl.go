package repository

import (
	"context"

	"github.com/glacestorm/crmalerts/internal/directory/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindProfile(ctx context.Context, db *gorm.DB, userID string) (*domain.Profile, error) {
	var profile domain.Profile
	err := db.WithContext(ctx).Raw(
		`SELECT id, full_name, email, office FROM profiles WHERE id = ?`,
		userID,
	).Scan(&profile).Error
	if err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, nil
	}
	return &profile, nil
}

func (r *repo) ListUserIDsByRoles(ctx context.Context, db *gorm.DB, roles ...domain.Role) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(roles))
	for _, role := range roles {
		values = append(values, string(role))
	}
	var ids []string
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT user_id FROM user_roles WHERE role IN ? ORDER BY user_id`,
		values,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListUserIDsByRoleInOffice(ctx context.Context, db *gorm.DB, role domain.Role, office string) ([]string, error) {
	if office == "" {
		return nil, nil
	}
	var ids []string
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT ur.user_id
		 FROM user_roles ur
		 JOIN profiles p ON p.id = ur.user_id
		 WHERE ur.role = ? AND p.office = ?
		 ORDER BY ur.user_id`,
		string(role),
		office,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
