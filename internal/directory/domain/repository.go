package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository reads users and roles. Role membership is managed elsewhere.
type Repository interface {
	FindProfile(ctx context.Context, db *gorm.DB, userID string) (*Profile, error)
	ListUserIDsByRoles(ctx context.Context, db *gorm.DB, roles ...Role) ([]string, error)
	ListUserIDsByRoleInOffice(ctx context.Context, db *gorm.DB, role Role, office string) ([]string, error)
}
