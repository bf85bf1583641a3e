package store

import (
	"context"
	"database/sql"
	"errors"

	"agentdesk/internal/models"
)

type AdminStore struct {
	db DB
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

// Access reports whether the user is an admin at all and whether they are a
// super admin. A missing row is not an error.
func (s *AdminStore) Access(ctx context.Context, userID string) (models.AdminAccess, error) {
	var isSuper bool
	err := s.db.GetContext(ctx, &isSuper, `SELECT is_super FROM admins WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AdminAccess{}, nil
	}
	if err != nil {
		return models.AdminAccess{}, err
	}
	return models.AdminAccess{IsAdmin: true, IsSuper: isSuper}, nil
}

func (s *AdminStore) HasRole(ctx context.Context, userID string, role models.AdminRole) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM admin_roles
		WHERE admin_user_id = $1 AND role = $2
	`, userID, role)
	return count > 0, err
}

func (s *AdminStore) Roles(ctx context.Context, userID string) ([]models.AdminRole, error) {
	roles := []models.AdminRole{}
	err := s.db.SelectContext(ctx, &roles, `
		SELECT role FROM admin_roles WHERE admin_user_id = $1 ORDER BY role
	`, userID)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// CreateAdmin is a no-op for a user who is already an admin.
func (s *AdminStore) CreateAdmin(ctx context.Context, tx Execer, userID string, isSuper bool, createdBy *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admins (user_id, is_super, created_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, isSuper, createdBy)
	return err
}

func (s *AdminStore) GrantRole(ctx context.Context, tx Execer, adminUserID string, role models.AdminRole) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admin_roles (admin_user_id, role)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, adminUserID, role)
	return err
}

func (s *AdminStore) HasAnyAdmin(ctx context.Context, tx Getter) (bool, error) {
	var count int
	err := tx.GetContext(ctx, &count, `SELECT COUNT(1) FROM admins`)
	return count > 0, err
}
