package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"parcelchat/internal/domain"
)

// UserRepo is the read-only user lookup over the platform's users table.
type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, avatar, role, is_active, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.Avatar, &u.Role, &u.IsActive, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
