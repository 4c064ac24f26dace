package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/users"
)

const userColumns = `id, name, username, email, phone, role, can_login, supervisor_id, plant_ids, password_hash, created_at, updated_at`

func scanUser(row pgx.Row) (users.User, error) {
	var (
		u    users.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Username, &u.Email, &u.Phone, &role, &u.CanLogin,
		&u.SupervisorID, &u.PlantIDs, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return users.User{}, err
	}
	// Unknown stored roles surface as the zero Role, which the engine denies.
	u.Role, _ = access.ParseRole(role)
	return u, nil
}

// ListUsers returns every user ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]users.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY lower(name), id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list users: %w", err)
	}
	defer rows.Close()
	var out []users.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetUser returns one user.
func (s *Store) GetUser(ctx context.Context, id string) (users.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return users.User{}, fmt.Errorf("%w: %s", users.ErrNotFound, id)
	}
	if err != nil {
		return users.User{}, fmt.Errorf("postgres: get user: %w", err)
	}
	return u, nil
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, u users.User) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.Name, u.Username, u.Email, u.Phone, u.Role.String(), u.CanLogin,
		u.SupervisorID, nonNil(u.PlantIDs), u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return users.ErrDuplicateUsername
	}
	if err != nil {
		return fmt.Errorf("postgres: create user: %w", err)
	}
	return nil
}

// UpdateUser replaces a stored user.
func (s *Store) UpdateUser(ctx context.Context, u users.User) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET name = $2, username = $3, email = $4, phone = $5,
		role = $6, can_login = $7, supervisor_id = $8, plant_ids = $9, password_hash = $10, updated_at = $11
		WHERE id = $1`,
		u.ID, u.Name, u.Username, u.Email, u.Phone, u.Role.String(), u.CanLogin,
		u.SupervisorID, nonNil(u.PlantIDs), u.PasswordHash, u.UpdatedAt)
	if isUniqueViolation(err) {
		return users.ErrDuplicateUsername
	}
	if err != nil {
		return fmt.Errorf("postgres: update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", users.ErrNotFound, u.ID)
	}
	return nil
}

// DeleteUser removes a user record.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", users.ErrNotFound, id)
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
