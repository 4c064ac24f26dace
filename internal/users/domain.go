package users

import (
	"fmt"
	"slices"
	"time"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/assignments"
	"github.com/loopos/loopos/internal/platform/httpx"
)

var (
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = fmt.Errorf("users: %w", httpx.ErrNotFound)
	// ErrDuplicateUsername indicates the username is taken.
	ErrDuplicateUsername = fmt.Errorf("users: username %w", httpx.ErrDuplicate)
	// ErrInvalidInput indicates a request that fails domain checks.
	ErrInvalidInput = fmt.Errorf("users: %w", httpx.ErrValidation)
)

// User represents an account of the maintenance team.
type User struct {
	ID           string
	Name         string
	Username     string
	Email        string
	Phone        string
	Role         access.Role
	CanLogin     bool
	SupervisorID string
	// PlantIDs is derived from plant assignments by the synchronizer.
	PlantIDs     []string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Subject returns the permission engine's view of the user.
func (u User) Subject() access.Subject {
	return access.Subject{ID: u.ID, Role: u.Role, PlantIDs: slices.Clone(u.PlantIDs)}
}

// Member returns the synchronizer's view of the user.
func (u User) Member() assignments.Member {
	return assignments.Member{ID: u.ID, Role: u.Role, PlantIDs: slices.Clone(u.PlantIDs)}
}

// CreateInput carries the fields accepted on user creation.
type CreateInput struct {
	Name         string
	Username     string
	Email        string
	Phone        string
	Role         access.Role
	CanLogin     bool
	SupervisorID string
	PlantIDs     []string
	Password     string
}

// UpdateInput carries a full replacement of the editable fields. A nil
// PlantIDs keeps current memberships; an empty Password keeps the hash.
type UpdateInput struct {
	Name         string
	Username     string
	Email        string
	Phone        string
	Role         access.Role
	CanLogin     bool
	SupervisorID string
	PlantIDs     *[]string
	Password     string
}
