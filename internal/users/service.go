package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/assignments"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (User, error)
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	DeleteUser(ctx context.Context, id string) error
}

// MembershipSyncer reconciles plant assignments after user writes.
type MembershipSyncer interface {
	ReconcileForUser(ctx context.Context, m assignments.Member) (assignments.Member, assignments.Result, error)
	RemoveUser(ctx context.Context, userID string) error
}

// Service handles user business logic behind the permission engine.
type Service struct {
	repo   RepositoryPort
	sync   MembershipSyncer
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, sync MembershipSyncer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, sync: sync, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ListUsers returns the users visible to actor.
func (s *Service) ListUsers(ctx context.Context, actor access.Subject) ([]User, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	all, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]User, 0, len(all))
	for _, u := range all {
		if access.CanViewUser(actor, u.Subject()) {
			visible = append(visible, u)
		}
	}
	return visible, nil
}

// GetUser returns one user if actor may view it.
func (s *Service) GetUser(ctx context.Context, actor access.Subject, id string) (User, error) {
	if err := actor.Validate(); err != nil {
		return User{}, err
	}
	target, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := s.authorize(access.OpViewUser, actor, target); err != nil {
		return User{}, err
	}
	return target, nil
}

// CreateUser registers a user and reconciles any plant memberships supplied.
func (s *Service) CreateUser(ctx context.Context, actor access.Subject, in CreateInput) (User, error) {
	if err := actor.Validate(); err != nil {
		return User{}, err
	}
	now := s.now()
	candidate := User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Username:     strings.ToLower(strings.TrimSpace(in.Username)),
		Email:        strings.TrimSpace(in.Email),
		Phone:        strings.TrimSpace(in.Phone),
		Role:         in.Role,
		CanLogin:     in.CanLogin,
		SupervisorID: in.SupervisorID,
		PlantIDs:     cleanIDs(in.PlantIDs),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.validate(ctx, candidate); err != nil {
		return User{}, err
	}
	if err := s.authorize(access.OpEditUser, actor, candidate); err != nil {
		return User{}, err
	}
	if err := s.authorizePlants(actor, nil, candidate.PlantIDs); err != nil {
		return User{}, err
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, fmt.Errorf("users: hash password: %w", err)
		}
		candidate.PasswordHash = string(hash)
	}

	claimed := candidate.PlantIDs
	candidate.PlantIDs = nil
	if err := s.repo.CreateUser(ctx, candidate); err != nil {
		return User{}, err
	}
	candidate.PlantIDs = claimed
	if len(claimed) == 0 {
		return candidate, nil
	}
	return s.reconcile(ctx, candidate)
}

// UpdateUser replaces the editable fields of a user. Role or membership
// changes are pushed into the plant assignments.
func (s *Service) UpdateUser(ctx context.Context, actor access.Subject, id string, in UpdateInput) (User, error) {
	if err := actor.Validate(); err != nil {
		return User{}, err
	}
	existing, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := s.authorize(access.OpEditUser, actor, existing); err != nil {
		return User{}, err
	}

	updated := existing
	updated.Name = strings.TrimSpace(in.Name)
	updated.Username = strings.ToLower(strings.TrimSpace(in.Username))
	updated.Email = strings.TrimSpace(in.Email)
	updated.Phone = strings.TrimSpace(in.Phone)
	updated.Role = in.Role
	updated.CanLogin = in.CanLogin
	updated.SupervisorID = in.SupervisorID
	updated.UpdatedAt = s.now()
	if in.PlantIDs != nil {
		updated.PlantIDs = cleanIDs(*in.PlantIDs)
	}

	if err := s.validate(ctx, updated); err != nil {
		return User{}, err
	}
	if actor.ID == existing.ID && updated.Role != existing.Role && actor.Role != access.RoleAdmin {
		return User{}, fmt.Errorf("%w: only admins may change their own role", access.ErrForbidden)
	}
	// The edited record must stay within the actor's edit rights.
	if err := s.authorize(access.OpEditUser, actor, updated); err != nil {
		return User{}, err
	}
	if err := s.authorizePlants(actor, existing.PlantIDs, updated.PlantIDs); err != nil {
		return User{}, err
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, fmt.Errorf("users: hash password: %w", err)
		}
		updated.PasswordHash = string(hash)
	}

	stored := updated
	stored.PlantIDs = existing.PlantIDs
	if err := s.repo.UpdateUser(ctx, stored); err != nil {
		return User{}, err
	}
	if updated.Role == existing.Role && slices.Equal(cleanIDs(existing.PlantIDs), updated.PlantIDs) {
		return stored, nil
	}
	out, err := s.reconcile(ctx, updated)
	if err != nil {
		// Slots still follow the old role, so the old record goes back.
		if restoreErr := s.repo.UpdateUser(ctx, existing); restoreErr != nil {
			s.logger.Error("restore user after failed reconcile", slog.String("user_id", id), slog.Any("error", restoreErr))
			return User{}, errors.Join(err, fmt.Errorf("users: restore %s: %w", id, restoreErr))
		}
		return User{}, err
	}
	return out, nil
}

// DeleteUser strips a user from every assignment, then removes the record.
func (s *Service) DeleteUser(ctx context.Context, actor access.Subject, id string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	target, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(access.OpEditUser, actor, target); err != nil {
		return err
	}
	if s.sync != nil {
		if err := s.sync.RemoveUser(ctx, id); err != nil {
			return fmt.Errorf("users: release assignments: %w", err)
		}
	}
	return s.repo.DeleteUser(ctx, id)
}

func (s *Service) reconcile(ctx context.Context, u User) (User, error) {
	if s.sync == nil {
		return u, nil
	}
	member, _, err := s.sync.ReconcileForUser(ctx, u.Member())
	if err != nil {
		return User{}, fmt.Errorf("users: reconcile memberships: %w", err)
	}
	u.PlantIDs = member.PlantIDs
	return u, nil
}

func (s *Service) authorize(op access.Operation, actor access.Subject, target User) error {
	d := access.DecideUser(op, actor, target.Subject())
	if d.Allowed {
		return nil
	}
	s.logger.Debug("user access denied",
		slog.String("op", string(op)),
		slog.String("actor_id", actor.ID),
		slog.String("target_id", target.ID),
		slog.String("reason", d.Reason))
	return fmt.Errorf("%w: %s", access.ErrForbidden, op)
}

// authorizePlants requires edit rights on every plant added or removed.
func (s *Service) authorizePlants(actor access.Subject, before, after []string) error {
	for _, id := range symmetricDiff(before, after) {
		if !access.CanEditPlant(actor, id) {
			s.logger.Debug("membership change denied", slog.String("actor_id", actor.ID), slog.String("plant_id", id))
			return fmt.Errorf("%w: membership of plant %s", access.ErrForbidden, id)
		}
	}
	return nil
}

func (s *Service) validate(ctx context.Context, u User) error {
	if u.Name == "" || u.Username == "" {
		return fmt.Errorf("%w: name and username required", ErrInvalidInput)
	}
	if !u.Role.Valid() {
		return fmt.Errorf("%w: role required", ErrInvalidInput)
	}
	all, err := s.repo.ListUsers(ctx)
	if err != nil {
		return err
	}
	supervisorFound := u.SupervisorID == ""
	for _, other := range all {
		if other.ID != u.ID && other.Username == u.Username {
			return ErrDuplicateUsername
		}
		if other.ID == u.SupervisorID {
			supervisorFound = true
		}
	}
	if u.SupervisorID == u.ID {
		return fmt.Errorf("%w: user cannot supervise itself", ErrInvalidInput)
	}
	if !supervisorFound {
		return fmt.Errorf("%w: supervisor %s not found", ErrInvalidInput, u.SupervisorID)
	}
	return nil
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func symmetricDiff(a, b []string) []string {
	var out []string
	for _, id := range a {
		if !slices.Contains(b, id) {
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !slices.Contains(a, id) {
			out = append(out, id)
		}
	}
	return out
}

// IsForbidden reports whether err is an authorization denial.
func IsForbidden(err error) bool {
	return errors.Is(err, access.ErrForbidden)
}
