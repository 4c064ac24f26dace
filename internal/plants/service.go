package plants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/assignments"
)

// RepositoryPort defines data access methods for plants.
type RepositoryPort interface {
	ListPlants(ctx context.Context) ([]Plant, error)
	GetPlant(ctx context.Context, id string) (Plant, error)
	CreatePlant(ctx context.Context, plant Plant) error
	UpdatePlant(ctx context.Context, plant Plant) error
	DeletePlant(ctx context.Context, id string) error
}

// AssignmentSyncer owns the per-plant assignments.
type AssignmentSyncer interface {
	Assignment(ctx context.Context, plantID string) (assignments.Assignment, error)
	ReconcileForPlant(ctx context.Context, plantID string, a assignments.Assignment) (assignments.Result, error)
	RemovePlant(ctx context.Context, plantID string) (assignments.Result, error)
}

// Service handles plant business logic.
type Service struct {
	repo   RepositoryPort
	sync   AssignmentSyncer
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, sync AssignmentSyncer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, sync: sync, logger: logger}
}

// ListPlants returns the plants visible to actor.
func (s *Service) ListPlants(ctx context.Context, actor access.Subject) ([]Plant, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	all, err := s.repo.ListPlants(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(p Plant) bool {
		return !access.CanViewPlant(actor, p.ID)
	}), nil
}

// GetPlant returns one plant if actor may view it.
func (s *Service) GetPlant(ctx context.Context, actor access.Subject, id string) (Plant, error) {
	if err := s.authorize(access.OpViewPlant, actor, id); err != nil {
		return Plant{}, err
	}
	return s.repo.GetPlant(ctx, id)
}

// CreatePlant registers a plant. Only roles with rights over every plant
// may create one.
func (s *Service) CreatePlant(ctx context.Context, actor access.Subject, in Input) (Plant, error) {
	p := Plant{ID: uuid.NewString()}
	if err := s.authorize(access.OpEditPlant, actor, p.ID); err != nil {
		return Plant{}, err
	}
	p, err := apply(p, in)
	if err != nil {
		return Plant{}, err
	}
	if err := s.repo.CreatePlant(ctx, p); err != nil {
		return Plant{}, err
	}
	return p, nil
}

// UpdatePlant replaces the editable fields of a plant.
func (s *Service) UpdatePlant(ctx context.Context, actor access.Subject, id string, in Input) (Plant, error) {
	if err := s.authorize(access.OpEditPlant, actor, id); err != nil {
		return Plant{}, err
	}
	existing, err := s.repo.GetPlant(ctx, id)
	if err != nil {
		return Plant{}, err
	}
	updated, err := apply(existing, in)
	if err != nil {
		return Plant{}, err
	}
	if err := s.repo.UpdatePlant(ctx, updated); err != nil {
		return Plant{}, err
	}
	return updated, nil
}

// DeletePlant drops every membership of the plant, then the plant itself.
func (s *Service) DeletePlant(ctx context.Context, actor access.Subject, id string) error {
	if err := s.authorize(access.OpEditPlant, actor, id); err != nil {
		return err
	}
	if _, err := s.repo.GetPlant(ctx, id); err != nil {
		return err
	}
	previous, err := s.sync.Assignment(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.sync.RemovePlant(ctx, id); err != nil {
		return fmt.Errorf("plants: release memberships: %w", err)
	}
	if err := s.repo.DeletePlant(ctx, id); err != nil {
		// The plant survives, so its assignment and memberships come back.
		if _, restoreErr := s.sync.ReconcileForPlant(ctx, id, previous); restoreErr != nil {
			s.logger.Error("restore assignment after failed delete", slog.String("plant_id", id), slog.Any("error", restoreErr))
			return errors.Join(err, fmt.Errorf("plants: restore assignment %s: %w", id, restoreErr))
		}
		return err
	}
	return nil
}

// GetAssignment returns the plant's role assignment.
func (s *Service) GetAssignment(ctx context.Context, actor access.Subject, id string) (assignments.Assignment, error) {
	if err := s.authorize(access.OpViewPlant, actor, id); err != nil {
		return assignments.Assignment{}, err
	}
	return s.sync.Assignment(ctx, id)
}

// PutAssignment replaces the plant's role assignment and reconciles every
// affected membership.
func (s *Service) PutAssignment(ctx context.Context, actor access.Subject, id string, a assignments.Assignment) (assignments.Assignment, assignments.Result, error) {
	if err := s.authorize(access.OpEditPlant, actor, id); err != nil {
		return assignments.Assignment{}, assignments.Result{}, err
	}
	res, err := s.sync.ReconcileForPlant(ctx, id, a)
	if err != nil {
		return assignments.Assignment{}, assignments.Result{}, err
	}
	return a.Normalize(), res, nil
}

func (s *Service) authorize(op access.Operation, actor access.Subject, plantID string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	d := access.DecidePlant(op, actor, plantID)
	if d.Allowed {
		return nil
	}
	s.logger.Debug("plant access denied",
		slog.String("op", string(op)),
		slog.String("actor_id", actor.ID),
		slog.String("plant_id", plantID),
		slog.String("reason", d.Reason))
	return fmt.Errorf("%w: %s", access.ErrForbidden, op)
}

func apply(p Plant, in Input) (Plant, error) {
	p.Client = strings.TrimSpace(in.Client)
	p.Name = strings.TrimSpace(in.Name)
	if p.Name == "" || p.Client == "" {
		return Plant{}, fmt.Errorf("%w: client and name required", ErrInvalidInput)
	}
	if in.StringCount < 0 || in.TrackerCount < 0 {
		return Plant{}, fmt.Errorf("%w: counts must not be negative", ErrInvalidInput)
	}
	p.StringCount = in.StringCount
	p.TrackerCount = in.TrackerCount

	seen := make(map[int]struct{}, len(in.SubPlants))
	subs := make([]SubPlant, 0, len(in.SubPlants))
	for _, sp := range in.SubPlants {
		if sp.InverterCount < 0 {
			return Plant{}, fmt.Errorf("%w: sub-plant %d inverter count", ErrInvalidInput, sp.ID)
		}
		if _, dup := seen[sp.ID]; dup {
			return Plant{}, fmt.Errorf("%w: duplicate sub-plant %d", ErrInvalidInput, sp.ID)
		}
		seen[sp.ID] = struct{}{}
		subs = append(subs, sp)
	}
	slices.SortFunc(subs, func(a, b SubPlant) int { return a.ID - b.ID })
	p.SubPlants = subs

	assets := make([]string, 0, len(in.Assets))
	for _, a := range in.Assets {
		if a = strings.TrimSpace(a); a != "" && !slices.Contains(assets, a) {
			assets = append(assets, a)
		}
	}
	p.Assets = assets
	return p, nil
}
