package workorders

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/assignments"
	"github.com/loopos/loopos/internal/shared"
)

// RepositoryPort defines data access methods for work orders.
type RepositoryPort interface {
	ListOrders(ctx context.Context) ([]Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	CreateOrder(ctx context.Context, order Order) error
	UpdateOrder(ctx context.Context, order Order) error
}

// Service handles work order business logic.
type Service struct {
	repo   RepositoryPort
	locker assignments.Locker
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance. A nil locker selects an in-process one.
func NewService(repo RepositoryPort, locker assignments.Locker, logger *slog.Logger) *Service {
	if locker == nil {
		locker = assignments.NewLocalLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, locker: locker, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ListOrders returns the orders on plants visible to actor, newest first.
func (s *Service) ListOrders(ctx context.Context, actor access.Subject, filter Filter) ([]Order, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	all, err := s.repo.ListOrders(ctx)
	if err != nil {
		return nil, err
	}
	out := slices.DeleteFunc(all, func(o Order) bool {
		return !filter.match(o) || !access.CanViewPlant(actor, o.PlantID)
	})
	slices.SortFunc(out, func(a, b Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// GetOrder returns one order if actor may view its plant.
func (s *Service) GetOrder(ctx context.Context, actor access.Subject, id string) (Order, error) {
	return s.load(ctx, actor, id)
}

// CreateOrder opens a pending order on a plant the actor may edit.
func (s *Service) CreateOrder(ctx context.Context, actor access.Subject, in Input) (Order, error) {
	if err := s.authorize(access.OpEditPlant, actor, in.PlantID); err != nil {
		return Order{}, err
	}
	if in.Status == "" {
		in.Status = StatusPending
	}
	o, err := apply(Order{}, in)
	if err != nil {
		return Order{}, err
	}

	release, err := s.locker.Lock(ctx, shared.OrderSequenceLockKey())
	if err != nil {
		return Order{}, fmt.Errorf("workorders: lock sequence: %w", err)
	}
	defer release()

	existing, err := s.repo.ListOrders(ctx)
	if err != nil {
		return Order{}, err
	}
	o.ID = nextID(existing)
	o.Title = title(o)
	o.CreatedAt = s.now()
	o.UpdatedAt = o.CreatedAt
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return Order{}, err
	}
	s.logger.Info("work order created", slog.String("order_id", o.ID), slog.String("plant_id", o.PlantID), slog.String("actor_id", actor.ID))
	return o, nil
}

// UpdateOrder replaces the editable fields. Moving an order to another plant
// requires edit rights on both plants. A status change is logged and an
// empty status keeps the current one.
func (s *Service) UpdateOrder(ctx context.Context, actor access.Subject, id string, in Input) (Order, error) {
	existing, err := s.load(ctx, actor, id)
	if err != nil {
		return Order{}, err
	}
	if in.Status == "" {
		in.Status = existing.Status
	}
	if in.PlantID != existing.PlantID {
		for _, plantID := range []string{existing.PlantID, in.PlantID} {
			if err := s.authorize(access.OpEditPlant, actor, plantID); err != nil {
				return Order{}, err
			}
		}
	}
	updated, err := apply(existing, in)
	if err != nil {
		return Order{}, err
	}
	updated.Title = title(updated)
	updated.UpdatedAt = s.now()
	if updated.Status != existing.Status {
		updated.Logs = prepend(updated.Logs, s.statusLog(actor.ID, existing.Status, updated.Status, ""))
	}
	if err := s.repo.UpdateOrder(ctx, updated); err != nil {
		return Order{}, err
	}
	return updated, nil
}

// AddLog appends a comment and optionally moves the order to status.
func (s *Service) AddLog(ctx context.Context, actor access.Subject, id, comment string, status Status) (Order, error) {
	o, err := s.load(ctx, actor, id)
	if err != nil {
		return Order{}, err
	}
	comment = strings.TrimSpace(comment)
	if comment == "" && status == "" {
		return Order{}, fmt.Errorf("%w: comment or status required", ErrInvalidInput)
	}
	if status != "" && !status.Valid() {
		return Order{}, fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}
	var entry Log
	if status != "" && status != o.Status {
		entry = s.statusLog(actor.ID, o.Status, status, comment)
		o.Status = status
	} else {
		if comment == "" {
			return o, nil
		}
		entry = Log{ID: uuid.NewString(), Timestamp: s.now(), AuthorID: actor.ID, Comment: comment}
	}
	o.Logs = prepend(o.Logs, entry)
	o.UpdatedAt = s.now()
	if err := s.repo.UpdateOrder(ctx, o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (s *Service) load(ctx context.Context, actor access.Subject, id string) (Order, error) {
	if err := actor.Validate(); err != nil {
		return Order{}, err
	}
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if err := s.authorize(access.OpViewPlant, actor, o.PlantID); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (s *Service) authorize(op access.Operation, actor access.Subject, plantID string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if plantID == "" {
		return fmt.Errorf("%w: plant required", ErrInvalidInput)
	}
	d := access.DecidePlant(op, actor, plantID)
	if d.Allowed {
		return nil
	}
	s.logger.Debug("work order access denied",
		slog.String("op", string(op)),
		slog.String("actor_id", actor.ID),
		slog.String("plant_id", plantID),
		slog.String("reason", d.Reason))
	return fmt.Errorf("%w: %s", access.ErrForbidden, op)
}

func (s *Service) statusLog(authorID string, from, to Status, comment string) Log {
	if comment == "" {
		comment = fmt.Sprintf("status changed from %s to %s", from, to)
	}
	return Log{
		ID:           uuid.NewString(),
		Timestamp:    s.now(),
		AuthorID:     authorID,
		Comment:      comment,
		StatusChange: &StatusChange{From: from, To: to},
	}
}

func apply(o Order, in Input) (Order, error) {
	if !in.Status.Valid() {
		return Order{}, fmt.Errorf("%w: status %q", ErrInvalidInput, in.Status)
	}
	if !in.Priority.Valid() {
		return Order{}, fmt.Errorf("%w: priority %q", ErrInvalidInput, in.Priority)
	}
	activity := strings.TrimSpace(in.Activity)
	if activity == "" {
		return Order{}, fmt.Errorf("%w: activity required", ErrInvalidInput)
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return Order{}, fmt.Errorf("%w: end date before start date", ErrInvalidInput)
	}
	o.Description = strings.TrimSpace(in.Description)
	o.Status = in.Status
	o.Priority = in.Priority
	o.PlantID = in.PlantID
	o.TechnicianID = in.TechnicianID
	o.SupervisorID = in.SupervisorID
	o.StartDate = in.StartDate
	o.EndDate = in.EndDate
	o.Activity = activity
	o.Assets = slices.Clone(in.Assets)
	o.AttachmentsEnabled = in.AttachmentsEnabled
	return o, nil
}

// nextID returns OS#### one above the highest number in use.
func nextID(existing []Order) string {
	highest := 0
	for _, o := range existing {
		n, err := strconv.Atoi(strings.TrimPrefix(o.ID, "OS"))
		if err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("OS%04d", highest+1)
}

func title(o Order) string {
	return o.ID + " - " + o.Activity
}

func prepend(logs []Log, entry Log) []Log {
	return append([]Log{entry}, logs...)
}
