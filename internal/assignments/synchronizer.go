// Package assignments keeps per-plant role assignments and user plant
// memberships consistent: a user belongs to a plant exactly when the plant's
// assignment lists the user in some slot.
package assignments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/shared"
)

var (
	// ErrPlantNotFound indicates the plant does not exist.
	ErrPlantNotFound = errors.New("assignments: plant not found")
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = errors.New("assignments: user not found")
)

// Recorder receives reconciliation outcomes.
type Recorder interface {
	ObserveReconcile(op string, changed int, err error)
}

// Result summarises one reconciliation.
type Result struct {
	// Changed lists user ids whose memberships were rewritten.
	Changed []string
}

// Synchronizer reconciles assignments and memberships under the Locker.
type Synchronizer struct {
	store   Store
	locker  Locker
	logger  *slog.Logger
	metrics Recorder
	sweep   singleflight.Group
}

// NewSynchronizer builds a Synchronizer. A nil locker selects a LocalLocker.
func NewSynchronizer(store Store, locker Locker, logger *slog.Logger, metrics Recorder) *Synchronizer {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{store: store, locker: locker, logger: logger, metrics: metrics}
}

// Assignment returns the stored assignment of a plant.
func (s *Synchronizer) Assignment(ctx context.Context, plantID string) (Assignment, error) {
	var out Assignment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := requirePlant(ctx, tx, plantID); err != nil {
			return err
		}
		a, err := tx.LoadAssignment(ctx, plantID)
		if err != nil {
			return err
		}
		out = a.Normalize()
		return nil
	})
	return out, err
}

// ReconcileForPlant stores the assignment wholesale and recomputes every
// user's membership of plantID from it.
func (s *Synchronizer) ReconcileForPlant(ctx context.Context, plantID string, a Assignment) (Result, error) {
	release, err := lockBoth(ctx, s.locker, plantID)
	if err != nil {
		return Result{}, fmt.Errorf("assignments: lock plant %s: %w", plantID, err)
	}
	defer release()

	var res Result
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := requirePlant(ctx, tx, plantID); err != nil {
			return err
		}
		a = a.Normalize()
		members, err := tx.LoadMembers(ctx)
		if err != nil {
			return err
		}
		if err := requireMembers(members, a); err != nil {
			return err
		}
		if err := tx.SaveAssignment(ctx, plantID, a); err != nil {
			return err
		}
		changed := applyPlant(members, plantID, a)
		res.Changed = ids(changed)
		return tx.SaveMembers(ctx, changed)
	})
	s.observe("plant", res, err, slog.String("plant_id", plantID))
	return res, err
}

// ReconcileForUser pushes a user's claimed memberships into the assignment
// slots mapped from the user's current role, then recomputes the user's
// memberships from the slots. It returns the member as stored.
func (s *Synchronizer) ReconcileForUser(ctx context.Context, m Member) (Member, Result, error) {
	release, err := s.locker.Lock(ctx, shared.MembersLockKey())
	if err != nil {
		return Member{}, Result{}, fmt.Errorf("assignments: lock members: %w", err)
	}
	defer release()

	slot := access.SlotFor(m.Role)
	claimed := make(map[string]struct{}, len(m.PlantIDs))
	for _, id := range m.PlantIDs {
		claimed[id] = struct{}{}
	}

	var (
		res    Result
		stored Member
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		members, err := tx.LoadMembers(ctx)
		if err != nil {
			return err
		}
		byID := make(map[string]int, len(members))
		for i, mm := range members {
			byID[mm.ID] = i
		}
		idx, ok := byID[m.ID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUserNotFound, m.ID)
		}
		plantIDs, err := tx.ListPlantIDs(ctx)
		if err != nil {
			return err
		}

		touched := make(map[int]struct{})
		var memberOf []string
		for _, plantID := range plantIDs {
			current, err := tx.LoadAssignment(ctx, plantID)
			if err != nil {
				return err
			}
			next := current.Without(m.ID)
			if _, ok := claimed[plantID]; ok {
				var displaced string
				next, displaced = current.Place(m.ID, slot)
				if i, ok := byID[displaced]; ok && displaced != m.ID && !next.Contains(displaced) {
					members[i].PlantIDs = remove(members[i].PlantIDs, plantID)
					touched[i] = struct{}{}
				}
			}
			if !next.Equal(current) {
				if err := tx.SaveAssignment(ctx, plantID, next); err != nil {
					return err
				}
			}
			if next.Contains(m.ID) {
				memberOf = append(memberOf, plantID)
			}
		}

		memberOf = uniqueSorted(memberOf)
		if !slices.Equal(uniqueSorted(members[idx].PlantIDs), memberOf) {
			members[idx].PlantIDs = memberOf
			touched[idx] = struct{}{}
		}
		members[idx].Role = m.Role
		stored = members[idx]

		changed := make([]Member, 0, len(touched))
		for i := range touched {
			changed = append(changed, members[i])
		}
		slices.SortFunc(changed, func(a, b Member) int { return strings.Compare(a.ID, b.ID) })
		res.Changed = ids(changed)
		return tx.SaveMembers(ctx, changed)
	})
	s.observe("user", res, err, slog.String("user_id", m.ID))
	if err != nil {
		return Member{}, Result{}, err
	}
	return stored, res, nil
}

// RemovePlant drops every membership of plantID and deletes its assignment.
func (s *Synchronizer) RemovePlant(ctx context.Context, plantID string) (Result, error) {
	release, err := lockBoth(ctx, s.locker, plantID)
	if err != nil {
		return Result{}, fmt.Errorf("assignments: lock plant %s: %w", plantID, err)
	}
	defer release()

	var res Result
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		members, err := tx.LoadMembers(ctx)
		if err != nil {
			return err
		}
		changed := applyPlant(members, plantID, Assignment{})
		res.Changed = ids(changed)
		if err := tx.SaveMembers(ctx, changed); err != nil {
			return err
		}
		return tx.DeleteAssignment(ctx, plantID)
	})
	s.observe("remove_plant", res, err, slog.String("plant_id", plantID))
	return res, err
}

// RemoveUser strips userID from every assignment slot and clears its
// memberships, so the user record can be deleted afterwards.
func (s *Synchronizer) RemoveUser(ctx context.Context, userID string) error {
	release, err := s.locker.Lock(ctx, shared.MembersLockKey())
	if err != nil {
		return fmt.Errorf("assignments: lock members: %w", err)
	}
	defer release()

	var res Result
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		plantIDs, err := tx.ListPlantIDs(ctx)
		if err != nil {
			return err
		}
		for _, plantID := range plantIDs {
			current, err := tx.LoadAssignment(ctx, plantID)
			if err != nil {
				return err
			}
			if !current.Contains(userID) {
				continue
			}
			if err := tx.SaveAssignment(ctx, plantID, current.Without(userID)); err != nil {
				return err
			}
		}
		members, err := tx.LoadMembers(ctx)
		if err != nil {
			return err
		}
		for _, m := range members {
			if m.ID != userID || len(m.PlantIDs) == 0 {
				continue
			}
			m.PlantIDs = nil
			res.Changed = []string{userID}
			return tx.SaveMembers(ctx, []Member{m})
		}
		return nil
	})
	s.observe("remove_user", res, err, slog.String("user_id", userID))
	return err
}

// ReconcileAll re-derives every membership from the stored assignments.
// Memberships of deleted plants and slots of deleted users are dropped.
// Concurrent calls share one sweep.
func (s *Synchronizer) ReconcileAll(ctx context.Context) (Result, error) {
	v, err, _ := s.sweep.Do("all", func() (any, error) {
		return s.reconcileAll(ctx)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (s *Synchronizer) reconcileAll(ctx context.Context) (Result, error) {
	release, err := s.locker.Lock(ctx, shared.MembersLockKey())
	if err != nil {
		return Result{}, fmt.Errorf("assignments: lock members: %w", err)
	}
	defer release()

	var res Result
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		members, err := tx.LoadMembers(ctx)
		if err != nil {
			return err
		}
		plantIDs, err := tx.ListPlantIDs(ctx)
		if err != nil {
			return err
		}
		known := make(map[string]struct{}, len(members))
		for _, m := range members {
			known[m.ID] = struct{}{}
		}
		touched := make(map[string]Member)
		for _, plantID := range plantIDs {
			a, err := tx.LoadAssignment(ctx, plantID)
			if err != nil {
				return err
			}
			if pruned := dropUnknown(a, known); !pruned.Equal(a) {
				if err := tx.SaveAssignment(ctx, plantID, pruned); err != nil {
					return err
				}
				s.logger.Warn("dropped unknown users from assignment", slog.String("plant_id", plantID))
				a = pruned
			}
			for _, m := range applyPlant(members, plantID, a) {
				touched[m.ID] = m
			}
		}
		for i := range members {
			kept := slices.DeleteFunc(slices.Clone(members[i].PlantIDs), func(id string) bool {
				return !slices.Contains(plantIDs, id)
			})
			if len(kept) != len(members[i].PlantIDs) {
				members[i].PlantIDs = kept
				touched[members[i].ID] = members[i]
			}
		}
		changed := make([]Member, 0, len(touched))
		for _, m := range touched {
			changed = append(changed, m)
		}
		slices.SortFunc(changed, func(a, b Member) int { return strings.Compare(a.ID, b.ID) })
		res.Changed = ids(changed)
		return tx.SaveMembers(ctx, changed)
	})
	s.observe("all", res, err)
	return res, err
}

func (s *Synchronizer) observe(op string, res Result, err error, attrs ...any) {
	if s.metrics != nil {
		s.metrics.ObserveReconcile(op, len(res.Changed), err)
	}
	attrs = append(attrs, slog.String("op", op), slog.Int("changed", len(res.Changed)))
	if err != nil {
		s.logger.Error("reconcile assignments", append(attrs, slog.Any("error", err))...)
		return
	}
	s.logger.Info("reconcile assignments", attrs...)
}

// applyPlant updates members in place so that plantID is present exactly for
// the users listed in a, returning copies of the members it changed.
func applyPlant(members []Member, plantID string, a Assignment) []Member {
	var changed []Member
	for i := range members {
		m := &members[i]
		has := slices.Contains(m.PlantIDs, plantID)
		want := a.Contains(m.ID)
		switch {
		case want && !has:
			m.PlantIDs = uniqueSorted(append(slices.Clone(m.PlantIDs), plantID))
		case !want && has:
			m.PlantIDs = remove(m.PlantIDs, plantID)
		default:
			continue
		}
		changed = append(changed, *m)
	}
	return changed
}

// dropUnknown returns a with every id missing from known removed.
func dropUnknown(a Assignment, known map[string]struct{}) Assignment {
	out := a.Normalize()
	for _, id := range out.Members() {
		if _, ok := known[id]; !ok {
			out = out.Without(id)
		}
	}
	return out
}

func requirePlant(ctx context.Context, tx Tx, plantID string) error {
	plantIDs, err := tx.ListPlantIDs(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(plantIDs, plantID) {
		return fmt.Errorf("%w: %s", ErrPlantNotFound, plantID)
	}
	return nil
}

func requireMembers(members []Member, a Assignment) error {
	known := make(map[string]struct{}, len(members))
	for _, m := range members {
		known[m.ID] = struct{}{}
	}
	for _, id := range a.Members() {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
	}
	return nil
}

func ids(members []Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.ID)
	}
	return out
}
