package jsonfile

import (
	"context"
	"slices"

	"github.com/loopos/loopos/internal/assignments"
)

// WithTx runs fn against one snapshot of the data directory and writes it
// back only if fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, assignments.Tx) error) error {
	return s.update(ctx, func(st *state) error {
		return fn(ctx, &tx{st: st})
	})
}

type tx struct {
	st *state
}

func (t *tx) LoadMembers(ctx context.Context) ([]assignments.Member, error) {
	out := make([]assignments.Member, 0, len(t.st.users))
	for _, r := range t.st.users {
		out = append(out, assignments.Member{ID: r.ID, Role: r.Role, PlantIDs: slices.Clone(r.PlantIDs)})
	}
	return out, nil
}

func (t *tx) SaveMembers(ctx context.Context, members []assignments.Member) error {
	for _, m := range members {
		for i := range t.st.users {
			if t.st.users[i].ID == m.ID {
				t.st.users[i].PlantIDs = slices.Clone(m.PlantIDs)
				break
			}
		}
	}
	return nil
}

func (t *tx) ListPlantIDs(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(t.st.plants))
	for _, p := range t.st.plants {
		out = append(out, p.ID)
	}
	slices.Sort(out)
	return out, nil
}

func (t *tx) LoadAssignment(ctx context.Context, plantID string) (assignments.Assignment, error) {
	return t.st.assignments[plantID].assignment(), nil
}

func (t *tx) SaveAssignment(ctx context.Context, plantID string, a assignments.Assignment) error {
	t.st.assignments[plantID] = fromAssignment(a.Normalize())
	return nil
}

func (t *tx) DeleteAssignment(ctx context.Context, plantID string) error {
	delete(t.st.assignments, plantID)
	return nil
}
