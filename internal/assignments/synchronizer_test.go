package assignments

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loopos/loopos/internal/access"
)

type memoryState struct {
	members     map[string]Member
	plants      []string
	assignments map[string]Assignment
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		members:     make(map[string]Member, len(s.members)),
		plants:      slices.Clone(s.plants),
		assignments: make(map[string]Assignment, len(s.assignments)),
	}
	for id, m := range s.members {
		m.PlantIDs = slices.Clone(m.PlantIDs)
		out.members[id] = m
	}
	for id, a := range s.assignments {
		out.assignments[id] = a.Normalize()
	}
	return out
}

type memoryStore struct {
	mu        sync.Mutex
	state     memoryState
	failSaves bool
}

type memoryTx struct {
	store *memoryStore
	state *memoryState
}

func newMemoryStore(plants ...string) *memoryStore {
	return &memoryStore{state: memoryState{
		members:     make(map[string]Member),
		plants:      plants,
		assignments: make(map[string]Assignment),
	}}
}

func (s *memoryStore) addMember(id string, role access.Role, plants ...string) {
	s.state.members[id] = Member{ID: id, Role: role, PlantIDs: plants}
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.state.clone()
	if err := fn(ctx, &memoryTx{store: s, state: &working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *memoryStore) snapshot() memoryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (tx *memoryTx) LoadMembers(ctx context.Context) ([]Member, error) {
	out := make([]Member, 0, len(tx.state.members))
	for _, m := range tx.state.members {
		m.PlantIDs = slices.Clone(m.PlantIDs)
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Member) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (tx *memoryTx) SaveMembers(ctx context.Context, members []Member) error {
	if tx.store.failSaves && len(members) > 0 {
		return errors.New("disk full")
	}
	for _, m := range members {
		cur := tx.state.members[m.ID]
		cur.PlantIDs = slices.Clone(m.PlantIDs)
		tx.state.members[m.ID] = cur
	}
	return nil
}

func (tx *memoryTx) ListPlantIDs(ctx context.Context) ([]string, error) {
	return slices.Clone(tx.state.plants), nil
}

func (tx *memoryTx) LoadAssignment(ctx context.Context, plantID string) (Assignment, error) {
	return tx.state.assignments[plantID], nil
}

func (tx *memoryTx) SaveAssignment(ctx context.Context, plantID string, a Assignment) error {
	tx.state.assignments[plantID] = a.Normalize()
	return nil
}

func (tx *memoryTx) DeleteAssignment(ctx context.Context, plantID string) error {
	delete(tx.state.assignments, plantID)
	return nil
}

func requireInvariant(t *testing.T, st memoryState) {
	t.Helper()
	for _, m := range st.members {
		for _, p := range st.plants {
			inSet := slices.Contains(m.PlantIDs, p)
			inSlot := st.assignments[p].Contains(m.ID)
			require.Equalf(t, inSlot, inSet, "user %s plant %s: slot=%v membership=%v", m.ID, p, inSlot, inSet)
		}
	}
}

func plantsOf(st memoryState, id string) []string {
	return uniqueSorted(st.members[id].PlantIDs)
}

func TestReconcileForPlant(t *testing.T) {
	store := newMemoryStore("p1", "p2")
	store.addMember("c1", access.RoleCoordinator)
	store.addMember("s1", access.RoleSupervisor, "p1")
	store.addMember("t1", access.RoleTechnician)
	syncer := NewSynchronizer(store, nil, nil, nil)
	ctx := context.Background()

	res, err := syncer.ReconcileForPlant(ctx, "p2", Assignment{CoordinatorID: "c1", TechnicianIDs: []string{"t1", "t1"}})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"c1", "t1"}, res.Changed)

	st := store.snapshot()
	require.Equal(t, []string{"p2"}, plantsOf(st, "c1"))
	require.Equal(t, []string{"p2"}, plantsOf(st, "t1"))
	require.Equal(t, []string{"t1"}, st.assignments["p2"].TechnicianIDs)

	// Wholesale replacement drops t1.
	_, err = syncer.ReconcileForPlant(ctx, "p2", Assignment{CoordinatorID: "c1"})
	require.NoError(t, err)
	st = store.snapshot()
	require.Empty(t, plantsOf(st, "t1"))

	_, err = syncer.ReconcileForPlant(ctx, "missing", Assignment{})
	require.ErrorIs(t, err, ErrPlantNotFound)

	_, err = syncer.ReconcileForPlant(ctx, "p2", Assignment{CoordinatorID: "c1", AssistantIDs: []string{"ghost"}})
	require.ErrorIs(t, err, ErrUserNotFound)
	require.Empty(t, store.snapshot().assignments["p2"].AssistantIDs)
}

func TestReconcileForPlantIdempotent(t *testing.T) {
	store := newMemoryStore("p1")
	store.addMember("s1", access.RoleSupervisor)
	store.addMember("t1", access.RoleTechnician, "p1")
	store.addMember("x1", access.RoleAssistant)
	syncer := NewSynchronizer(store, nil, nil, nil)
	ctx := context.Background()
	a := Assignment{SupervisorIDs: []string{"s1"}, AssistantIDs: []string{"x1"}}

	_, err := syncer.ReconcileForPlant(ctx, "p1", a)
	require.NoError(t, err)
	first := store.snapshot()

	res, err := syncer.ReconcileForPlant(ctx, "p1", a)
	require.NoError(t, err)
	require.Empty(t, res.Changed)
	second := store.snapshot()
	for id := range first.members {
		require.Equal(t, plantsOf(first, id), plantsOf(second, id))
	}
	requireInvariant(t, second)
}

func TestReconcileForUser(t *testing.T) {
	store := newMemoryStore("p1", "p2", "p3")
	store.addMember("t1", access.RoleTechnician, "p1")
	store.state.assignments["p1"] = Assignment{TechnicianIDs: []string{"t1"}}
	store.state.assignments["p3"] = Assignment{SupervisorIDs: []string{"s9"}}
	syncer := NewSynchronizer(store, nil, nil, nil)
	ctx := context.Background()

	// Claims p2 and an unknown plant, drops p1.
	stored, res, err := syncer.ReconcileForUser(ctx, Member{ID: "t1", Role: access.RoleTechnician, PlantIDs: []string{"p2", "ghost"}})
	require.NoError(t, err)
	require.Equal(t, []string{"p2"}, stored.PlantIDs)
	require.Equal(t, []string{"t1"}, res.Changed)

	st := store.snapshot()
	require.False(t, st.assignments["p1"].Contains("t1"))
	require.Equal(t, []string{"t1"}, st.assignments["p2"].TechnicianIDs)
	require.Equal(t, []string{"s9"}, st.assignments["p3"].SupervisorIDs, "unmentioned plants untouched")
	requireInvariant(t, st)
}

func TestReconcileForUserIdempotent(t *testing.T) {
	store := newMemoryStore("p1", "p2", "p3")
	store.addMember("c1", access.RoleCoordinator, "p1")
	store.addMember("c2", access.RoleCoordinator)
	store.state.assignments["p1"] = Assignment{CoordinatorID: "c1", TechnicianIDs: []string{"c2"}}
	syncer := NewSynchronizer(store, nil, nil, nil)
	ctx := context.Background()
	m := Member{ID: "c2", Role: access.RoleCoordinator, PlantIDs: []string{"p1", "p3", "ghost"}}

	_, res, err := syncer.ReconcileForUser(ctx, m)
	require.NoError(t, err)
	require.NotEmpty(t, res.Changed)
	first := store.snapshot()

	stored, res, err := syncer.ReconcileForUser(ctx, m)
	require.NoError(t, err)
	require.Empty(t, res.Changed)
	require.Equal(t, []string{"p1", "p3"}, stored.PlantIDs)
	second := store.snapshot()
	for id := range first.members {
		require.Equal(t, plantsOf(first, id), plantsOf(second, id))
	}
	for _, p := range second.plants {
		require.True(t, first.assignments[p].Equal(second.assignments[p]), "plant %s", p)
	}
	requireInvariant(t, second)
}

func TestReconcileForUserRoleChangeMovesSlot(t *testing.T) {
	store := newMemoryStore("p1")
	store.addMember("u1", access.RoleSupervisor, "p1")
	store.state.assignments["p1"] = Assignment{TechnicianIDs: []string{"u1"}}
	syncer := NewSynchronizer(store, nil, nil, nil)

	_, _, err := syncer.ReconcileForUser(context.Background(), Member{ID: "u1", Role: access.RoleSupervisor, PlantIDs: []string{"p1"}})
	require.NoError(t, err)
	st := store.snapshot()
	require.Equal(t, []string{"u1"}, st.assignments["p1"].SupervisorIDs)
	require.Empty(t, st.assignments["p1"].TechnicianIDs)
}

func TestReconcileForUserDisplacesCoordinator(t *testing.T) {
	store := newMemoryStore("p1")
	store.addMember("c1", access.RoleCoordinator, "p1")
	store.addMember("c2", access.RoleCoordinator)
	store.state.assignments["p1"] = Assignment{CoordinatorID: "c1"}
	syncer := NewSynchronizer(store, nil, nil, nil)

	_, res, err := syncer.ReconcileForUser(context.Background(), Member{ID: "c2", Role: access.RoleCoordinator, PlantIDs: []string{"p1"}})
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c2"}, res.Changed)
	st := store.snapshot()
	require.Equal(t, "c2", st.assignments["p1"].CoordinatorID)
	require.Empty(t, plantsOf(st, "c1"))
	requireInvariant(t, st)
}

func TestReconcileForUserWithoutSlot(t *testing.T) {
	store := newMemoryStore("p1", "p2")
	store.addMember("a1", access.RoleAdmin, "p1")
	store.state.assignments["p1"] = Assignment{CoordinatorID: "a1"}
	syncer := NewSynchronizer(store, nil, nil, nil)

	stored, _, err := syncer.ReconcileForUser(context.Background(), Member{ID: "a1", Role: access.RoleAdmin, PlantIDs: []string{"p1", "p2"}})
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, stored.PlantIDs, "existing slot kept, p2 not representable")
	requireInvariant(t, store.snapshot())

	_, _, err = syncer.ReconcileForUser(context.Background(), Member{ID: "nobody", Role: access.RoleAdmin})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestReconcileFailureLeavesStateIntact(t *testing.T) {
	store := newMemoryStore("p1")
	store.addMember("t1", access.RoleTechnician)
	store.failSaves = true
	syncer := NewSynchronizer(store, nil, nil, nil)

	_, err := syncer.ReconcileForPlant(context.Background(), "p1", Assignment{TechnicianIDs: []string{"t1"}})
	require.Error(t, err)
	st := store.snapshot()
	require.True(t, st.assignments["p1"].IsEmpty())
	require.Empty(t, plantsOf(st, "t1"))
}

func TestRemovePlantAndUser(t *testing.T) {
	store := newMemoryStore("p1", "p2")
	store.addMember("s1", access.RoleSupervisor)
	store.addMember("t1", access.RoleTechnician)
	syncer := NewSynchronizer(store, nil, nil, nil)
	ctx := context.Background()

	_, err := syncer.ReconcileForPlant(ctx, "p1", Assignment{SupervisorIDs: []string{"s1"}, TechnicianIDs: []string{"t1"}})
	require.NoError(t, err)
	_, err = syncer.ReconcileForPlant(ctx, "p2", Assignment{TechnicianIDs: []string{"t1"}})
	require.NoError(t, err)

	_, err = syncer.RemovePlant(ctx, "p1")
	require.NoError(t, err)
	st := store.snapshot()
	require.Empty(t, plantsOf(st, "s1"))
	require.Equal(t, []string{"p2"}, plantsOf(st, "t1"))
	_, ok := st.assignments["p1"]
	require.False(t, ok)

	require.NoError(t, syncer.RemoveUser(ctx, "t1"))
	st = store.snapshot()
	require.False(t, st.assignments["p2"].Contains("t1"))
	require.Empty(t, plantsOf(st, "t1"))
	requireInvariant(t, st)
}

func TestReconcileAllRepairsDrift(t *testing.T) {
	store := newMemoryStore("p1")
	store.addMember("t1", access.RoleTechnician, "p1", "deleted-plant")
	store.addMember("t2", access.RoleTechnician)
	store.state.assignments["p1"] = Assignment{TechnicianIDs: []string{"t2"}}
	syncer := NewSynchronizer(store, nil, nil, nil)

	res, err := syncer.ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t2"}, res.Changed)
	st := store.snapshot()
	require.Empty(t, plantsOf(st, "t1"))
	require.Equal(t, []string{"p1"}, plantsOf(st, "t2"))
	requireInvariant(t, st)
}

func TestReconcileAllDropsDeletedUsers(t *testing.T) {
	store := newMemoryStore("p1")
	store.addMember("s1", access.RoleSupervisor, "p1")
	store.state.assignments["p1"] = Assignment{CoordinatorID: "gone", SupervisorIDs: []string{"s1"}, TechnicianIDs: []string{"gone-too"}}
	syncer := NewSynchronizer(store, nil, nil, nil)
	ctx := context.Background()

	_, err := syncer.ReconcileAll(ctx)
	require.NoError(t, err)
	a := store.snapshot().assignments["p1"]
	require.True(t, a.Equal(Assignment{SupervisorIDs: []string{"s1"}}), "got %+v", a)

	// The cleaned assignment round-trips through ReconcileForPlant.
	_, err = syncer.ReconcileForPlant(ctx, "p1", a)
	require.NoError(t, err)
	requireInvariant(t, store.snapshot())
}

func TestInvariantHoldsAcrossRandomSequences(t *testing.T) {
	roles := access.Roles()
	plants := []string{"p1", "p2", "p3", "p4"}
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		store := newMemoryStore(plants...)
		var userIDs []string
		for i := 0; i < 8; i++ {
			id := fmt.Sprintf("u%d", i)
			userIDs = append(userIDs, id)
			store.addMember(id, roles[rng.Intn(len(roles))])
		}
		syncer := NewSynchronizer(store, nil, nil, nil)
		pick := func() []string {
			var out []string
			for _, id := range userIDs {
				if rng.Intn(4) == 0 {
					out = append(out, id)
				}
			}
			return out
		}

		for step := 0; step < 30; step++ {
			if rng.Intn(2) == 0 {
				a := Assignment{SupervisorIDs: pick(), TechnicianIDs: pick(), AssistantIDs: pick()}
				if rng.Intn(2) == 0 {
					a.CoordinatorID = userIDs[rng.Intn(len(userIDs))]
				}
				_, err := syncer.ReconcileForPlant(ctx, plants[rng.Intn(len(plants))], a)
				require.NoError(t, err)
			} else {
				id := userIDs[rng.Intn(len(userIDs))]
				var claimed []string
				for _, p := range plants {
					if rng.Intn(2) == 0 {
						claimed = append(claimed, p)
					}
				}
				role := store.snapshot().members[id].Role
				if rng.Intn(5) == 0 {
					role = roles[rng.Intn(len(roles))]
				}
				_, _, err := syncer.ReconcileForUser(ctx, Member{ID: id, Role: role, PlantIDs: claimed})
				require.NoError(t, err)
			}
			requireInvariant(t, store.snapshot())
		}

		before := store.snapshot()
		res, err := syncer.ReconcileAll(ctx)
		require.NoError(t, err)
		require.Empty(t, res.Changed, "consistent state needs no repair")
		require.Equal(t, len(before.members), len(store.snapshot().members))
	}
}

func TestConcurrentReconcileSerializes(t *testing.T) {
	store := newMemoryStore("p1", "p2")
	for i := 0; i < 20; i++ {
		store.addMember(fmt.Sprintf("t%02d", i), access.RoleTechnician)
	}
	syncer := NewSynchronizer(store, NewLocalLocker(), nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			plant := "p1"
			if i%2 == 1 {
				plant = "p2"
			}
			_, err := syncer.ReconcileForPlant(ctx, plant, Assignment{TechnicianIDs: []string{fmt.Sprintf("t%02d", i)}})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	requireInvariant(t, store.snapshot())
}
