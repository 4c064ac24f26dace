package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/assignments"
	"github.com/loopos/loopos/internal/plants"
	"github.com/loopos/loopos/internal/platform/db"
	"github.com/loopos/loopos/internal/users"
	"github.com/loopos/loopos/internal/workorders"
)

const dsnEnv = "LOOPOS_TEST_PG_DSN"

// openStore connects to a disposable database named by LOOPOS_TEST_PG_DSN.
func openStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := New(pool)
	require.NoError(t, store.Migrate(ctx))
	truncate(t, pool)
	return store
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `TRUNCATE work_orders, plant_assignments, plants, users`)
	require.NoError(t, err)
}

func TestMigrateIsRepeatable(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestUsersAndPlants(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePlant(ctx, plants.Plant{
		ID: "p1", Client: "Acme", Name: "Norte",
		SubPlants: []plants.SubPlant{{ID: 1, InverterCount: 4}},
		Assets:    []string{"INV-01"},
	}))
	require.NoError(t, store.CreateUser(ctx, users.User{ID: "t1", Name: "Tiago", Username: "tiago", Role: access.RoleTechnician}))
	err := store.CreateUser(ctx, users.User{ID: "t2", Name: "Outro", Username: "tiago", Role: access.RoleAssistant})
	require.ErrorIs(t, err, users.ErrDuplicateUsername)

	p, err := store.GetPlant(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, []plants.SubPlant{{ID: 1, InverterCount: 4}}, p.SubPlants)

	u, err := store.GetUser(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, access.RoleTechnician, u.Role)
	require.Empty(t, u.PlantIDs)

	_, err = store.GetUser(ctx, "ghost")
	require.ErrorIs(t, err, users.ErrNotFound)
	require.ErrorIs(t, store.DeletePlant(ctx, "ghost"), plants.ErrNotFound)
}

func TestSynchronizerOnPostgres(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreatePlant(ctx, plants.Plant{ID: "p1", Client: "Acme", Name: "Norte"}))
	require.NoError(t, store.CreateUser(ctx, users.User{ID: "c1", Name: "Caio", Username: "caio", Role: access.RoleCoordinator}))
	require.NoError(t, store.CreateUser(ctx, users.User{ID: "t1", Name: "Tiago", Username: "tiago", Role: access.RoleTechnician}))

	syncer := assignments.NewSynchronizer(store, assignments.NewLocalLocker(), nil, nil)
	_, err := syncer.ReconcileForPlant(ctx, "p1", assignments.Assignment{CoordinatorID: "c1", TechnicianIDs: []string{"t1"}})
	require.NoError(t, err)

	tech, err := store.GetUser(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, tech.PlantIDs)

	a, err := syncer.Assignment(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "c1", a.CoordinatorID)

	_, err = syncer.RemovePlant(ctx, "p1")
	require.NoError(t, err)
	tech, err = store.GetUser(ctx, "t1")
	require.NoError(t, err)
	require.Empty(t, tech.PlantIDs)
}

func TestOrders(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	o := workorders.Order{
		ID: "OS0001", Title: "OS0001 - Limpeza", Status: workorders.StatusPending,
		Priority: workorders.PriorityHigh, PlantID: "p1", StartDate: now, Activity: "Limpeza",
		Logs: []workorders.Log{{ID: "l1", Timestamp: now, AuthorID: "t1", Comment: "ok",
			StatusChange: &workorders.StatusChange{From: workorders.StatusPending, To: workorders.StatusInProgress}}},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateOrder(ctx, o))

	got, err := store.GetOrder(ctx, "OS0001")
	require.NoError(t, err)
	require.Equal(t, workorders.StatusPending, got.Status)
	require.Len(t, got.Logs, 1)
	require.Equal(t, workorders.StatusInProgress, got.Logs[0].StatusChange.To)

	got.Status = workorders.StatusCompleted
	require.NoError(t, store.UpdateOrder(ctx, got))
	list, err := store.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, workorders.StatusCompleted, list[0].Status)

	_, err = store.GetOrder(ctx, "OS9999")
	require.ErrorIs(t, err, workorders.ErrNotFound)
}
