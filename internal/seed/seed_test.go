package seed

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/assignments"
	"github.com/loopos/loopos/internal/storage/jsonfile"
)

func newLoader(t *testing.T) (*Loader, *jsonfile.Store, *assignments.Synchronizer) {
	t.Helper()
	store, err := jsonfile.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	syncer := assignments.NewSynchronizer(store, nil, nil, nil)
	return NewLoader(store, syncer, nil), store, syncer
}

func TestApplyTeamFile(t *testing.T) {
	loader, store, syncer := newLoader(t)
	ctx := context.Background()

	f, err := ParseFile(filepath.Join("testdata", "team.yml"))
	require.NoError(t, err)
	require.Len(t, f.Plants, 2)
	require.Len(t, f.Users, 6)

	sum, err := loader.Apply(ctx, f)
	require.NoError(t, err)
	require.Equal(t, 2, sum.PlantsCreated)
	require.Equal(t, 6, sum.UsersCreated)
	require.Equal(t, 2, sum.Assignments)

	tec2, err := store.GetUser(ctx, "tec2")
	require.NoError(t, err)
	require.Equal(t, access.RoleTechnician, tec2.Role)
	require.Equal(t, []string{"usina-norte", "usina-sul"}, tec2.PlantIDs)

	aux, err := store.GetUser(ctx, "aux")
	require.NoError(t, err)
	require.Equal(t, access.RoleAssistant, aux.Role)
	require.Equal(t, []string{"usina-norte"}, aux.PlantIDs)

	admin, err := store.GetUser(ctx, "admin")
	require.NoError(t, err)
	require.Empty(t, admin.PlantIDs)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("trocar123")))

	a, err := syncer.Assignment(ctx, "usina-norte")
	require.NoError(t, err)
	require.Equal(t, "coord", a.CoordinatorID)
	require.Equal(t, []string{"tec1", "tec2"}, a.TechnicianIDs)

	again, err := loader.Apply(ctx, f)
	require.NoError(t, err)
	require.Equal(t, 0, again.PlantsCreated)
	require.Equal(t, 6, again.UsersSkipped)
	require.Zero(t, again.Memberships)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("plantz: []\n"))
	require.Error(t, err)

	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, f.Plants)
}

func TestApplyValidatesBeforeWriting(t *testing.T) {
	loader, store, _ := newLoader(t)
	ctx := context.Background()

	f, err := Parse(strings.NewReader(`
plants:
  - {id: p1, client: Acme, name: Norte}
users:
  - {id: u1, name: Ugo, username: ugo, role: gerente}
  - {id: u1, name: Ugo, username: ugo2, role: admin}
`))
	require.NoError(t, err)

	_, err = loader.Apply(ctx, f)
	require.ErrorIs(t, err, access.ErrUnknownRole)
	require.ErrorContains(t, err, "listed twice")

	list, err := store.ListPlants(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestApplyRejectsUnknownAssignee(t *testing.T) {
	loader, _, _ := newLoader(t)
	f, err := Parse(strings.NewReader(`
plants:
  - id: p1
    client: Acme
    name: Norte
    assignment: {technicians: [ghost]}
`))
	require.NoError(t, err)

	_, err = loader.Apply(context.Background(), f)
	require.ErrorIs(t, err, assignments.ErrUserNotFound)
}
