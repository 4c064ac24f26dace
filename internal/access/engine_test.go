package access

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func subject(id string, role Role, plants ...string) Subject {
	return Subject{ID: id, Role: role, PlantIDs: plants}
}

func TestEditImpliesView(t *testing.T) {
	plantSets := [][]string{nil, {"p1"}, {"p2"}, {"p1", "p2"}}
	for _, ar := range Roles() {
		for _, tr := range Roles() {
			for i, ap := range plantSets {
				for j, tp := range plantSets {
					actor := subject(fmt.Sprintf("a-%d", i), ar, ap...)
					target := subject(fmt.Sprintf("t-%d", j), tr, tp...)
					if CanEditUser(actor, target) {
						require.Truef(t, CanViewUser(actor, target), "%s can edit %s but not view (plants %v/%v)", ar, tr, ap, tp)
					}
				}
			}
		}
	}
}

func TestSelfAccess(t *testing.T) {
	for _, r := range append(Roles(), roleInvalid) {
		u := subject("u1", r)
		require.True(t, CanViewUser(u, u), r.String())
		require.True(t, CanEditUser(u, u), r.String())
	}
}

func TestAdminIsUniversal(t *testing.T) {
	admin := subject("admin", RoleAdmin)
	for _, r := range Roles() {
		target := subject("t", r, "p9")
		require.True(t, CanViewUser(admin, target))
		require.True(t, CanEditUser(admin, target))
	}
	require.True(t, CanViewPlant(admin, "any"))
	require.True(t, CanEditPlant(admin, "any"))
}

func TestViewUserTable(t *testing.T) {
	cases := []struct {
		name   string
		actor  Subject
		target Subject
		want   bool
	}{
		{"operator sees admin", subject("o", RoleOperator), subject("a", RoleAdmin), true},
		{"operator sees coordinator", subject("o", RoleOperator), subject("c", RoleCoordinator), true},
		{"coordinator never sees admin", subject("c", RoleCoordinator, "p1"), subject("a", RoleAdmin, "p1"), false},
		{"coordinator sees operator", subject("c", RoleCoordinator), subject("o", RoleOperator), true},
		{"coordinator sees other coordinator", subject("c", RoleCoordinator), subject("c2", RoleCoordinator), true},
		{"coordinator sees supervisor on shared plant", subject("c", RoleCoordinator, "p1", "p2"), subject("s", RoleSupervisor, "p2"), true},
		{"coordinator misses supervisor elsewhere", subject("c", RoleCoordinator, "p1", "p2"), subject("s", RoleSupervisor, "p3"), false},
		{"supervisor misses technician elsewhere", subject("s", RoleSupervisor, "p1"), subject("t", RoleTechnician, "p2"), false},
		{"supervisor sees technician on shared plant", subject("s", RoleSupervisor, "p1"), subject("t", RoleTechnician, "p1", "p2"), true},
		{"supervisor sees peer on shared plant", subject("s", RoleSupervisor, "p1"), subject("s2", RoleSupervisor, "p1"), true},
		{"supervisor never sees coordinator", subject("s", RoleSupervisor, "p1"), subject("c", RoleCoordinator, "p1"), false},
		{"supervisor never sees operator", subject("s", RoleSupervisor, "p1"), subject("o", RoleOperator, "p1"), false},
		{"technician never sees other technician", subject("t1", RoleTechnician, "p1"), subject("t2", RoleTechnician, "p1"), false},
		{"technician sees assistant on shared plant", subject("t", RoleTechnician, "p1"), subject("x", RoleAssistant, "p1"), true},
		{"technician misses supervisor", subject("t", RoleTechnician, "p1"), subject("s", RoleSupervisor, "p1"), false},
		{"assistant sees technician on shared plant", subject("x", RoleAssistant, "p1"), subject("t", RoleTechnician, "p1"), true},
		{"assistant misses technician elsewhere", subject("x", RoleAssistant, "p1"), subject("t", RoleTechnician, "p2"), false},
		{"assistant misses other assistant", subject("x", RoleAssistant, "p1"), subject("y", RoleAssistant, "p1"), false},
		{"invalid actor role denied", subject("z", roleInvalid, "p1"), subject("t", RoleTechnician, "p1"), false},
		{"invalid target role denied", subject("c", RoleCoordinator), subject("z", roleInvalid), false},
		{"missing target id denied", subject("a", RoleAdmin), subject("", RoleTechnician), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, CanViewUser(tc.actor, tc.target))
		})
	}
}

func TestEditUserTable(t *testing.T) {
	cases := []struct {
		name   string
		actor  Subject
		target Subject
		want   bool
	}{
		{"operator edits operator", subject("o", RoleOperator), subject("o2", RoleOperator), true},
		{"operator edits assistant", subject("o", RoleOperator), subject("x", RoleAssistant), true},
		{"operator cannot edit supervisor", subject("o", RoleOperator), subject("s", RoleSupervisor), false},
		{"operator cannot edit admin", subject("o", RoleOperator), subject("a", RoleAdmin), false},
		{"coordinator edits technician on shared plant", subject("c", RoleCoordinator, "p1"), subject("t", RoleTechnician, "p1"), true},
		{"coordinator cannot edit operator", subject("c", RoleCoordinator), subject("o", RoleOperator), false},
		{"coordinator cannot edit coordinator", subject("c", RoleCoordinator, "p1"), subject("c2", RoleCoordinator, "p1"), false},
		{"supervisor cannot edit peer", subject("s", RoleSupervisor, "p1"), subject("s2", RoleSupervisor, "p1"), false},
		{"supervisor edits assistant on shared plant", subject("s", RoleSupervisor, "p1"), subject("x", RoleAssistant, "p1"), true},
		{"technician edits assistant on shared plant", subject("t", RoleTechnician, "p1"), subject("x", RoleAssistant, "p1"), true},
		{"technician cannot edit assistant elsewhere", subject("t", RoleTechnician, "p1"), subject("x", RoleAssistant, "p2"), false},
		{"assistant cannot edit technician", subject("x", RoleAssistant, "p1"), subject("t", RoleTechnician, "p1"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, CanEditUser(tc.actor, tc.target))
		})
	}
}

func TestPlantRules(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleOperator} {
		u := subject("u", r)
		require.True(t, CanViewPlant(u, "p1"))
		require.True(t, CanEditPlant(u, "p1"))
	}
	for _, r := range []Role{RoleCoordinator, RoleSupervisor} {
		u := subject("u", r, "p1")
		require.True(t, CanViewPlant(u, "p1"))
		require.True(t, CanEditPlant(u, "p1"))
		require.False(t, CanViewPlant(u, "p2"))
		require.False(t, CanEditPlant(u, "p2"))
	}
	for _, r := range []Role{RoleTechnician, RoleAssistant} {
		u := subject("u", r, "p1")
		require.True(t, CanViewPlant(u, "p1"))
		require.False(t, CanEditPlant(u, "p1"))
		require.False(t, CanViewPlant(u, "p2"))
	}
	require.False(t, CanViewPlant(subject("z", roleInvalid, "p1"), "p1"))
	require.False(t, CanViewPlant(subject("a", RoleAdmin), ""))
}

func TestDecisionReason(t *testing.T) {
	d := DecideUser(OpViewUser, subject("s", RoleSupervisor, "p1"), subject("t", RoleTechnician, "p2"))
	require.False(t, d.Allowed)
	require.Equal(t, "SUPERVISOR->TECHNICIAN: no shared plant", d.Reason)

	d = DecideUser(OpViewUser, subject("u", RoleAssistant), subject("u", RoleAssistant))
	require.True(t, d.Allowed)
	require.Equal(t, "self", d.Reason)
}

func TestSubjectValidate(t *testing.T) {
	require.NoError(t, subject("u", RoleTechnician).Validate())
	require.ErrorIs(t, subject("", RoleTechnician).Validate(), ErrMalformedSubject)
	require.ErrorIs(t, subject("u", roleInvalid).Validate(), ErrMalformedSubject)
}
