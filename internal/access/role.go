package access

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Role is the canonical role enumeration used by the permission engine.
// The zero value is invalid and never matches a decision-table row.
type Role uint8

const (
	roleInvalid Role = iota
	RoleAdmin
	RoleOperator
	RoleCoordinator
	RoleSupervisor
	RoleTechnician
	RoleAssistant
)

// ErrUnknownRole is returned by ParseRole for spellings outside the mapping.
var ErrUnknownRole = errors.New("access: unknown role")

// Roles lists every canonical role in hierarchy order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleOperator, RoleCoordinator, RoleSupervisor, RoleTechnician, RoleAssistant}
}

var roleNames = map[Role]string{
	RoleAdmin:       "ADMIN",
	RoleOperator:    "OPERATOR",
	RoleCoordinator: "COORDINATOR",
	RoleSupervisor:  "SUPERVISOR",
	RoleTechnician:  "TECHNICIAN",
	RoleAssistant:   "ASSISTANT",
}

// roleAliases maps folded external spellings onto canonical roles. Keys are
// lower case with diacritics stripped, see foldRoleName.
var roleAliases = map[string]Role{
	"admin":         RoleAdmin,
	"administrator": RoleAdmin,
	"administrador": RoleAdmin,
	"operator":      RoleOperator,
	"operador":      RoleOperator,
	"coordinator":   RoleCoordinator,
	"coordenador":   RoleCoordinator,
	"supervisor":    RoleSupervisor,
	"technician":    RoleTechnician,
	"tecnico":       RoleTechnician,
	"assistant":     RoleAssistant,
	"auxiliar":      RoleAssistant,
}

// ParseRole maps any accepted external representation, English or
// Portuguese, onto a canonical role.
func ParseRole(raw string) (Role, error) {
	key, err := foldRoleName(raw)
	if err != nil {
		return roleInvalid, fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	role, ok := roleAliases[key]
	if !ok {
		return roleInvalid, fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return role, nil
}

// MustParseRole is ParseRole for compile-time constants and tests.
func MustParseRole(raw string) Role {
	role, err := ParseRole(raw)
	if err != nil {
		panic(err)
	}
	return role
}

func foldRoleName(raw string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	folded, _, err := transform.String(t, strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return folded, nil
}

// Valid reports whether r is one of the six canonical roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "INVALID"
}

// MarshalText emits the English upper-case name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, uint8(r))
	}
	return []byte(roleNames[r]), nil
}

// UnmarshalText accepts every spelling ParseRole accepts.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Slot is an assignment role slot a user can occupy for a plant.
type Slot uint8

const (
	SlotNone Slot = iota
	SlotCoordinator
	SlotSupervisor
	SlotTechnician
	SlotAssistant
)

// slotTable is the single role to slot mapping. Admin and Operator occupy no slot.
var slotTable = map[Role]Slot{
	RoleAdmin:       SlotNone,
	RoleOperator:    SlotNone,
	RoleCoordinator: SlotCoordinator,
	RoleSupervisor:  SlotSupervisor,
	RoleTechnician:  SlotTechnician,
	RoleAssistant:   SlotAssistant,
}

// SlotFor returns the assignment slot occupied by the role. Unknown roles map
// to SlotNone.
func SlotFor(r Role) Slot {
	return slotTable[r]
}

func (s Slot) String() string {
	switch s {
	case SlotCoordinator:
		return "coordinator"
	case SlotSupervisor:
		return "supervisor"
	case SlotTechnician:
		return "technician"
	case SlotAssistant:
		return "assistant"
	default:
		return "none"
	}
}
