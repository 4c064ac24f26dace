// Package access implements the role-based visibility and edit-permission
// engine for users and plants. Every function is pure and safe for
// concurrent use.
package access

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrForbidden indicates the engine denied the operation.
	ErrForbidden = errors.New("access: forbidden")
	// ErrMalformedSubject indicates a subject without an id or a valid role.
	ErrMalformedSubject = errors.New("access: malformed subject")
)

// Subject is the engine's view of a user record.
type Subject struct {
	ID       string
	Role     Role
	PlantIDs []string
}

// Validate reports precondition violations the caller should surface.
func (s Subject) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedSubject)
	}
	if !s.Role.Valid() {
		return fmt.Errorf("%w: invalid role for %s", ErrMalformedSubject, s.ID)
	}
	return nil
}

// HasPlant reports plant membership.
func (s Subject) HasPlant(plantID string) bool {
	return plantID != "" && slices.Contains(s.PlantIDs, plantID)
}

// SharesPlant reports whether the two subjects have at least one plant in common.
func (s Subject) SharesPlant(other Subject) bool {
	for _, id := range s.PlantIDs {
		if other.HasPlant(id) {
			return true
		}
	}
	return false
}

// Operation names an authorization question.
type Operation string

const (
	OpViewUser  Operation = "view_user"
	OpEditUser  Operation = "edit_user"
	OpViewPlant Operation = "view_plant"
	OpEditPlant Operation = "edit_plant"
)

// Decision carries the verdict and the table row that produced it.
type Decision struct {
	Allowed bool
	Reason  string
}

type verdict uint8

const (
	deny verdict = iota
	allow
	sharedPlant
)

// rule matches target roles; a nil target list matches any valid role and
// closes the row.
type rule struct {
	targets []Role
	verdict verdict
}

type table map[Role][]rule

var viewUserTable = table{
	RoleAdmin: {
		{nil, allow},
	},
	RoleOperator: {
		{[]Role{RoleOperator, RoleTechnician, RoleAssistant, RoleSupervisor, RoleCoordinator, RoleAdmin}, allow},
		{nil, deny},
	},
	RoleCoordinator: {
		{[]Role{RoleAdmin}, deny},
		{[]Role{RoleSupervisor, RoleTechnician, RoleAssistant}, sharedPlant},
		{nil, allow},
	},
	RoleSupervisor: {
		{[]Role{RoleAdmin, RoleCoordinator}, deny},
		{[]Role{RoleTechnician, RoleAssistant, RoleSupervisor}, sharedPlant},
		{nil, deny},
	},
	RoleTechnician: {
		{[]Role{RoleAssistant}, sharedPlant},
		{nil, deny},
	},
	RoleAssistant: {
		{[]Role{RoleTechnician}, sharedPlant},
		{nil, deny},
	},
}

var editUserTable = table{
	RoleAdmin: {
		{nil, allow},
	},
	RoleOperator: {
		{[]Role{RoleOperator, RoleTechnician, RoleAssistant}, allow},
		{nil, deny},
	},
	RoleCoordinator: {
		{[]Role{RoleAdmin}, deny},
		{[]Role{RoleSupervisor, RoleTechnician, RoleAssistant}, sharedPlant},
		{nil, deny},
	},
	RoleSupervisor: {
		{[]Role{RoleAdmin, RoleCoordinator}, deny},
		{[]Role{RoleTechnician, RoleAssistant}, sharedPlant},
		{nil, deny},
	},
	RoleTechnician: {
		{[]Role{RoleAssistant}, sharedPlant},
		{nil, deny},
	},
	RoleAssistant: {
		{nil, deny},
	},
}

// CanViewUser reports whether actor may view target.
func CanViewUser(actor, target Subject) bool {
	return DecideUser(OpViewUser, actor, target).Allowed
}

// CanEditUser reports whether actor may edit target.
func CanEditUser(actor, target Subject) bool {
	return DecideUser(OpEditUser, actor, target).Allowed
}

// CanViewPlant reports whether actor may view the plant.
func CanViewPlant(actor Subject, plantID string) bool {
	return DecidePlant(OpViewPlant, actor, plantID).Allowed
}

// CanEditPlant reports whether actor may edit the plant.
func CanEditPlant(actor Subject, plantID string) bool {
	return DecidePlant(OpEditPlant, actor, plantID).Allowed
}

// DecideUser evaluates a user-targeted operation.
func DecideUser(op Operation, actor, target Subject) Decision {
	if actor.ID == "" || target.ID == "" {
		return Decision{Reason: "malformed subject"}
	}
	if actor.ID == target.ID {
		return Decision{Allowed: true, Reason: "self"}
	}
	var tbl table
	switch op {
	case OpViewUser:
		tbl = viewUserTable
	case OpEditUser:
		tbl = editUserTable
	default:
		return Decision{Reason: fmt.Sprintf("unsupported operation %s", op)}
	}
	if !target.Role.Valid() {
		return Decision{Reason: "invalid target role"}
	}
	row, ok := tbl[actor.Role]
	if !ok {
		return Decision{Reason: "unrecognized actor role"}
	}
	for _, r := range row {
		if r.targets != nil && !slices.Contains(r.targets, target.Role) {
			continue
		}
		reason := fmt.Sprintf("%s->%s", actor.Role, target.Role)
		switch r.verdict {
		case allow:
			return Decision{Allowed: true, Reason: reason + ": allow"}
		case sharedPlant:
			if actor.SharesPlant(target) {
				return Decision{Allowed: true, Reason: reason + ": shared plant"}
			}
			return Decision{Reason: reason + ": no shared plant"}
		default:
			return Decision{Reason: reason + ": deny"}
		}
	}
	// Every row closes with a nil-target rule; reaching here means a table bug.
	return Decision{Reason: "default deny"}
}

// DecidePlant evaluates a plant-targeted operation.
func DecidePlant(op Operation, actor Subject, plantID string) Decision {
	if actor.ID == "" || plantID == "" {
		return Decision{Reason: "malformed subject"}
	}
	switch actor.Role {
	case RoleAdmin, RoleOperator:
		return Decision{Allowed: true, Reason: fmt.Sprintf("%s: all plants", actor.Role)}
	}
	switch op {
	case OpViewPlant:
		if !actor.Role.Valid() {
			return Decision{Reason: "unrecognized actor role"}
		}
	case OpEditPlant:
		if actor.Role != RoleCoordinator && actor.Role != RoleSupervisor {
			return Decision{Reason: fmt.Sprintf("%s: no plant edit rights", actor.Role)}
		}
	default:
		return Decision{Reason: fmt.Sprintf("unsupported operation %s", op)}
	}
	if actor.HasPlant(plantID) {
		return Decision{Allowed: true, Reason: fmt.Sprintf("%s: member of plant", actor.Role)}
	}
	return Decision{Reason: fmt.Sprintf("%s: not a member of plant", actor.Role)}
}
