package assignments

import (
	"slices"

	"github.com/loopos/loopos/internal/access"
)

// Assignment names the users occupying each role slot of one plant.
type Assignment struct {
	CoordinatorID string
	SupervisorIDs []string
	TechnicianIDs []string
	AssistantIDs  []string
}

// Member is the slice of a user record the synchronizer reads and writes.
type Member struct {
	ID       string
	Role     access.Role
	PlantIDs []string
}

// Contains reports whether userID occupies any slot.
func (a Assignment) Contains(userID string) bool {
	if userID == "" {
		return false
	}
	return a.CoordinatorID == userID ||
		slices.Contains(a.SupervisorIDs, userID) ||
		slices.Contains(a.TechnicianIDs, userID) ||
		slices.Contains(a.AssistantIDs, userID)
}

// SlotOf returns the first slot holding userID.
func (a Assignment) SlotOf(userID string) access.Slot {
	switch {
	case userID == "":
		return access.SlotNone
	case a.CoordinatorID == userID:
		return access.SlotCoordinator
	case slices.Contains(a.SupervisorIDs, userID):
		return access.SlotSupervisor
	case slices.Contains(a.TechnicianIDs, userID):
		return access.SlotTechnician
	case slices.Contains(a.AssistantIDs, userID):
		return access.SlotAssistant
	}
	return access.SlotNone
}

// Members lists every user id in the assignment, without duplicates.
func (a Assignment) Members() []string {
	var ids []string
	if a.CoordinatorID != "" {
		ids = append(ids, a.CoordinatorID)
	}
	ids = append(ids, a.SupervisorIDs...)
	ids = append(ids, a.TechnicianIDs...)
	ids = append(ids, a.AssistantIDs...)
	return uniqueSorted(ids)
}

// IsEmpty reports whether no slot is occupied.
func (a Assignment) IsEmpty() bool {
	return a.CoordinatorID == "" && len(a.SupervisorIDs) == 0 && len(a.TechnicianIDs) == 0 && len(a.AssistantIDs) == 0
}

// Normalize returns a copy with empty ids dropped and every set sorted and
// deduplicated, so equal assignments compare equal.
func (a Assignment) Normalize() Assignment {
	return Assignment{
		CoordinatorID: a.CoordinatorID,
		SupervisorIDs: uniqueSorted(a.SupervisorIDs),
		TechnicianIDs: uniqueSorted(a.TechnicianIDs),
		AssistantIDs:  uniqueSorted(a.AssistantIDs),
	}
}

// Without returns a copy with userID removed from every slot.
func (a Assignment) Without(userID string) Assignment {
	out := a.Normalize()
	if out.CoordinatorID == userID {
		out.CoordinatorID = ""
	}
	out.SupervisorIDs = remove(out.SupervisorIDs, userID)
	out.TechnicianIDs = remove(out.TechnicianIDs, userID)
	out.AssistantIDs = remove(out.AssistantIDs, userID)
	return out
}

// Place returns a copy with userID in slot and absent from every other slot,
// plus the coordinator it displaced, if any.
func (a Assignment) Place(userID string, slot access.Slot) (Assignment, string) {
	out := a.Without(userID)
	displaced := ""
	switch slot {
	case access.SlotCoordinator:
		displaced = out.CoordinatorID
		out.CoordinatorID = userID
	case access.SlotSupervisor:
		out.SupervisorIDs = uniqueSorted(append(out.SupervisorIDs, userID))
	case access.SlotTechnician:
		out.TechnicianIDs = uniqueSorted(append(out.TechnicianIDs, userID))
	case access.SlotAssistant:
		out.AssistantIDs = uniqueSorted(append(out.AssistantIDs, userID))
	default:
		return a.Normalize(), ""
	}
	return out, displaced
}

// Equal compares normalized forms.
func (a Assignment) Equal(b Assignment) bool {
	x, y := a.Normalize(), b.Normalize()
	return x.CoordinatorID == y.CoordinatorID &&
		slices.Equal(x.SupervisorIDs, y.SupervisorIDs) &&
		slices.Equal(x.TechnicianIDs, y.TechnicianIDs) &&
		slices.Equal(x.AssistantIDs, y.AssistantIDs)
}

func uniqueSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func remove(ids []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(ids), func(v string) bool { return v == id })
}
