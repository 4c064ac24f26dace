package shared

import "fmt"

// PlantLockKey builds the lock key serializing writes to one plant's assignment.
func PlantLockKey(plantID string) string {
	return fmt.Sprintf("loopos:plant:%s:lock", plantID)
}

// MembersLockKey builds the lock key guarding the user membership collection.
func MembersLockKey() string {
	return "loopos:members:lock"
}

// OrderSequenceLockKey builds the lock key serializing work order numbering.
func OrderSequenceLockKey() string {
	return "loopos:orders:seq:lock"
}
