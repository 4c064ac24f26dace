package assignments

import "context"

// Store runs synchronizer work inside one storage transaction. A callback
// error must leave prior state untouched.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Tx exposes the load/save capabilities the synchronizer needs.
type Tx interface {
	LoadMembers(ctx context.Context) ([]Member, error)
	// SaveMembers persists PlantIDs for the given members only.
	SaveMembers(ctx context.Context, members []Member) error
	ListPlantIDs(ctx context.Context) ([]string, error)
	// LoadAssignment returns the zero Assignment when none is stored.
	LoadAssignment(ctx context.Context, plantID string) (Assignment, error)
	SaveAssignment(ctx context.Context, plantID string, a Assignment) error
	DeleteAssignment(ctx context.Context, plantID string) error
}
