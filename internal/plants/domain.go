package plants

import (
	"fmt"

	"github.com/loopos/loopos/internal/platform/httpx"
)

var (
	// ErrNotFound indicates the plant does not exist.
	ErrNotFound = fmt.Errorf("plants: %w", httpx.ErrNotFound)
	// ErrInvalidInput indicates a request that fails domain checks.
	ErrInvalidInput = fmt.Errorf("plants: %w", httpx.ErrValidation)
)

// Plant is a generation site ("usina") the team maintains.
type Plant struct {
	ID           string
	Client       string
	Name         string
	StringCount  int
	TrackerCount int
	SubPlants    []SubPlant
	Assets       []string
}

// SubPlant is a numbered block of inverters inside a plant.
type SubPlant struct {
	ID            int
	InverterCount int
}

// Input carries the editable plant fields.
type Input struct {
	Client       string
	Name         string
	StringCount  int
	TrackerCount int
	SubPlants    []SubPlant
	Assets       []string
}
