package workorders

import (
	"fmt"
	"time"

	"github.com/loopos/loopos/internal/platform/httpx"
)

var (
	// ErrNotFound indicates the work order does not exist.
	ErrNotFound = fmt.Errorf("workorders: %w", httpx.ErrNotFound)
	// ErrInvalidInput indicates a request that fails domain checks.
	ErrInvalidInput = fmt.Errorf("workorders: %w", httpx.ErrValidation)
)

// Status is the board column of a work order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusInReview, StatusCompleted:
		return true
	}
	return false
}

// Priority ranks work orders.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Order is a maintenance work order ("OS") bound to one plant.
type Order struct {
	ID                 string
	Title              string
	Description        string
	Status             Status
	Priority           Priority
	PlantID            string
	TechnicianID       string
	SupervisorID       string
	StartDate          time.Time
	EndDate            *time.Time
	Activity           string
	Assets             []string
	AttachmentsEnabled bool
	Logs               []Log
	ImageAttachments   []ImageAttachment
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Log is one history entry of a work order, newest first.
type Log struct {
	ID           string
	Timestamp    time.Time
	AuthorID     string
	Comment      string
	StatusChange *StatusChange
}

// StatusChange records a status transition carried by a log entry.
type StatusChange struct {
	From Status
	To   Status
}

// ImageAttachment is attachment metadata. The bytes live elsewhere.
type ImageAttachment struct {
	ID         string
	URL        string
	Caption    string
	UploadedBy string
	UploadedAt time.Time
}

// Input carries the editable fields of a work order.
type Input struct {
	Description        string
	Status             Status
	Priority           Priority
	PlantID            string
	TechnicianID       string
	SupervisorID       string
	StartDate          time.Time
	EndDate            *time.Time
	Activity           string
	Assets             []string
	AttachmentsEnabled bool
}

// Filter narrows order listings. Zero fields match everything.
type Filter struct {
	PlantID      string
	TechnicianID string
	Status       Status
}

func (f Filter) match(o Order) bool {
	return (f.PlantID == "" || f.PlantID == o.PlantID) &&
		(f.TechnicianID == "" || f.TechnicianID == o.TechnicianID) &&
		(f.Status == "" || f.Status == o.Status)
}
