package jsonfile

import (
	"slices"
	"time"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/assignments"
	"github.com/loopos/loopos/internal/plants"
	"github.com/loopos/loopos/internal/users"
	"github.com/loopos/loopos/internal/workorders"
)

type userRecord struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Username     string      `json:"username"`
	Email        string      `json:"email,omitempty"`
	Phone        string      `json:"phone,omitempty"`
	Role         access.Role `json:"role"`
	CanLogin     bool        `json:"can_login"`
	SupervisorID string      `json:"supervisor_id,omitempty"`
	PlantIDs     []string    `json:"plant_ids"`
	PasswordHash string      `json:"password_hash,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func fromUser(u users.User) userRecord {
	return userRecord{
		ID:           u.ID,
		Name:         u.Name,
		Username:     u.Username,
		Email:        u.Email,
		Phone:        u.Phone,
		Role:         u.Role,
		CanLogin:     u.CanLogin,
		SupervisorID: u.SupervisorID,
		PlantIDs:     slices.Clone(u.PlantIDs),
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (r userRecord) user() users.User {
	return users.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username,
		Email:        r.Email,
		Phone:        r.Phone,
		Role:         r.Role,
		CanLogin:     r.CanLogin,
		SupervisorID: r.SupervisorID,
		PlantIDs:     slices.Clone(r.PlantIDs),
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type subPlantRecord struct {
	ID            int `json:"id"`
	InverterCount int `json:"inverter_count"`
}

type plantRecord struct {
	ID           string           `json:"id"`
	Client       string           `json:"client"`
	Name         string           `json:"name"`
	StringCount  int              `json:"string_count"`
	TrackerCount int              `json:"tracker_count"`
	SubPlants    []subPlantRecord `json:"sub_plants"`
	Assets       []string         `json:"assets"`
}

func fromPlant(p plants.Plant) plantRecord {
	rec := plantRecord{
		ID:           p.ID,
		Client:       p.Client,
		Name:         p.Name,
		StringCount:  p.StringCount,
		TrackerCount: p.TrackerCount,
		Assets:       slices.Clone(p.Assets),
	}
	for _, sp := range p.SubPlants {
		rec.SubPlants = append(rec.SubPlants, subPlantRecord(sp))
	}
	return rec
}

func (r plantRecord) plant() plants.Plant {
	p := plants.Plant{
		ID:           r.ID,
		Client:       r.Client,
		Name:         r.Name,
		StringCount:  r.StringCount,
		TrackerCount: r.TrackerCount,
		Assets:       slices.Clone(r.Assets),
	}
	for _, sp := range r.SubPlants {
		p.SubPlants = append(p.SubPlants, plants.SubPlant(sp))
	}
	return p
}

type assignmentRecord struct {
	CoordinatorID string   `json:"coordinator_id,omitempty"`
	SupervisorIDs []string `json:"supervisor_ids"`
	TechnicianIDs []string `json:"technician_ids"`
	AssistantIDs  []string `json:"assistant_ids"`
}

func fromAssignment(a assignments.Assignment) assignmentRecord {
	return assignmentRecord{
		CoordinatorID: a.CoordinatorID,
		SupervisorIDs: slices.Clone(a.SupervisorIDs),
		TechnicianIDs: slices.Clone(a.TechnicianIDs),
		AssistantIDs:  slices.Clone(a.AssistantIDs),
	}
}

func (r assignmentRecord) assignment() assignments.Assignment {
	return assignments.Assignment{
		CoordinatorID: r.CoordinatorID,
		SupervisorIDs: slices.Clone(r.SupervisorIDs),
		TechnicianIDs: slices.Clone(r.TechnicianIDs),
		AssistantIDs:  slices.Clone(r.AssistantIDs),
	}
}

type statusChangeRecord struct {
	From workorders.Status `json:"from"`
	To   workorders.Status `json:"to"`
}

type logRecord struct {
	ID           string              `json:"id"`
	Timestamp    time.Time           `json:"timestamp"`
	AuthorID     string              `json:"author_id"`
	Comment      string              `json:"comment"`
	StatusChange *statusChangeRecord `json:"status_change,omitempty"`
}

type attachmentRecord struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Caption    string    `json:"caption,omitempty"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type orderRecord struct {
	ID                 string              `json:"id"`
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	Status             workorders.Status   `json:"status"`
	Priority           workorders.Priority `json:"priority"`
	PlantID            string              `json:"plant_id"`
	TechnicianID       string              `json:"technician_id"`
	SupervisorID       string              `json:"supervisor_id"`
	StartDate          time.Time           `json:"start_date"`
	EndDate            *time.Time          `json:"end_date,omitempty"`
	Activity           string              `json:"activity"`
	Assets             []string            `json:"assets"`
	AttachmentsEnabled bool                `json:"attachments_enabled"`
	Logs               []logRecord         `json:"logs"`
	ImageAttachments   []attachmentRecord  `json:"image_attachments"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func fromOrder(o workorders.Order) orderRecord {
	rec := orderRecord{
		ID:                 o.ID,
		Title:              o.Title,
		Description:        o.Description,
		Status:             o.Status,
		Priority:           o.Priority,
		PlantID:            o.PlantID,
		TechnicianID:       o.TechnicianID,
		SupervisorID:       o.SupervisorID,
		StartDate:          o.StartDate,
		EndDate:            o.EndDate,
		Activity:           o.Activity,
		Assets:             slices.Clone(o.Assets),
		AttachmentsEnabled: o.AttachmentsEnabled,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	for _, l := range o.Logs {
		lr := logRecord{ID: l.ID, Timestamp: l.Timestamp, AuthorID: l.AuthorID, Comment: l.Comment}
		if l.StatusChange != nil {
			lr.StatusChange = &statusChangeRecord{From: l.StatusChange.From, To: l.StatusChange.To}
		}
		rec.Logs = append(rec.Logs, lr)
	}
	for _, a := range o.ImageAttachments {
		rec.ImageAttachments = append(rec.ImageAttachments, attachmentRecord(a))
	}
	return rec
}

func (r orderRecord) order() workorders.Order {
	o := workorders.Order{
		ID:                 r.ID,
		Title:              r.Title,
		Description:        r.Description,
		Status:             r.Status,
		Priority:           r.Priority,
		PlantID:            r.PlantID,
		TechnicianID:       r.TechnicianID,
		SupervisorID:       r.SupervisorID,
		StartDate:          r.StartDate,
		EndDate:            r.EndDate,
		Activity:           r.Activity,
		Assets:             slices.Clone(r.Assets),
		AttachmentsEnabled: r.AttachmentsEnabled,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	for _, l := range r.Logs {
		entry := workorders.Log{ID: l.ID, Timestamp: l.Timestamp, AuthorID: l.AuthorID, Comment: l.Comment}
		if l.StatusChange != nil {
			entry.StatusChange = &workorders.StatusChange{From: l.StatusChange.From, To: l.StatusChange.To}
		}
		o.Logs = append(o.Logs, entry)
	}
	for _, a := range r.ImageAttachments {
		o.ImageAttachments = append(o.ImageAttachments, workorders.ImageAttachment(a))
	}
	return o
}
