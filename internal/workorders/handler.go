package workorders

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/platform/httpx"
	"github.com/loopos/loopos/internal/shared"
)

// Handler manages work order endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers work order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listOrders)
	r.Post("/", h.createOrder)
	r.Get("/{id}", h.getOrder)
	r.Put("/{id}", h.updateOrder)
	r.Post("/{id}/logs", h.addLog)
}

type orderRequest struct {
	Description        string     `json:"description" validate:"max=4000"`
	Status             Status     `json:"status" validate:"omitempty,oneof=pending in_progress in_review completed"`
	Priority           Priority   `json:"priority" validate:"required,oneof=low medium high urgent"`
	PlantID            string     `json:"plantId" validate:"required"`
	TechnicianID       string     `json:"technicianId"`
	SupervisorID       string     `json:"supervisorId"`
	StartDate          time.Time  `json:"startDate" validate:"required"`
	EndDate            *time.Time `json:"endDate"`
	Activity           string     `json:"activity" validate:"required,max=200"`
	Assets             []string   `json:"assets"`
	AttachmentsEnabled bool       `json:"attachmentsEnabled"`
}

type logRequest struct {
	Comment string `json:"comment" validate:"max=4000"`
	Status  Status `json:"status" validate:"omitempty,oneof=pending in_progress in_review completed"`
}

type statusChangeDTO struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

type logDTO struct {
	ID           string           `json:"id"`
	Timestamp    time.Time        `json:"timestamp"`
	AuthorID     string           `json:"authorId"`
	Comment      string           `json:"comment"`
	StatusChange *statusChangeDTO `json:"statusChange,omitempty"`
}

type attachmentDTO struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Caption    string    `json:"caption,omitempty"`
	UploadedBy string    `json:"uploadedBy"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type orderResponse struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Status             Status          `json:"status"`
	Priority           Priority        `json:"priority"`
	PlantID            string          `json:"plantId"`
	TechnicianID       string          `json:"technicianId"`
	SupervisorID       string          `json:"supervisorId"`
	StartDate          time.Time       `json:"startDate"`
	EndDate            *time.Time      `json:"endDate,omitempty"`
	Activity           string          `json:"activity"`
	Assets             []string        `json:"assets"`
	AttachmentsEnabled bool            `json:"attachmentsEnabled"`
	Logs               []logDTO        `json:"logs"`
	ImageAttachments   []attachmentDTO `json:"imageAttachments"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

func (req orderRequest) input() Input {
	return Input{
		Description:        req.Description,
		Status:             req.Status,
		Priority:           req.Priority,
		PlantID:            req.PlantID,
		TechnicianID:       req.TechnicianID,
		SupervisorID:       req.SupervisorID,
		StartDate:          req.StartDate,
		EndDate:            req.EndDate,
		Activity:           req.Activity,
		Assets:             req.Assets,
		AttachmentsEnabled: req.AttachmentsEnabled,
	}
}

func toResponse(o Order) orderResponse {
	out := orderResponse{
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
		Assets:             o.Assets,
		AttachmentsEnabled: o.AttachmentsEnabled,
		Logs:               make([]logDTO, 0, len(o.Logs)),
		ImageAttachments:   make([]attachmentDTO, 0, len(o.ImageAttachments)),
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	if out.Assets == nil {
		out.Assets = []string{}
	}
	for _, l := range o.Logs {
		dto := logDTO{ID: l.ID, Timestamp: l.Timestamp, AuthorID: l.AuthorID, Comment: l.Comment}
		if l.StatusChange != nil {
			dto.StatusChange = &statusChangeDTO{From: l.StatusChange.From, To: l.StatusChange.To}
		}
		out.Logs = append(out.Logs, dto)
	}
	for _, a := range o.ImageAttachments {
		out.ImageAttachments = append(out.ImageAttachments, attachmentDTO(a))
	}
	return out
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := Filter{PlantID: q.Get("plantId"), TechnicianID: q.Get("technicianId"), Status: Status(q.Get("status"))}
	orders, err := h.service.ListOrders(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, "list orders", err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toResponse(o))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	o, err := h.service.GetOrder(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(o))
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req orderRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	o, err := h.service.CreateOrder(r.Context(), actor, req.input())
	if err != nil {
		h.fail(w, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(o))
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req orderRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	o, err := h.service.UpdateOrder(r.Context(), actor, chi.URLParam(r, "id"), req.input())
	if err != nil {
		h.fail(w, "update order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(o))
}

func (h *Handler) addLog(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req logRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	o, err := h.service.AddLog(r.Context(), actor, chi.URLParam(r, "id"), req.Comment, req.Status)
	if err != nil {
		h.fail(w, "add order log", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(o))
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (access.Subject, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrActorMissing)
	}
	return actor, ok
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, access.ErrForbidden) {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
