package plants

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/assignments"
	"github.com/loopos/loopos/internal/platform/httpx"
	"github.com/loopos/loopos/internal/shared"
)

// Handler manages plant endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers plant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPlants)
	r.Post("/", h.createPlant)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.getPlant)
		r.Put("/", h.updatePlant)
		r.Delete("/", h.deletePlant)
		r.Get("/assignments", h.getAssignment)
		r.Put("/assignments", h.putAssignment)
	})
}

type subPlantDTO struct {
	ID            int `json:"id" validate:"gte=0"`
	InverterCount int `json:"inverterCount" validate:"gte=0"`
}

type plantRequest struct {
	Client       string        `json:"client" validate:"required,max=120"`
	Name         string        `json:"name" validate:"required,max=120"`
	StringCount  int           `json:"stringCount" validate:"gte=0"`
	TrackerCount int           `json:"trackerCount" validate:"gte=0"`
	SubPlants    []subPlantDTO `json:"subPlants" validate:"dive"`
	Assets       []string      `json:"assets" validate:"dive,max=120"`
}

type plantResponse struct {
	ID           string        `json:"id"`
	Client       string        `json:"client"`
	Name         string        `json:"name"`
	StringCount  int           `json:"stringCount"`
	TrackerCount int           `json:"trackerCount"`
	SubPlants    []subPlantDTO `json:"subPlants"`
	Assets       []string      `json:"assets"`
}

type assignmentDTO struct {
	CoordinatorID string   `json:"coordinatorId"`
	SupervisorIDs []string `json:"supervisorIds"`
	TechnicianIDs []string `json:"technicianIds"`
	AssistantIDs  []string `json:"assistantIds"`
}

type assignmentResponse struct {
	assignmentDTO
	Changed []string `json:"changed,omitempty"`
}

func (req plantRequest) input() Input {
	in := Input{
		Client:       req.Client,
		Name:         req.Name,
		StringCount:  req.StringCount,
		TrackerCount: req.TrackerCount,
		Assets:       req.Assets,
	}
	for _, sp := range req.SubPlants {
		in.SubPlants = append(in.SubPlants, SubPlant{ID: sp.ID, InverterCount: sp.InverterCount})
	}
	return in
}

func toResponse(p Plant) plantResponse {
	out := plantResponse{
		ID:           p.ID,
		Client:       p.Client,
		Name:         p.Name,
		StringCount:  p.StringCount,
		TrackerCount: p.TrackerCount,
		SubPlants:    make([]subPlantDTO, 0, len(p.SubPlants)),
		Assets:       p.Assets,
	}
	for _, sp := range p.SubPlants {
		out.SubPlants = append(out.SubPlants, subPlantDTO{ID: sp.ID, InverterCount: sp.InverterCount})
	}
	if out.Assets == nil {
		out.Assets = []string{}
	}
	return out
}

func toAssignmentDTO(a assignments.Assignment) assignmentDTO {
	orEmpty := func(ids []string) []string {
		if ids == nil {
			return []string{}
		}
		return ids
	}
	return assignmentDTO{
		CoordinatorID: a.CoordinatorID,
		SupervisorIDs: orEmpty(a.SupervisorIDs),
		TechnicianIDs: orEmpty(a.TechnicianIDs),
		AssistantIDs:  orEmpty(a.AssistantIDs),
	}
}

func (h *Handler) listPlants(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	plants, err := h.service.ListPlants(r.Context(), actor)
	if err != nil {
		h.fail(w, "list plants", err)
		return
	}
	out := make([]plantResponse, 0, len(plants))
	for _, p := range plants {
		out = append(out, toResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getPlant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetPlant(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get plant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) createPlant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req plantRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.CreatePlant(r.Context(), actor, req.input())
	if err != nil {
		h.fail(w, "create plant", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(p))
}

func (h *Handler) updatePlant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req plantRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.UpdatePlant(r.Context(), actor, chi.URLParam(r, "id"), req.input())
	if err != nil {
		h.fail(w, "update plant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) deletePlant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePlant(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete plant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	a, err := h.service.GetAssignment(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get assignment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignmentResponse{assignmentDTO: toAssignmentDTO(a)})
}

func (h *Handler) putAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req assignmentDTO
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, res, err := h.service.PutAssignment(r.Context(), actor, chi.URLParam(r, "id"), assignments.Assignment{
		CoordinatorID: req.CoordinatorID,
		SupervisorIDs: req.SupervisorIDs,
		TechnicianIDs: req.TechnicianIDs,
		AssistantIDs:  req.AssistantIDs,
	})
	if err != nil {
		h.fail(w, "put assignment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignmentResponse{assignmentDTO: toAssignmentDTO(a), Changed: res.Changed})
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
