package users

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/platform/httpx"
	"github.com/loopos/loopos/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers user routes. The actor middleware must run first.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Post("/", h.createUser)
	r.Get("/{id}", h.getUser)
	r.Put("/{id}", h.updateUser)
	r.Delete("/{id}", h.deleteUser)
}

type userRequest struct {
	Name         string      `json:"name" validate:"required,max=120"`
	Username     string      `json:"username" validate:"required,max=64,login"`
	Email        string      `json:"email" validate:"omitempty,email"`
	Phone        string      `json:"phone" validate:"omitempty,max=32"`
	Role         access.Role `json:"role" validate:"required"`
	CanLogin     bool        `json:"canLogin"`
	SupervisorID string      `json:"supervisorId"`
	PlantIDs     *[]string   `json:"plantIds"`
	Password     string      `json:"password" validate:"omitempty,min=8"`
}

type userResponse struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Username     string      `json:"username"`
	Email        string      `json:"email,omitempty"`
	Phone        string      `json:"phone,omitempty"`
	Role         access.Role `json:"role"`
	CanLogin     bool        `json:"canLogin"`
	SupervisorID string      `json:"supervisorId,omitempty"`
	PlantIDs     []string    `json:"plantIds"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

func toResponse(u User) userResponse {
	plantIDs := u.PlantIDs
	if plantIDs == nil {
		plantIDs = []string{}
	}
	return userResponse{
		ID:           u.ID,
		Name:         u.Name,
		Username:     u.Username,
		Email:        u.Email,
		Phone:        u.Phone,
		Role:         u.Role,
		CanLogin:     u.CanLogin,
		SupervisorID: u.SupervisorID,
		PlantIDs:     plantIDs,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrActorMissing)
		return
	}
	users, err := h.service.ListUsers(r.Context(), actor)
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toResponse(u))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrActorMissing)
		return
	}
	user, err := h.service.GetUser(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(user))
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrActorMissing)
		return
	}
	var req userRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateInput{
		Name:         req.Name,
		Username:     req.Username,
		Email:        req.Email,
		Phone:        req.Phone,
		Role:         req.Role,
		CanLogin:     req.CanLogin,
		SupervisorID: req.SupervisorID,
		Password:     req.Password,
	}
	if req.PlantIDs != nil {
		in.PlantIDs = *req.PlantIDs
	}
	user, err := h.service.CreateUser(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(user))
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrActorMissing)
		return
	}
	var req userRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.UpdateUser(r.Context(), actor, chi.URLParam(r, "id"), UpdateInput{
		Name:         req.Name,
		Username:     req.Username,
		Email:        req.Email,
		Phone:        req.Phone,
		Role:         req.Role,
		CanLogin:     req.CanLogin,
		SupervisorID: req.SupervisorID,
		PlantIDs:     req.PlantIDs,
		Password:     req.Password,
	})
	if err != nil {
		h.fail(w, "update user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(user))
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrActorMissing)
		return
	}
	if err := h.service.DeleteUser(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !IsForbidden(err) {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
