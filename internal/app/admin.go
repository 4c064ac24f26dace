package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/assignments"
	"github.com/loopos/loopos/internal/platform/httpx"
	"github.com/loopos/loopos/internal/shared"
)

// Sweeper re-derives every membership from the stored assignments.
type Sweeper interface {
	ReconcileAll(ctx context.Context) (assignments.Result, error)
}

// AdminHandler serves maintenance endpoints restricted to Admin actors.
type AdminHandler struct {
	logger  *slog.Logger
	sweeper Sweeper
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(logger *slog.Logger, sweeper Sweeper) *AdminHandler {
	return &AdminHandler{logger: logger, sweeper: sweeper}
}

// MountRoutes attaches admin routes.
func (h *AdminHandler) MountRoutes(r chi.Router) {
	r.Post("/reconcile", h.reconcile)
}

type reconcileResponse struct {
	Changed []string `json:"changed"`
}

func (h *AdminHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrActorMissing)
		return
	}
	if actor.Role != access.RoleAdmin {
		h.logger.Debug("reconcile denied", slog.String("actor_id", actor.ID), slog.String("role", actor.Role.String()))
		httpx.RespondError(w, access.ErrForbidden)
		return
	}
	res, err := h.sweeper.ReconcileAll(r.Context())
	if err != nil {
		h.logger.Error("manual reconcile", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("manual reconcile", slog.String("actor_id", actor.ID), slog.Int("changed", len(res.Changed)))
	changed := res.Changed
	if changed == nil {
		changed = []string{}
	}
	httpx.JSON(w, http.StatusOK, reconcileResponse{Changed: changed})
}
