package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atlas-iam/atlas-iam/internal/authz"
	"github.com/atlas-iam/atlas-iam/internal/platform/httpx"
)

// Handler exposes read endpoints for roles and permissions.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gate    *authz.Gate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate *authz.Gate) *Handler {
	return &Handler{logger: logger, service: service, gate: gate}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/roles", h.listRoles)
	r.Get("/permissions", h.listPermissions)
}

// RoleView is the response projection for a role.
type RoleView struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Guard       string   `json:"guard"`
	IsDefault   bool     `json:"is_default"`
	IsGuest     bool     `json:"is_guest"`
	Permissions []string `json:"permissions"`
}

// PermissionView is the response projection for a permission.
type PermissionView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.PrincipalFromContext(r.Context())
	if err := h.gate.Authorize(r.Context(), actor, authz.AbilityViewAnyRoles); err != nil {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	list, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]RoleView, len(list))
	for i, role := range list {
		views[i] = RoleView{
			ID:          role.ID,
			Name:        role.Name,
			Guard:       role.Guard,
			IsDefault:   role.IsDefault,
			IsGuest:     role.IsGuest,
			Permissions: role.Permissions,
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": views})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.PrincipalFromContext(r.Context())
	if err := h.gate.Authorize(r.Context(), actor, authz.AbilityViewAnyPerms); err != nil {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	list, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]PermissionView, len(list))
	for i, perm := range list {
		views[i] = PermissionView{ID: perm.ID, Name: perm.Name}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": views})
}
