package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-iam/atlas-iam/internal/authz"
	"github.com/atlas-iam/atlas-iam/internal/platform/httpx"
)

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      *authz.Gate
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate *authz.Gate) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/users", h.listUsers)
	r.Post("/users", h.createUser)
	r.Get("/users/{id}", h.showUser)
	r.Patch("/users/{id}", h.updateUser)
}

type createUserRequest struct {
	Status      string   `json:"status" validate:"omitempty,oneof=active inactive blocked"`
	FirstName   string   `json:"first_name" validate:"required"`
	LastName    string   `json:"last_name"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email" validate:"required,email"`
	Password    string   `json:"password" validate:"required,min=8"`
	Roles       []string `json:"roles"`
}

type updateUserRequest struct {
	Status          *string      `json:"status" validate:"omitempty,oneof=active inactive blocked"`
	FirstName       *string      `json:"first_name"`
	LastName        *string      `json:"last_name"`
	DisplayName     *string      `json:"display_name"`
	Email           *string      `json:"email" validate:"omitempty,email"`
	Password        *string      `json:"password" validate:"omitempty,min=8"`
	EmailVerifiedAt OptionalTime `json:"email_verified_at"`
	Roles           *[]string    `json:"roles"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.PrincipalFromContext(r.Context())
	if err := h.gate.Authorize(r.Context(), actor, authz.AbilityViewAnyUsers); err != nil {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}

	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	perPage, _ := strconv.Atoi(query.Get("per_page"))
	filters := ListFilters{
		Status:  query.Get("status"),
		Search:  query.Get("search"),
		Page:    page,
		PerPage: perPage,
	}

	views, pagination, err := h.service.Index(r.Context(), filters)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": views, "meta": pagination})
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.PrincipalFromContext(r.Context())
	if err := h.gate.Authorize(r.Context(), actor, authz.AbilityCreateUser); err != nil {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}

	var req createUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body is not valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	view, err := h.service.Create(r.Context(), actor, CreateParams{
		Status:      req.Status,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    req.Password,
		Roles:       req.Roles,
	})
	if err != nil {
		h.logger.Error("create user failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.PrincipalFromContext(r.Context())
	if err := h.gate.Authorize(r.Context(), actor, authz.AbilityViewUser); err != nil {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}

	view, err := h.service.Show(r.Context(), actor, id, r.URL.Query().Get("include"))
	if err != nil {
		h.logger.Error("show user failed", slog.Int64("user_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.PrincipalFromContext(r.Context())
	if err := h.gate.Authorize(r.Context(), actor, authz.AbilityUpdateUser); err != nil {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}

	var req updateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body is not valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	view, err := h.service.Update(r.Context(), actor, id, UpdateParams{
		Status:          req.Status,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		DisplayName:     req.DisplayName,
		Email:           req.Email,
		Password:        req.Password,
		EmailVerifiedAt: req.EmailVerifiedAt,
		Roles:           req.Roles,
	})
	if err != nil {
		h.logger.Error("update user failed", slog.Int64("user_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func validationDetail(err error) string {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return "invalid request"
	}
	return fieldErrs[0].Error()
}
