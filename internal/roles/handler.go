package roles

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-crm/meridian-crm/internal/audit"
	"github.com/meridian-crm/meridian-crm/internal/identity"
	"github.com/meridian-crm/meridian-crm/internal/platform/httpx"
	"github.com/meridian-crm/meridian-crm/internal/rbac"
)

// AdminRole is the role name guarding the administration endpoints.
const AdminRole = "Admin"

// TrailSource serves the audit trail endpoints.
type TrailSource interface {
	Trail(ctx context.Context) ([]audit.Entry, error)
	TrailForUser(ctx context.Context, userID string) ([]audit.Entry, error)
}

// Handler manages the role administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	trail     TrailSource
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, trail TrailSource, guard rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		trail:     trail,
		rbac:      guard,
		validator: validator.New(),
	}
}

// MountRoutes registers the role routes. The caller mounts this subtree
// behind identity.Middleware.RequireAuth.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.myRoles)
	r.Get("/", h.listRoles)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(AdminRole))
		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.updateSettings)
		r.Post("/", h.createRole)
		r.Get("/users", h.listUsersWithRoles)
		r.Get("/users/{userID}", h.userRoles)
		r.Post("/users/{userID}", h.assignRole)
		r.Delete("/users/{userID}/{roleID}", h.unassignRole)
		r.Get("/audit", h.auditTrail)
		r.Get("/audit/users/{userID}", h.auditTrailForUser)
		r.Get("/{id}", h.getRole)
		r.Put("/{id}", h.updateRole)
		r.Delete("/{id}", h.deleteRole)
	})
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=1"`
	Description string `json:"description"`
}

type updateRoleRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1"`
	Description *string `json:"description"`
}

type updateSettingsRequest struct {
	EnforceRoles *bool `json:"enforce_roles" validate:"required"`
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

func (h *Handler) myRoles(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		httpx.RespondError(w, httpx.Authentication("Authentication required"))
		return
	}
	list, err := h.service.RolesForUser(r.Context(), user.ID)
	if err != nil {
		h.respondServiceError(w, "Failed to fetch roles", err)
		return
	}
	httpx.OK(w, list)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondServiceError(w, "Failed to fetch roles", err)
		return
	}
	httpx.OK(w, list)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.GetSettings(r.Context())
	if err != nil {
		h.respondServiceError(w, "Failed to fetch settings", err)
		return
	}
	httpx.OK(w, settings)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.Validation("Invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.Validation("enforce_roles must be a boolean", fieldErrors(err)...))
		return
	}
	settings, err := h.service.UpdateSettings(r.Context(), *req.EnforceRoles)
	if err != nil {
		h.respondServiceError(w, "Failed to update settings", err)
		return
	}
	httpx.OK(w, settings)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.Validation("Invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.Validation("Role name is required", fieldErrors(err)...))
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		if errors.Is(err, ErrDuplicateName) {
			httpx.RespondError(w, httpx.Conflict("Role with this name already exists"))
			return
		}
		h.respondServiceError(w, "Failed to create role", err)
		return
	}
	httpx.Created(w, role)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r, "id")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.NotFound("Role not found"))
			return
		}
		h.respondServiceError(w, "Failed to fetch role", err)
		return
	}
	httpx.OK(w, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r, "id")
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.Validation("Invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.Validation("Role name must not be empty", fieldErrors(err)...))
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, req.Name, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.RespondError(w, httpx.NotFound("Role not found"))
		case errors.Is(err, ErrDuplicateName):
			httpx.RespondError(w, httpx.Conflict("Role with this name already exists"))
		default:
			h.respondServiceError(w, "Failed to update role", err)
		}
		return
	}
	httpx.OK(w, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, ErrRoleInUse):
			httpx.RespondError(w, httpx.Conflict("Cannot delete role that is assigned to users. Unassign users first."))
		case errors.Is(err, ErrNotFound):
			httpx.RespondError(w, httpx.NotFound("Role not found"))
		default:
			h.respondServiceError(w, "Failed to delete role", err)
		}
		return
	}
	httpx.OKMessage(w, nil, "Role deleted")
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	list, err := h.service.RolesForUser(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "Failed to fetch user roles", err)
		return
	}
	httpx.OK(w, list)
}

func (h *Handler) listUsersWithRoles(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.UsersWithRoles(r.Context())
	if err != nil {
		h.respondServiceError(w, "Failed to fetch users", err)
		return
	}
	httpx.OK(w, list)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.Validation("Invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.Validation("role_id must be a positive integer", fieldErrors(err)...))
		return
	}
	actor := identity.UserFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.Authentication("Authentication required"))
		return
	}
	role, err := h.service.AssignRole(r.Context(), userID, req.RoleID, actor.ID, audit.MetaFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateAssignment):
			httpx.RespondError(w, httpx.Conflict("User already has this role assigned"))
		case errors.Is(err, ErrNotFound):
			httpx.RespondError(w, httpx.NotFound("Role not found"))
		default:
			h.respondServiceError(w, "Failed to assign role", err)
		}
		return
	}
	httpx.Created(w, role)
}

func (h *Handler) unassignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	roleID, ok := h.roleID(w, r, "roleID")
	if !ok {
		return
	}
	actor := identity.UserFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.Authentication("Authentication required"))
		return
	}
	if err := h.service.UnassignRole(r.Context(), userID, roleID, actor.ID, audit.MetaFromRequest(r)); err != nil {
		h.respondServiceError(w, "Failed to unassign role", err)
		return
	}
	httpx.OKMessage(w, nil, "Role unassigned")
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.trail.Trail(r.Context())
	if err != nil {
		h.respondServiceError(w, "Failed to fetch audit trail", err)
		return
	}
	httpx.OK(w, entries)
}

func (h *Handler) auditTrailForUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	entries, err := h.trail.TrailForUser(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "Failed to fetch audit trail", err)
		return
	}
	httpx.OK(w, entries)
}

// roleID parses a positive integer path parameter. Responds with a
// validation error and returns false when malformed; the store is never hit.
func (h *Handler) roleID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.Validation("Invalid role id", httpx.FieldError{Field: param, Message: "must be a positive integer"}))
		return 0, false
	}
	return id, true
}

// userID parses and format-validates a UUID path parameter.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "userID")
	parsed, err := uuid.Parse(raw)
	if err != nil {
		httpx.RespondError(w, httpx.Validation("Invalid user id", httpx.FieldError{Field: "userId", Message: "must be a valid UUID"}))
		return "", false
	}
	return parsed.String(), true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, message string, err error) {
	if h.logger != nil {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, httpx.Internal(message, err))
}

func fieldErrors(err error) []httpx.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]httpx.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, httpx.FieldError{Field: fe.Field(), Message: fe.Tag()})
	}
	return fields
}
