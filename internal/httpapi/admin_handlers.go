package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studyhub.org/internal/audit"
	"studyhub.org/internal/directory"
	"studyhub.org/internal/session"
)

type auditQueryResponse struct {
	Events  []audit.Event `json:"events"`
	Total   int           `json:"total"`
	HasMore bool          `json:"has_more"`
}

type adminCreateUserRequest struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Password      string `json:"password"`
	Role          string `json:"role"`
	TenantID      string `json:"tenant_id"`
	NewTenantName string `json:"new_tenant_name"`
}

type updateUserRequest struct {
	Name        *string            `json:"name"`
	Role        *string            `json:"role"`
	IsActive    *bool              `json:"is_active"`
	TenantID    *string            `json:"tenant_id"`
	TenantRole  *string            `json:"tenant_role"`
	Preferences *map[string]string `json:"preferences"`
}

// requireAdmin resolves the session from the context and checks the
// admin role, translating the manager's sentinels to status codes.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request, resource audit.Resource) (*session.Session, bool) {
	sess, _ := session.FromContext(r.Context())
	err := a.manager.RequireRole(r.Context(), sess, directory.RoleAdmin, resource, r.URL.Path)
	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return nil, false
	case errors.Is(err, session.ErrInsufficientPermissions):
		writeError(w, r, http.StatusForbidden, "admin role required")
		return nil, false
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "authorization error")
		return nil, false
	}
	return sess, true
}

func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAdmin(w, r, audit.ResourceAdminPanel); !ok {
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		UserID:   q.Get("user_id"),
		TenantID: q.Get("tenant_id"),
		Action:   audit.Action(q.Get("action")),
		Resource: audit.Resource(q.Get("resource")),
		Severity: audit.Severity(q.Get("severity")),
	}
	if raw := q.Get("success"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "success must be true or false")
			return
		}
		filter.Success = &v
	}
	for param, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, param+" must be RFC 3339")
			return
		}
		*dst = ts
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = v
	}

	events, total, hasMore, err := a.recorder.Query(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit query failed")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, auditQueryResponse{Events: events, Total: total, HasMore: hasMore})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		a.handleAdminCreateUser(w, r)
		return
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	if _, ok := a.requireAdmin(w, r, audit.ResourceUser); !ok {
		return
	}

	var (
		users []directory.User
		err   error
	)
	if tenantID := r.URL.Query().Get("tenant_id"); tenantID != "" {
		users, err = a.users.FindByTenant(r.Context(), tenantID)
	} else {
		users, err = a.users.List(r.Context())
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "user listing failed")
		return
	}
	if users == nil {
		users = []directory.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "total": len(users)})
}

func (a *API) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r, audit.ResourceUser); !ok {
		return
	}
	var req adminCreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.users.Create(r.Context(), directory.Registration{
		Email:         req.Email,
		Name:          req.Name,
		Password:      req.Password,
		Role:          directory.Role(req.Role),
		TenantID:      req.TenantID,
		NewTenantName: req.NewTenantName,
	})
	switch {
	case errors.Is(err, directory.ErrDuplicateEmail):
		writeError(w, r, http.StatusConflict, "email already registered")
		return
	case errors.Is(err, directory.ErrDuplicateTenantName):
		writeError(w, r, http.StatusConflict, "tenant name already taken")
		return
	case errors.Is(err, directory.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, directory.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "tenant not found")
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "user creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUserByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/users/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	sess, ok := a.requireAdmin(w, r, audit.ResourceUser)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := a.users.FindByID(r.Context(), id)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "user lookup failed")
			return
		}
		if user == nil {
			writeError(w, r, http.StatusNotFound, "user not found")
			return
		}
		writeJSON(w, http.StatusOK, user)

	case http.MethodPatch:
		a.handleAdminUpdateUser(w, r, sess, id)

	case http.MethodDelete:
		if sess.User.ID == id {
			writeError(w, r, http.StatusForbidden, "cannot delete your own account")
			return
		}
		removed, err := a.users.Delete(r.Context(), id)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "user deletion failed")
			return
		}
		if !removed {
			writeError(w, r, http.StatusNotFound, "user not found")
			return
		}
		a.manager.InvalidateAllForUser(r.Context(), id, "account deleted")
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request, sess *session.Session, id string) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	patch := directory.UserPatch{
		Name:        req.Name,
		IsActive:    req.IsActive,
		TenantID:    req.TenantID,
		Preferences: req.Preferences,
	}
	if req.Role != nil {
		role := directory.Role(*req.Role)
		if !role.Valid() {
			writeError(w, r, http.StatusBadRequest, "unknown role")
			return
		}
		// Admins cannot lower their own role; another admin has to.
		if sess.User.ID == id && !role.Satisfies(directory.RoleAdmin) {
			a.recorder.Record(r.Context(), audit.Event{
				Action:     audit.ActionPermissionDenied,
				Resource:   audit.ResourceUser,
				ResourceID: id,
				UserID:     sess.User.ID,
				UserEmail:  sess.User.Email,
				UserRole:   string(sess.User.Role),
				TenantID:   sess.Tenant.ID,
				Success:    false,
				Details:    map[string]any{"reason": "self demotion"},
			})
			writeError(w, r, http.StatusForbidden, "cannot lower your own role")
			return
		}
		patch.Role = &role
	}
	if req.TenantRole != nil {
		tr := directory.TenantRole(*req.TenantRole)
		if !tr.Valid() {
			writeError(w, r, http.StatusBadRequest, "unknown tenant role")
			return
		}
		patch.TenantRole = &tr
	}

	user, err := a.users.Update(r.Context(), id, patch)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	case errors.Is(err, directory.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, directory.ErrDuplicateEmail):
		writeError(w, r, http.StatusConflict, "email already registered")
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "user update failed")
		return
	}
	if patch.IsActive != nil && !*patch.IsActive {
		a.manager.InvalidateAllForUser(r.Context(), id, "account deactivated")
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAdmin(w, r, audit.ResourceSession); !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Metrics())
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAdmin(w, r, audit.ResourceAdminPanel); !ok {
		return
	}
	stats, err := a.users.Stats(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
