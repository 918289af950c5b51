package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"studyhub.org/internal/directory"
	"studyhub.org/internal/session"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type loginResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	User      directory.User   `json:"user"`
	Tenant    directory.Tenant `json:"tenant"`
	SessionID string           `json:"session_id"`
}

type registerRequest struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Password      string `json:"password"`
	TenantID      string `json:"tenant_id"`
	NewTenantName string `json:"new_tenant_name"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	raw, sess, err := a.manager.Login(r.Context(), session.Credentials{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	a.setSessionCookie(w, raw, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     raw,
		ExpiresAt: sess.ExpiresAt,
		User:      sess.User,
		Tenant:    sess.Tenant,
		SessionID: sess.ID,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if sess, ok := session.FromContext(r.Context()); ok {
		a.manager.Logout(r.Context(), sess.ID)
	}
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sess, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Joining an existing tenant is subject to its self-registration
	// setting. Creating a fresh tenant is always allowed.
	if strings.TrimSpace(req.NewTenantName) == "" {
		targetID := strings.TrimSpace(req.TenantID)
		if targetID == "" {
			targetID = directory.DefaultTenantID
		}
		tenant, err := a.tenants.FindByID(r.Context(), targetID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "registration failed")
			return
		}
		if tenant == nil {
			writeError(w, r, http.StatusNotFound, "tenant not found")
			return
		}
		if !tenant.Settings.AllowSelfRegistration {
			writeError(w, r, http.StatusForbidden, "tenant does not allow self registration")
			return
		}
	}

	user, err := a.users.Create(r.Context(), directory.Registration{
		Email:         req.Email,
		Name:          req.Name,
		Password:      req.Password,
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
		writeError(w, r, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req passwordChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	verified, err := a.users.Authenticate(r.Context(), sess.User.Email, req.CurrentPassword)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "password change failed")
		return
	}
	if verified == nil {
		writeError(w, r, http.StatusForbidden, "current password is incorrect")
		return
	}

	changed, err := a.users.UpdatePassword(r.Context(), sess.User.ID, req.NewPassword)
	switch {
	case errors.Is(err, directory.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "password change failed")
		return
	case !changed:
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}

	// Every outstanding session for the user goes, including this one.
	a.manager.InvalidateAllForUser(r.Context(), sess.User.ID, "password change")
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

func (a *API) setSessionCookie(w http.ResponseWriter, raw string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    raw,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
