// Package session orchestrates login, token resolution and
// authorization. The in-memory session table is an optional liveness
// layer on top of self-contained tokens: expiry always holds from the
// token claims alone, even after a process restart.
package session

import (
	"errors"
	"time"

	"studyhub.org/internal/directory"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong
	// password; callers must not be able to tell which.
	ErrInvalidCredentials = errors.New("session: invalid credentials")
	// ErrUnauthenticated indicates an operation that requires a
	// resolved session got none.
	ErrUnauthenticated = errors.New("session: not authenticated")
	// ErrInsufficientPermissions indicates the caller's role does not
	// satisfy the requirement.
	ErrInsufficientPermissions = errors.New("session: insufficient permissions")
	// ErrForbidden indicates a hard denial, such as a cross-tenant
	// access violation. Never retried.
	ErrForbidden = errors.New("session: forbidden")
	// ErrRevoked indicates a well-signed, unexpired token whose
	// session was explicitly ended by logout, password change or
	// account deactivation. Revocation is terminal: the token never
	// becomes usable again.
	ErrRevoked = errors.New("session: revoked")
)

// Session is a bounded-lifetime authenticated context tying a token
// to a user and tenant. User and Tenant are snapshots taken at
// issuance; they are not refreshed from the directories.
type Session struct {
	ID           string           `json:"session_id"`
	User         directory.User   `json:"user"`
	Tenant       directory.Tenant `json:"tenant"`
	IssuedAt     time.Time        `json:"issued_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
	LastActivity time.Time        `json:"last_activity"`
	Remember     bool             `json:"remember,omitempty"`
	IPAddress    string           `json:"ip_address,omitempty"`
	UserAgent    string           `json:"user_agent,omitempty"`
}

// Credentials is the login input.
type Credentials struct {
	Email      string
	Password   string
	RememberMe bool
	IPAddress  string
	UserAgent  string
}

// Metrics summarizes the in-memory table. Best-effort and
// process-local.
type Metrics struct {
	TotalSessions int           `json:"total_sessions"`
	Active24h     int           `json:"active_24h"`
	Expired       int           `json:"expired"`
	AvgDuration   time.Duration `json:"avg_duration"`
	SessionsToday int           `json:"sessions_today"`
}
