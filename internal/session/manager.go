package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studyhub.org/internal/audit"
	"studyhub.org/internal/directory"
	"studyhub.org/internal/ids"
	"studyhub.org/internal/obs"
	"studyhub.org/internal/token"
)

const (
	defaultSessionTTL  = "7 days"
	defaultRememberTTL = "30 days"
)

// Manager issues tokens on login, resolves tokens back into sessions
// and enforces role authorization. The session table lives on the
// instance, never in package state, so tests construct isolated
// managers.
type Manager struct {
	codec    *token.Codec
	users    *directory.Users
	tenants  *directory.Tenants
	recorder *audit.Recorder
	now      func() time.Time

	sessionTTL  string
	rememberTTL string
	rememberDur time.Duration

	mu         sync.Mutex
	sessions   map[string]*Session
	revoked    map[string]time.Time
	userCutoff map[string]time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithTTLs sets the standard and remember-me token lifetimes.
func WithTTLs(standard, remember string) Option {
	return func(m *Manager) {
		if standard != "" {
			m.sessionTTL = standard
		}
		if remember != "" {
			m.rememberTTL = remember
		}
	}
}

// NewManager constructs a Manager.
func NewManager(codec *token.Codec, users *directory.Users, tenants *directory.Tenants, recorder *audit.Recorder, opts ...Option) (*Manager, error) {
	if codec == nil {
		return nil, errors.New("session: token codec is required")
	}
	if users == nil || tenants == nil {
		return nil, errors.New("session: directories are required")
	}
	m := &Manager{
		codec:       codec,
		users:       users,
		tenants:     tenants,
		recorder:    recorder,
		now:         time.Now,
		sessionTTL:  defaultSessionTTL,
		rememberTTL: defaultRememberTTL,
		sessions:    make(map[string]*Session),
		revoked:     make(map[string]time.Time),
		userCutoff:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	if _, err := token.ParseTTL(m.sessionTTL); err != nil {
		return nil, err
	}
	rememberDur, err := token.ParseTTL(m.rememberTTL)
	if err != nil {
		return nil, err
	}
	m.rememberDur = rememberDur
	return m, nil
}

// Login verifies credentials and issues a signed session token. The
// failure response never distinguishes an unknown email from a wrong
// password.
func (m *Manager) Login(ctx context.Context, creds Credentials) (string, *Session, error) {
	user, err := m.users.Authenticate(ctx, creds.Email, creds.Password)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		obs.CountLogin(false)
		m.recorder.Record(ctx, audit.Event{
			Action:    audit.ActionLoginFailed,
			Resource:  audit.ResourceUser,
			UserEmail: directory.NormalizeEmail(creds.Email),
			Success:   false,
			IPAddress: creds.IPAddress,
			UserAgent: creds.UserAgent,
		})
		return "", nil, ErrInvalidCredentials
	}

	tenant, err := m.tenants.FindByID(ctx, user.TenantID)
	if err != nil {
		return "", nil, err
	}
	if tenant == nil {
		// Stale tenant reference: fall back to a synthesized view of
		// the default tenant rather than refusing a valid login.
		tenant = &directory.Tenant{
			ID:          directory.DefaultTenantID,
			Name:        directory.DefaultTenantID,
			DisplayName: "Default",
			IsActive:    true,
		}
	}

	sessionID, err := ids.NewSessionID()
	if err != nil {
		return "", nil, fmt.Errorf("session: generate id: %w", err)
	}
	ttl := m.sessionTTL
	if creds.RememberMe {
		ttl = m.rememberTTL
	}
	raw, expiresAt, err := m.codec.Issue(token.SessionClaims{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      string(user.Role),
		TenantID:  tenant.ID,
		SessionID: sessionID,
		Remember:  creds.RememberMe,
	}, ttl)
	if err != nil {
		return "", nil, err
	}

	now := m.now().UTC()
	sess := &Session{
		ID:           sessionID,
		User:         *user,
		Tenant:       *tenant,
		IssuedAt:     now,
		ExpiresAt:    expiresAt,
		LastActivity: now,
		Remember:     creds.RememberMe,
		IPAddress:    creds.IPAddress,
		UserAgent:    creds.UserAgent,
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	count := len(m.sessions)
	snapshot := *sess
	m.mu.Unlock()

	obs.SetActiveSessions(count)
	obs.CountLogin(true)
	if err := m.users.RecordLogin(ctx, user.ID, now); err != nil {
		obs.LogRequest(map[string]any{
			"level": "warn", "msg": "last-login stamp failed",
			"user_id": user.ID, "error": err.Error(),
		})
	}
	m.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionLogin,
		Resource:  audit.ResourceSession,
		UserID:    user.ID,
		UserEmail: user.Email,
		UserRole:  string(user.Role),
		TenantID:  tenant.ID,
		Success:   true,
		IPAddress: creds.IPAddress,
		UserAgent: creds.UserAgent,
		Details:   map[string]any{"remember": creds.RememberMe},
	})
	return raw, &snapshot, nil
}

// Resolve verifies a presented token and returns the session it
// stands for. The in-memory entry, when present, only contributes
// liveness metadata; a claims-reconstructed view is returned after a
// restart. Explicitly revoked sessions never resolve, whether or not
// a live entry remains.
func (m *Manager) Resolve(ctx context.Context, raw string) (*Session, error) {
	claims, err := m.codec.Verify(raw)
	switch {
	case errors.Is(err, token.ErrExpired):
		if claims != nil {
			m.dropExpired(ctx, claims.SessionID)
		}
		return nil, token.ErrExpired
	case err != nil:
		return nil, token.ErrInvalidToken
	}

	now := m.now().UTC()
	m.mu.Lock()
	if _, gone := m.revoked[claims.SessionID]; gone {
		m.mu.Unlock()
		return nil, ErrRevoked
	}
	// The issued-at claim carries second precision, so a token minted
	// in the same second as the cutoff counts as predating it.
	if cutoff, ok := m.userCutoff[claims.UserID]; ok && !claims.IssuedAt.Time.After(cutoff) {
		m.mu.Unlock()
		return nil, ErrRevoked
	}
	if live, ok := m.sessions[claims.SessionID]; ok {
		live.LastActivity = now
		snapshot := *live
		m.mu.Unlock()
		return &snapshot, nil
	}
	m.mu.Unlock()

	// No live entry (e.g. after a restart): rebuild the view from the
	// claims alone. The snapshots carry only what the token proves.
	return &Session{
		ID: claims.SessionID,
		User: directory.User{
			ID:       claims.UserID,
			Email:    claims.Email,
			Role:     directory.Role(claims.Role),
			TenantID: claims.TenantID,
			IsActive: true,
		},
		Tenant:       directory.Tenant{ID: claims.TenantID, IsActive: true},
		IssuedAt:     claims.IssuedAt.Time,
		ExpiresAt:    claims.ExpiresAt.Time,
		LastActivity: now,
		Remember:     claims.Remember,
	}, nil
}

// dropExpired retires the in-memory entry for a token that failed its
// own expiry check, keeping the two expiry mechanisms in agreement.
func (m *Manager) dropExpired(ctx context.Context, sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	var snapshot Session
	if ok {
		snapshot = *sess
		delete(m.sessions, sessionID)
	}
	count := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return
	}

	obs.SetActiveSessions(count)
	m.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionLogout,
		Resource:   audit.ResourceSession,
		ResourceID: sessionID,
		UserID:     snapshot.User.ID,
		UserEmail:  snapshot.User.Email,
		TenantID:   snapshot.Tenant.ID,
		Success:    true,
		Details:    map[string]any{"reason": "token expired"},
	})
}

// Logout retires the session. The id is tombstoned so a still-valid
// token for it can never be replayed. Idempotent: a second logout of
// the same id records nothing further.
func (m *Manager) Logout(ctx context.Context, sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	var snapshot Session
	if ok {
		snapshot = *sess
		delete(m.sessions, sessionID)
	}
	m.revoked[sessionID] = m.now().UTC()
	count := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return
	}

	obs.SetActiveSessions(count)
	m.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionLogout,
		Resource:   audit.ResourceSession,
		ResourceID: sessionID,
		UserID:     snapshot.User.ID,
		UserEmail:  snapshot.User.Email,
		UserRole:   string(snapshot.User.Role),
		TenantID:   snapshot.Tenant.ID,
		Success:    true,
	})
}

// InvalidateAllForUser revokes every session for the user, for
// example after a password change or deactivation. Live entries are
// removed, and a cutoff is recorded so any of the user's tokens
// issued up to now fail to resolve even without a live entry. One
// summary logout event is recorded.
func (m *Manager) InvalidateAllForUser(ctx context.Context, userID, reason string) int {
	m.mu.Lock()
	removed := 0
	var email string
	var tenantID string
	for id, sess := range m.sessions {
		if sess.User.ID == userID {
			email = sess.User.Email
			tenantID = sess.Tenant.ID
			delete(m.sessions, id)
			removed++
		}
	}
	m.userCutoff[userID] = m.now().UTC()
	count := len(m.sessions)
	m.mu.Unlock()

	if removed == 0 {
		return 0
	}
	obs.SetActiveSessions(count)
	m.recorder.Record(ctx, audit.Event{
		Action:    audit.ActionLogout,
		Resource:  audit.ResourceSession,
		UserID:    userID,
		UserEmail: email,
		TenantID:  tenantID,
		Success:   true,
		Details:   map[string]any{"invalidated": removed, "reason": reason},
	})
	return removed
}

// Authorize reports whether userRole satisfies requiredRole under the
// strict hierarchy admin > teacher > student. It has no side effects;
// use RequireRole to also record the mandatory audit events.
func (m *Manager) Authorize(userRole, requiredRole directory.Role) bool {
	return userRole.Satisfies(requiredRole)
}

// RequireRole enforces the role hierarchy for a request. A missing
// session records unauthorized_access; an insufficient role records
// permission_denied with both roles and the attempted resource.
func (m *Manager) RequireRole(ctx context.Context, sess *Session, required directory.Role, resource audit.Resource, resourceID string) error {
	if sess == nil {
		m.recorder.Record(ctx, audit.Event{
			Action:     audit.ActionUnauthorizedAccess,
			Resource:   resource,
			ResourceID: resourceID,
			Success:    false,
		})
		return ErrUnauthenticated
	}
	if !m.Authorize(sess.User.Role, required) {
		m.recorder.Record(ctx, audit.Event{
			Action:     audit.ActionPermissionDenied,
			Resource:   resource,
			ResourceID: resourceID,
			UserID:     sess.User.ID,
			UserEmail:  sess.User.Email,
			UserRole:   string(sess.User.Role),
			TenantID:   sess.Tenant.ID,
			Success:    false,
			Details: map[string]any{
				"required_role": string(required),
				"actual_role":   string(sess.User.Role),
			},
		})
		return ErrInsufficientPermissions
	}
	return nil
}

// ValidateTenantAccess checks that the session's user belongs to the
// tenant: as primary tenant, secondary member, or owner. Violations
// are hard denials and always audited.
func (m *Manager) ValidateTenantAccess(ctx context.Context, sess *Session, tenantID string) error {
	if sess == nil {
		m.recorder.Record(ctx, audit.Event{
			Action:     audit.ActionUnauthorizedAccess,
			Resource:   audit.ResourceTenant,
			ResourceID: tenantID,
			Success:    false,
		})
		return ErrUnauthenticated
	}
	if sess.User.TenantID == tenantID {
		return nil
	}
	for _, id := range sess.User.TenantIDs {
		if id == tenantID {
			return nil
		}
	}
	tenant, err := m.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant != nil && tenant.OwnerID == sess.User.ID {
		return nil
	}

	m.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionPermissionDenied,
		Resource:   audit.ResourceTenant,
		ResourceID: tenantID,
		UserID:     sess.User.ID,
		UserEmail:  sess.User.Email,
		UserRole:   string(sess.User.Role),
		TenantID:   sess.Tenant.ID,
		Success:    false,
		Details:    map[string]any{"attempted_tenant": tenantID},
	})
	return ErrForbidden
}

// Metrics computes best-effort statistics over the in-memory table.
func (m *Manager) Metrics() Metrics {
	now := m.now().UTC()
	today := now.Truncate(24 * time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()

	out := Metrics{TotalSessions: len(m.sessions)}
	var totalDuration time.Duration
	for _, sess := range m.sessions {
		if now.Sub(sess.LastActivity) <= 24*time.Hour {
			out.Active24h++
		}
		if now.After(sess.ExpiresAt) {
			out.Expired++
		}
		if !sess.IssuedAt.Before(today) {
			out.SessionsToday++
		}
		totalDuration += sess.LastActivity.Sub(sess.IssuedAt)
	}
	if len(m.sessions) > 0 {
		out.AvgDuration = totalDuration / time.Duration(len(m.sessions))
	}
	return out
}

// Sweep drops in-memory entries whose expiry has passed, and prunes
// revocation markers older than the longest token lifetime, since any
// token they guard against has expired on its own by then.
func (m *Manager) Sweep() int {
	now := m.now().UTC()
	m.mu.Lock()
	removed := 0
	for id, sess := range m.sessions {
		if now.After(sess.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	for id, at := range m.revoked {
		if now.Sub(at) > m.rememberDur {
			delete(m.revoked, id)
		}
	}
	for userID, at := range m.userCutoff {
		if now.Sub(at) > m.rememberDur {
			delete(m.userCutoff, userID)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	obs.SetActiveSessions(count)
	return removed
}

// Live reports whether the session id is present in the in-memory
// table.
func (m *Manager) Live(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}
