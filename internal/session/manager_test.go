package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"studyhub.org/internal/audit"
	"studyhub.org/internal/directory"
	"studyhub.org/internal/session"
	"studyhub.org/internal/store/filestore"
	"studyhub.org/internal/token"
)

type fixture struct {
	store    *filestore.Store
	tenants  *directory.Tenants
	users    *directory.Users
	recorder *audit.Recorder
	codec    *token.Codec
	manager  *session.Manager
	clock    *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	recorder := audit.NewRecorder(store)
	tenants := directory.NewTenants(store, directory.WithTenantsRecorder(recorder))
	users := directory.NewUsers(store, tenants, directory.WithUsersRecorder(recorder))
	if _, err := directory.Bootstrap(context.Background(), store); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	codec, err := token.NewCodec("test-secret-please-rotate", token.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	opts = append([]session.Option{session.WithClock(clock.Now)}, opts...)
	mgr, err := session.NewManager(codec, users, tenants, recorder, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &fixture{store: store, tenants: tenants, users: users, recorder: recorder, codec: codec, manager: mgr, clock: clock}
}

func (f *fixture) register(t *testing.T, email, password, tenantName string) directory.User {
	t.Helper()
	user, err := f.users.Create(context.Background(), directory.Registration{
		Email:         email,
		Name:          "Test User",
		Password:      password,
		NewTenantName: tenantName,
	})
	if err != nil {
		t.Fatalf("Create(%s): %v", email, err)
	}
	return user
}

func (f *fixture) countEvents(t *testing.T, filter audit.Filter) int {
	t.Helper()
	_, total, _, err := f.recorder.Query(context.Background(), filter)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return total
}

func TestLoginIssuesTenantScopedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "alice@acme.test", "s3cret-pass", "acme")

	raw, sess, err := f.manager.Login(ctx, session.Credentials{
		Email:    "alice@acme.test",
		Password: "s3cret-pass",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if raw == "" {
		t.Fatalf("expected a token")
	}
	if sess.User.ID != user.ID {
		t.Fatalf("session user = %s, want %s", sess.User.ID, user.ID)
	}
	if sess.Tenant.Name != "acme" {
		t.Fatalf("session tenant = %q, want acme", sess.Tenant.Name)
	}
	if sess.Tenant.OwnerID != user.ID {
		t.Fatalf("registering with a new tenant should make the user its owner")
	}

	resolved, err := f.manager.Resolve(ctx, raw)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.ID != sess.ID || resolved.User.Email != "alice@acme.test" {
		t.Fatalf("resolved session mismatch: %+v", resolved)
	}
	if got := f.countEvents(t, audit.Filter{Action: audit.ActionLogin, UserID: user.ID}); got != 1 {
		t.Fatalf("login events = %d, want 1", got)
	}
}

func TestLoginFailureIsUniform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "bob@acme.test", "right-password", "acme")

	_, _, wrongPass := f.manager.Login(ctx, session.Credentials{Email: "bob@acme.test", Password: "wrong"})
	_, _, noUser := f.manager.Login(ctx, session.Credentials{Email: "nobody@acme.test", Password: "whatever"})

	if !errors.Is(wrongPass, session.ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", wrongPass)
	}
	if !errors.Is(noUser, session.ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v", noUser)
	}
	if wrongPass.Error() != noUser.Error() {
		t.Fatalf("failure messages differ: %q vs %q", wrongPass, noUser)
	}
	if got := f.countEvents(t, audit.Filter{Action: audit.ActionLoginFailed}); got != 2 {
		t.Fatalf("login_failed events = %d, want 2", got)
	}
}

func TestLoginFailedEventSeverity(t *testing.T) {
	f := newFixture(t)
	f.register(t, "carol@acme.test", "pw-number-one", "acme")

	_, _, err := f.manager.Login(context.Background(), session.Credentials{Email: "carol@acme.test", Password: "bad"})
	if !errors.Is(err, session.ErrInvalidCredentials) {
		t.Fatalf("Login: %v", err)
	}
	events, _, _, err := f.recorder.Query(context.Background(), audit.Filter{Action: audit.ActionLoginFailed})
	if err != nil || len(events) != 1 {
		t.Fatalf("query: %v, %d events", err, len(events))
	}
	if events[0].Severity != audit.SeverityMedium {
		t.Fatalf("login_failed severity = %s, want medium", events[0].Severity)
	}
	if events[0].Success {
		t.Fatalf("login_failed must record success=false")
	}
}

func TestResolveAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "dana@acme.test", "pw-dana-pass", "acme")

	raw, issued, err := f.manager.Login(ctx, session.Credentials{Email: "dana@acme.test", Password: "pw-dana-pass"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	// A fresh manager over the same signing key stands in for a
	// restarted process: no live entries, same tokens.
	restarted, err := session.NewManager(f.codec, f.users, f.tenants, f.recorder, session.WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	resolved, err := restarted.Resolve(ctx, raw)
	if err != nil {
		t.Fatalf("Resolve after restart: %v", err)
	}
	if resolved.ID != issued.ID {
		t.Fatalf("session id = %s, want %s", resolved.ID, issued.ID)
	}
	if resolved.User.Email != "dana@acme.test" || resolved.Tenant.ID != issued.Tenant.ID {
		t.Fatalf("claims-rebuilt session incomplete: %+v", resolved)
	}
}

func TestExpiredTokenInvalidatesLiveEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "erin@acme.test", "pw-erin-pass", "acme")

	raw, issued, err := f.manager.Login(ctx, session.Credentials{Email: "erin@acme.test", Password: "pw-erin-pass"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !f.manager.Live(issued.ID) {
		t.Fatalf("entry should be live right after login")
	}

	f.clock.Advance(8 * 24 * time.Hour)
	if _, err := f.manager.Resolve(ctx, raw); !errors.Is(err, token.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if f.manager.Live(issued.ID) {
		t.Fatalf("resolving an expired token must retire the live entry")
	}
	// The retirement is recorded as a logout with a reason.
	if got := f.countEvents(t, audit.Filter{Action: audit.ActionLogout, UserID: issued.User.ID}); got != 1 {
		t.Fatalf("logout events = %d, want 1", got)
	}
}

func TestRememberMeExtendsLifetime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "finn@acme.test", "pw-finn-pass", "acme")

	raw, _, err := f.manager.Login(ctx, session.Credentials{
		Email: "finn@acme.test", Password: "pw-finn-pass", RememberMe: true,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.clock.Advance(8 * 24 * time.Hour)
	if _, err := f.manager.Resolve(ctx, raw); err != nil {
		t.Fatalf("remember-me token should survive 8 days: %v", err)
	}
	f.clock.Advance(25 * 24 * time.Hour)
	if _, err := f.manager.Resolve(ctx, raw); !errors.Is(err, token.ErrExpired) {
		t.Fatalf("remember-me token should expire after 30 days, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "gabe@acme.test", "pw-gabe-pass", "acme")

	raw, issued, err := f.manager.Login(ctx, session.Credentials{Email: "gabe@acme.test", Password: "pw-gabe-pass"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.manager.Logout(ctx, issued.ID)
	f.manager.Logout(ctx, issued.ID)
	f.manager.Logout(ctx, "never-existed")

	if got := f.countEvents(t, audit.Filter{Action: audit.ActionLogout}); got != 1 {
		t.Fatalf("logout events = %d, want exactly 1", got)
	}
	if _, err := f.manager.Resolve(ctx, raw); !errors.Is(err, session.ErrRevoked) {
		t.Fatalf("logged-out token resolved: %v, want ErrRevoked", err)
	}
}

func TestInvalidateAllForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "hana@acme.test", "pw-hana-pass", "acme")
	f.register(t, "ivan@other.test", "pw-ivan-pass", "other")

	var tokens []string
	for i := 0; i < 3; i++ {
		raw, _, err := f.manager.Login(ctx, session.Credentials{Email: "hana@acme.test", Password: "pw-hana-pass"})
		if err != nil {
			t.Fatalf("Login %d: %v", i, err)
		}
		tokens = append(tokens, raw)
	}
	rawOther, otherSess, err := f.manager.Login(ctx, session.Credentials{Email: "ivan@other.test", Password: "pw-ivan-pass"})
	if err != nil {
		t.Fatalf("Login other: %v", err)
	}

	removed := f.manager.InvalidateAllForUser(ctx, user.ID, "password change")
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	// The tokens are still well signed and unexpired, but none of them
	// may resolve again.
	for i, raw := range tokens {
		if _, err := f.manager.Resolve(ctx, raw); !errors.Is(err, session.ErrRevoked) {
			t.Fatalf("Resolve %d after invalidation: %v, want ErrRevoked", i, err)
		}
	}
	if !f.manager.Live(otherSess.ID) {
		t.Fatalf("other user's session must survive")
	}
	if _, err := f.manager.Resolve(ctx, rawOther); err != nil {
		t.Fatalf("other user's token must keep resolving: %v", err)
	}
	if f.manager.InvalidateAllForUser(ctx, user.ID, "again") != 0 {
		t.Fatalf("second invalidation should remove nothing")
	}
}

func TestAuthorizeHierarchy(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		user, required directory.Role
		want           bool
	}{
		{directory.RoleAdmin, directory.RoleAdmin, true},
		{directory.RoleAdmin, directory.RoleTeacher, true},
		{directory.RoleAdmin, directory.RoleStudent, true},
		{directory.RoleTeacher, directory.RoleAdmin, false},
		{directory.RoleTeacher, directory.RoleTeacher, true},
		{directory.RoleTeacher, directory.RoleStudent, true},
		{directory.RoleStudent, directory.RoleAdmin, false},
		{directory.RoleStudent, directory.RoleTeacher, false},
		{directory.RoleStudent, directory.RoleStudent, true},
		{directory.Role("ghost"), directory.RoleStudent, false},
		{directory.RoleAdmin, directory.Role("ghost"), false},
	}
	for _, tc := range cases {
		if got := f.manager.Authorize(tc.user, tc.required); got != tc.want {
			t.Errorf("Authorize(%s, %s) = %v, want %v", tc.user, tc.required, got, tc.want)
		}
	}
}

func TestRequireRoleAuditsDenials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "judy@acme.test", "pw-judy-pass", "acme")

	_, sess, err := f.manager.Login(ctx, session.Credentials{Email: "judy@acme.test", Password: "pw-judy-pass"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	// New-tenant registrants own the tenant but keep the student role
	// unless the tenant raises its default.
	if sess.User.Role != directory.RoleStudent {
		t.Fatalf("role = %s, want student", sess.User.Role)
	}

	if err := f.manager.RequireRole(ctx, sess, directory.RoleAdmin, audit.ResourceAdminPanel, ""); !errors.Is(err, session.ErrInsufficientPermissions) {
		t.Fatalf("expected ErrInsufficientPermissions, got %v", err)
	}
	if err := f.manager.RequireRole(ctx, nil, directory.RoleStudent, audit.ResourceAPI, ""); !errors.Is(err, session.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for nil session, got %v", err)
	}
	if err := f.manager.RequireRole(ctx, sess, directory.RoleStudent, audit.ResourceContent, ""); err != nil {
		t.Fatalf("student accessing student resource: %v", err)
	}

	events, _, _, err := f.recorder.Query(ctx, audit.Filter{Action: audit.ActionPermissionDenied})
	if err != nil || len(events) != 1 {
		t.Fatalf("permission_denied events: %v, %d", err, len(events))
	}
	if events[0].Severity != audit.SeverityHigh {
		t.Fatalf("permission_denied severity = %s, want high", events[0].Severity)
	}
	if events[0].Details["required_role"] != "admin" || events[0].Details["actual_role"] != "student" {
		t.Fatalf("denial details = %v", events[0].Details)
	}
	if got := f.countEvents(t, audit.Filter{Action: audit.ActionUnauthorizedAccess}); got != 1 {
		t.Fatalf("unauthorized_access events = %d, want 1", got)
	}
}

func TestDenialQueryAcrossUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	emails := []string{"u1@acme.test", "u2@acme.test", "u3@acme.test"}
	perUser := []int{4, 3, 3}
	for i, email := range emails {
		f.register(t, email, "pw-common-pass", "")
		_, sess, err := f.manager.Login(ctx, session.Credentials{Email: email, Password: "pw-common-pass"})
		if err != nil {
			t.Fatalf("Login %s: %v", email, err)
		}
		for j := 0; j < perUser[i]; j++ {
			if err := f.manager.RequireRole(ctx, sess, directory.RoleAdmin, audit.ResourceAdminPanel, ""); !errors.Is(err, session.ErrInsufficientPermissions) {
				t.Fatalf("expected denial for %s: %v", email, err)
			}
		}
	}

	events, total, hasMore, err := f.recorder.Query(ctx, audit.Filter{
		Action: audit.ActionPermissionDenied,
		Limit:  6,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 10 {
		t.Fatalf("total = %d, want 10", total)
	}
	if len(events) != 6 || !hasMore {
		t.Fatalf("page = %d events, hasMore=%v; want 6, true", len(events), hasMore)
	}
	rest, _, hasMore, err := f.recorder.Query(ctx, audit.Filter{
		Action: audit.ActionPermissionDenied,
		Offset: 6,
		Limit:  6,
	})
	if err != nil {
		t.Fatalf("Query page 2: %v", err)
	}
	if len(rest) != 4 || hasMore {
		t.Fatalf("page 2 = %d events, hasMore=%v; want 4, false", len(rest), hasMore)
	}
}

func TestValidateTenantAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "kara@acme.test", "pw-kara-pass", "acme")
	outsider, err := f.tenants.Create(ctx, directory.Tenant{Name: "rivals", DisplayName: "Rivals"})
	if err != nil {
		t.Fatalf("Create tenant: %v", err)
	}

	_, sess, err := f.manager.Login(ctx, session.Credentials{Email: "kara@acme.test", Password: "pw-kara-pass"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.manager.ValidateTenantAccess(ctx, sess, sess.Tenant.ID); err != nil {
		t.Fatalf("primary tenant access denied: %v", err)
	}
	if err := f.manager.ValidateTenantAccess(ctx, sess, outsider.ID); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("cross-tenant access: got %v, want ErrForbidden", err)
	}
	if err := f.manager.ValidateTenantAccess(ctx, nil, outsider.ID); !errors.Is(err, session.ErrUnauthenticated) {
		t.Fatalf("nil session: got %v", err)
	}
	if got := f.countEvents(t, audit.Filter{Action: audit.ActionPermissionDenied, Resource: audit.ResourceTenant}); got != 1 {
		t.Fatalf("tenant denial events = %d, want 1", got)
	}
}

func TestMetricsAndSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "lena@acme.test", "pw-lena-pass", "acme")

	if _, _, err := f.manager.Login(ctx, session.Credentials{Email: "lena@acme.test", Password: "pw-lena-pass"}); err != nil {
		t.Fatalf("Login 1: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	if _, _, err := f.manager.Login(ctx, session.Credentials{Email: "lena@acme.test", Password: "pw-lena-pass"}); err != nil {
		t.Fatalf("Login 2: %v", err)
	}

	m := f.manager.Metrics()
	if m.TotalSessions != 2 || m.Active24h != 2 {
		t.Fatalf("metrics = %+v, want 2 total and 2 active", m)
	}
	if m.SessionsToday != 2 {
		t.Fatalf("sessions today = %d, want 2", m.SessionsToday)
	}

	f.clock.Advance(8 * 24 * time.Hour)
	m = f.manager.Metrics()
	if m.Expired != 2 {
		t.Fatalf("expired = %d, want 2", m.Expired)
	}
	if removed := f.manager.Sweep(); removed != 2 {
		t.Fatalf("Sweep removed %d, want 2", removed)
	}
	if m = f.manager.Metrics(); m.TotalSessions != 0 {
		t.Fatalf("sessions after sweep = %d, want 0", m.TotalSessions)
	}
	if f.manager.Sweep() != 0 {
		t.Fatalf("second sweep should remove nothing")
	}
}

func TestContextRoundTrip(t *testing.T) {
	sess := &session.Session{ID: "sess-1"}
	ctx := session.ContextWithSession(context.Background(), sess)
	got, ok := session.FromContext(ctx)
	if !ok || got.ID != "sess-1" {
		t.Fatalf("FromContext = %+v, %v", got, ok)
	}
	if _, ok := session.FromContext(context.Background()); ok {
		t.Fatalf("empty context should carry no session")
	}

	ctx = session.ContextWithToken(context.Background(), "raw-token")
	raw, ok := session.TokenFromContext(ctx)
	if !ok || raw != "raw-token" {
		t.Fatalf("TokenFromContext = %q, %v", raw, ok)
	}
}
