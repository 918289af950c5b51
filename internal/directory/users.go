package directory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"studyhub.org/internal/audit"
	"studyhub.org/internal/credential"
	"studyhub.org/internal/ids"
)

// Users is the user directory service.
type Users struct {
	store    Store
	tenants  *Tenants
	recorder *audit.Recorder
	now      func() time.Time
}

// UsersOption configures the user directory.
type UsersOption func(*Users)

// WithUsersClock overrides the time source (useful for tests).
func WithUsersClock(fn func() time.Time) UsersOption {
	return func(u *Users) {
		if fn != nil {
			u.now = fn
		}
	}
}

// WithUsersRecorder wires audit recording for user mutations.
func WithUsersRecorder(r *audit.Recorder) UsersOption {
	return func(u *Users) { u.recorder = r }
}

// NewUsers constructs the user directory. The tenant directory is
// needed for the register-with-new-tenant flow and for membership
// checks.
func NewUsers(store Store, tenants *Tenants, opts ...UsersOption) *Users {
	u := &Users{store: store, tenants: tenants, now: time.Now}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// NormalizeEmail lowers and trims an email for case-insensitive
// comparison.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// Create registers a new user. Email uniqueness is system-wide and
// case-insensitive. When no tenant is given but a new tenant name is,
// the tenant is created first and the user becomes its owner;
// otherwise the user joins the default tenant as a member.
func (u *Users) Create(ctx context.Context, reg Registration) (User, error) {
	email := NormalizeEmail(reg.Email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(reg.Password) == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	users := u.store.Users(ctx)
	all, err := users.ReadAll(ctx)
	if err != nil {
		return User{}, err
	}
	for _, existing := range all {
		if NormalizeEmail(existing.Email) == email {
			return User{}, fmt.Errorf("%w: %s", ErrDuplicateEmail, email)
		}
	}

	userID := ids.New()
	tenantID := strings.TrimSpace(reg.TenantID)
	tenantRole := TenantRoleMember
	var tenant *Tenant
	switch {
	case tenantID != "":
		tenant, err = u.tenants.FindByID(ctx, tenantID)
		if err != nil {
			return User{}, err
		}
		if tenant == nil {
			return User{}, fmt.Errorf("%w: tenant %s", ErrNotFound, tenantID)
		}
	case strings.TrimSpace(reg.NewTenantName) != "":
		created, err := u.tenants.Create(ctx, Tenant{
			Name:        Slugify(reg.NewTenantName),
			DisplayName: strings.TrimSpace(reg.NewTenantName),
			OwnerID:     userID,
		})
		if err != nil {
			return User{}, err
		}
		tenant = &created
		tenantID = created.ID
		tenantRole = TenantRoleOwner
	default:
		tenantID = DefaultTenantID
		tenant, err = u.tenants.FindByID(ctx, tenantID)
		if err != nil {
			return User{}, err
		}
	}

	role := reg.Role
	if role == "" && tenant != nil {
		role = tenant.Settings.DefaultRole
	}
	if role == "" {
		role = RoleStudent
	}
	if !role.Valid() {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	hash, salt, err := credential.Hash(reg.Password)
	if err != nil {
		return User{}, err
	}

	now := u.now().UTC()
	user := User{
		ID:         userID,
		Email:      email,
		Name:       strings.TrimSpace(reg.Name),
		Role:       role,
		TenantID:   tenantID,
		TenantRole: tenantRole,
		IsActive:   true,
		CreatedAt:  now,
	}

	// Reread after the possible tenant insert so a concurrent write
	// through this directory is not lost; the store serializes the
	// read-modify-write cycles themselves.
	all, err = users.ReadAll(ctx)
	if err != nil {
		return User{}, err
	}
	if err := users.WriteAll(ctx, append(all, user)); err != nil {
		return User{}, err
	}

	creds := u.store.Credentials(ctx)
	existing, err := creds.ReadAll(ctx)
	if err != nil {
		return User{}, err
	}
	rec := Credential{UserID: userID, PasswordHash: hash, Salt: salt, UpdatedAt: now}
	if err := creds.WriteAll(ctx, append(existing, rec)); err != nil {
		return User{}, err
	}

	u.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionUserCreate,
		Resource:   audit.ResourceUser,
		ResourceID: user.ID,
		TenantID:   tenantID,
		Success:    true,
		Details:    map[string]any{"email": email, "role": string(role)},
	})
	return user, nil
}

// FindByEmail returns the user for the email, compared
// case-insensitively, or nil when absent.
func (u *Users) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	return u.find(ctx, func(usr User) bool { return NormalizeEmail(usr.Email) == email })
}

// FindByID returns the user or nil when absent.
func (u *Users) FindByID(ctx context.Context, id string) (*User, error) {
	return u.find(ctx, func(usr User) bool { return usr.ID == id })
}

func (u *Users) find(ctx context.Context, match func(User) bool) (*User, error) {
	all, err := u.store.Users(ctx).ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if match(all[i]) {
			usr := all[i]
			return &usr, nil
		}
	}
	return nil, nil
}

// List returns every user across all tenants.
func (u *Users) List(ctx context.Context) ([]User, error) {
	return u.store.Users(ctx).ReadAll(ctx)
}

// FindByTenant returns every user scoped to the tenant, either as
// their primary tenant or through a secondary membership.
func (u *Users) FindByTenant(ctx context.Context, tenantID string) ([]User, error) {
	all, err := u.store.Users(ctx).ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []User
	for _, usr := range all {
		if usr.TenantID == tenantID || slices.Contains(usr.TenantIDs, tenantID) {
			out = append(out, usr)
		}
	}
	return out, nil
}

// Authenticate verifies email and password and returns the user. Both
// an unknown email and a wrong password return (nil, nil): callers
// must not be able to tell the two apart. Inactive accounts fail the
// same way.
func (u *Users) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := u.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, nil
	}
	creds, err := u.store.Credentials(ctx).ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range creds {
		if rec.UserID == user.ID {
			if credential.Verify(password, rec.PasswordHash, rec.Salt) {
				return user, nil
			}
			return nil, nil
		}
	}
	return nil, nil
}

// RecordLogin stamps the user's last successful login.
func (u *Users) RecordLogin(ctx context.Context, id string, at time.Time) error {
	users := u.store.Users(ctx)
	all, err := users.ReadAll(ctx)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(all, func(usr User) bool { return usr.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	at = at.UTC()
	all[idx].LastLogin = &at
	return users.WriteAll(ctx, all)
}

// Update applies the patch to the user. The id is immutable; email
// changes re-check uniqueness and tenant changes must reference an
// existing tenant.
func (u *Users) Update(ctx context.Context, id string, patch UserPatch) (User, error) {
	users := u.store.Users(ctx)
	all, err := users.ReadAll(ctx)
	if err != nil {
		return User{}, err
	}
	idx := slices.IndexFunc(all, func(usr User) bool { return usr.ID == id })
	if idx < 0 {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	user := all[idx]
	prevRole := user.Role
	prevActive := user.IsActive

	if patch.Email != nil {
		email := NormalizeEmail(*patch.Email)
		if email == "" || !strings.Contains(email, "@") {
			return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		for i, other := range all {
			if i != idx && NormalizeEmail(other.Email) == email {
				return User{}, fmt.Errorf("%w: %s", ErrDuplicateEmail, email)
			}
		}
		user.Email = email
	}
	if patch.Name != nil {
		user.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Role != nil {
		if !patch.Role.Valid() {
			return User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *patch.Role)
		}
		user.Role = *patch.Role
	}
	if patch.TenantID != nil {
		tenant, err := u.tenants.FindByID(ctx, *patch.TenantID)
		if err != nil {
			return User{}, err
		}
		if tenant == nil {
			return User{}, fmt.Errorf("%w: tenant %s", ErrNotFound, *patch.TenantID)
		}
		user.TenantID = tenant.ID
	}
	if patch.TenantRole != nil {
		if *patch.TenantRole != "" && !patch.TenantRole.Valid() {
			return User{}, fmt.Errorf("%w: unknown tenant role %q", ErrInvalidInput, *patch.TenantRole)
		}
		user.TenantRole = *patch.TenantRole
	}
	if patch.TenantIDs != nil {
		user.TenantIDs = slices.Clone(*patch.TenantIDs)
	}
	if patch.IsActive != nil {
		user.IsActive = *patch.IsActive
	}
	if patch.Preferences != nil {
		user.Preferences = *patch.Preferences
	}

	all[idx] = user
	if err := users.WriteAll(ctx, all); err != nil {
		return User{}, err
	}

	u.recordUpdateEvents(ctx, user, prevRole, prevActive)
	return user, nil
}

func (u *Users) recordUpdateEvents(ctx context.Context, user User, prevRole Role, prevActive bool) {
	base := audit.Event{
		Resource:   audit.ResourceUser,
		ResourceID: user.ID,
		TenantID:   user.TenantID,
		Success:    true,
	}
	switch {
	case prevRole != user.Role:
		ev := base
		ev.Action = audit.ActionRoleChange
		ev.Details = map[string]any{"from": string(prevRole), "to": string(user.Role)}
		u.recorder.Record(ctx, ev)
	case prevActive != user.IsActive:
		ev := base
		if user.IsActive {
			ev.Action = audit.ActionUserActivate
		} else {
			ev.Action = audit.ActionUserDeactivate
		}
		u.recorder.Record(ctx, ev)
	default:
		ev := base
		ev.Action = audit.ActionUserUpdate
		u.recorder.Record(ctx, ev)
	}
}

// UpdatePassword regenerates salt and hash for the user. It reports
// false without error when the id is unknown.
func (u *Users) UpdatePassword(ctx context.Context, id, newPassword string) (bool, error) {
	if strings.TrimSpace(newPassword) == "" {
		return false, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	user, err := u.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}

	hash, salt, err := credential.Hash(newPassword)
	if err != nil {
		return false, err
	}
	creds := u.store.Credentials(ctx)
	all, err := creds.ReadAll(ctx)
	if err != nil {
		return false, err
	}
	rec := Credential{UserID: id, PasswordHash: hash, Salt: salt, UpdatedAt: u.now().UTC()}
	idx := slices.IndexFunc(all, func(c Credential) bool { return c.UserID == id })
	if idx >= 0 {
		all[idx] = rec
	} else {
		all = append(all, rec)
	}
	if err := creds.WriteAll(ctx, all); err != nil {
		return false, err
	}

	u.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionPasswordChange,
		Resource:   audit.ResourceUser,
		ResourceID: id,
		TenantID:   user.TenantID,
		Success:    true,
	})
	return true, nil
}

// Delete removes the user and their credential record. It reports
// false without error when the id is unknown.
func (u *Users) Delete(ctx context.Context, id string) (bool, error) {
	users := u.store.Users(ctx)
	all, err := users.ReadAll(ctx)
	if err != nil {
		return false, err
	}
	idx := slices.IndexFunc(all, func(usr User) bool { return usr.ID == id })
	if idx < 0 {
		return false, nil
	}
	removed := all[idx]
	if err := users.WriteAll(ctx, slices.Delete(all, idx, idx+1)); err != nil {
		return false, err
	}

	creds := u.store.Credentials(ctx)
	existing, err := creds.ReadAll(ctx)
	if err == nil {
		if ci := slices.IndexFunc(existing, func(c Credential) bool { return c.UserID == id }); ci >= 0 {
			_ = creds.WriteAll(ctx, slices.Delete(existing, ci, ci+1))
		}
	}

	u.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionUserDelete,
		Resource:   audit.ResourceUser,
		ResourceID: id,
		TenantID:   removed.TenantID,
		Success:    true,
		Details:    map[string]any{"email": removed.Email},
	})
	return true, nil
}

// Stats aggregates user counts, optionally scoped to one tenant.
func (u *Users) Stats(ctx context.Context, tenantID string) (Stats, error) {
	all, err := u.store.Users(ctx).ReadAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{ByRole: make(map[Role]int)}
	for _, usr := range all {
		if tenantID != "" && usr.TenantID != tenantID && !slices.Contains(usr.TenantIDs, tenantID) {
			continue
		}
		stats.Total++
		if usr.IsActive {
			stats.Active++
		}
		stats.ByRole[usr.Role]++
	}
	return stats, nil
}
