package directory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"studyhub.org/internal/audit"
	"studyhub.org/internal/ids"
)

// Tenants is the tenant directory service.
type Tenants struct {
	store    Store
	recorder *audit.Recorder
	now      func() time.Time
}

// TenantsOption configures the tenant directory.
type TenantsOption func(*Tenants)

// WithTenantsClock overrides the time source (useful for tests).
func WithTenantsClock(fn func() time.Time) TenantsOption {
	return func(t *Tenants) {
		if fn != nil {
			t.now = fn
		}
	}
}

// WithTenantsRecorder wires audit recording for tenant mutations.
func WithTenantsRecorder(r *audit.Recorder) TenantsOption {
	return func(t *Tenants) { t.recorder = r }
}

// NewTenants constructs the tenant directory over the store.
func NewTenants(store Store, opts ...TenantsOption) *Tenants {
	t := &Tenants{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Slugify lowers a display name into a URL-safe tenant name.
func Slugify(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	var b strings.Builder
	lastHyphen := true
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func validSlug(name string) bool {
	if name == "" {
		return false
	}
	return name == Slugify(name)
}

// Create persists a new tenant. The name must be a unique URL-safe
// slug; collisions fail with ErrDuplicateTenantName.
func (t *Tenants) Create(ctx context.Context, tenant Tenant) (Tenant, error) {
	tenant.Name = strings.TrimSpace(strings.ToLower(tenant.Name))
	if !validSlug(tenant.Name) {
		return Tenant{}, fmt.Errorf("%w: tenant name must be a URL-safe slug", ErrInvalidInput)
	}
	if tenant.DisplayName == "" {
		tenant.DisplayName = tenant.Name
	}

	coll := t.store.Tenants(ctx)
	all, err := coll.ReadAll(ctx)
	if err != nil {
		return Tenant{}, err
	}
	for _, existing := range all {
		if existing.Name == tenant.Name {
			return Tenant{}, fmt.Errorf("%w: %s", ErrDuplicateTenantName, tenant.Name)
		}
	}

	if tenant.ID == "" {
		tenant.ID = ids.New()
	}
	now := t.now().UTC()
	tenant.IsActive = true
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	if err := coll.WriteAll(ctx, append(all, tenant)); err != nil {
		return Tenant{}, err
	}

	t.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionTenantCreate,
		Resource:   audit.ResourceTenant,
		ResourceID: tenant.ID,
		TenantID:   tenant.ID,
		Success:    true,
		Details:    map[string]any{"name": tenant.Name},
	})
	return tenant, nil
}

// FindByID returns the tenant or nil when absent. Absence is not an
// error; only store failures are.
func (t *Tenants) FindByID(ctx context.Context, id string) (*Tenant, error) {
	return t.find(ctx, func(tn Tenant) bool { return tn.ID == id })
}

// FindByName looks a tenant up by its slug.
func (t *Tenants) FindByName(ctx context.Context, name string) (*Tenant, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	return t.find(ctx, func(tn Tenant) bool { return tn.Name == name })
}

// FindByDomain looks a tenant up by its custom domain.
func (t *Tenants) FindByDomain(ctx context.Context, domain string) (*Tenant, error) {
	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" {
		return nil, nil
	}
	return t.find(ctx, func(tn Tenant) bool { return strings.EqualFold(tn.Domain, domain) })
}

func (t *Tenants) find(ctx context.Context, match func(Tenant) bool) (*Tenant, error) {
	all, err := t.store.Tenants(ctx).ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if match(all[i]) {
			tn := all[i]
			return &tn, nil
		}
	}
	return nil, nil
}

// Update applies the patch to the tenant. The id is immutable and
// UpdatedAt is always refreshed.
func (t *Tenants) Update(ctx context.Context, id string, patch TenantPatch) (Tenant, error) {
	coll := t.store.Tenants(ctx)
	all, err := coll.ReadAll(ctx)
	if err != nil {
		return Tenant{}, err
	}
	idx := slices.IndexFunc(all, func(tn Tenant) bool { return tn.ID == id })
	if idx < 0 {
		return Tenant{}, fmt.Errorf("%w: tenant %s", ErrNotFound, id)
	}

	tenant := all[idx]
	if patch.Name != nil {
		name := strings.TrimSpace(strings.ToLower(*patch.Name))
		if !validSlug(name) {
			return Tenant{}, fmt.Errorf("%w: tenant name must be a URL-safe slug", ErrInvalidInput)
		}
		for i, other := range all {
			if i != idx && other.Name == name {
				return Tenant{}, fmt.Errorf("%w: %s", ErrDuplicateTenantName, name)
			}
		}
		tenant.Name = name
	}
	if patch.DisplayName != nil {
		tenant.DisplayName = strings.TrimSpace(*patch.DisplayName)
	}
	if patch.Domain != nil {
		tenant.Domain = strings.TrimSpace(strings.ToLower(*patch.Domain))
	}
	if patch.Settings != nil {
		tenant.Settings = *patch.Settings
	}
	if patch.OwnerID != nil {
		tenant.OwnerID = strings.TrimSpace(*patch.OwnerID)
	}
	if patch.IsActive != nil {
		tenant.IsActive = *patch.IsActive
	}
	tenant.UpdatedAt = t.now().UTC()

	all[idx] = tenant
	if err := coll.WriteAll(ctx, all); err != nil {
		return Tenant{}, err
	}

	t.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionTenantUpdate,
		Resource:   audit.ResourceTenant,
		ResourceID: tenant.ID,
		TenantID:   tenant.ID,
		Success:    true,
	})
	return tenant, nil
}

// Delete removes the tenant. The default tenant can never be deleted.
// Cascading cleanup of dependent users is the caller's concern.
func (t *Tenants) Delete(ctx context.Context, id string) error {
	if id == DefaultTenantID {
		return fmt.Errorf("%w: the default tenant cannot be deleted", ErrForbidden)
	}
	coll := t.store.Tenants(ctx)
	all, err := coll.ReadAll(ctx)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(all, func(tn Tenant) bool { return tn.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: tenant %s", ErrNotFound, id)
	}
	name := all[idx].Name
	if err := coll.WriteAll(ctx, slices.Delete(all, idx, idx+1)); err != nil {
		return err
	}

	t.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionTenantDelete,
		Resource:   audit.ResourceTenant,
		ResourceID: id,
		TenantID:   id,
		Success:    true,
		Details:    map[string]any{"name": name},
	})
	return nil
}

// ListForUser returns every tenant the user belongs to: as primary
// tenant, as secondary member, or as owner.
func (t *Tenants) ListForUser(ctx context.Context, userID string) ([]Tenant, error) {
	users, err := t.store.Users(ctx).ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	var user *User
	for i := range users {
		if users[i].ID == userID {
			user = &users[i]
			break
		}
	}

	tenants, err := t.store.Tenants(ctx).ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []Tenant
	for _, tn := range tenants {
		switch {
		case tn.OwnerID == userID:
			out = append(out, tn)
		case user != nil && user.TenantID == tn.ID:
			out = append(out, tn)
		case user != nil && slices.Contains(user.TenantIDs, tn.ID):
			out = append(out, tn)
		}
	}
	return out, nil
}
