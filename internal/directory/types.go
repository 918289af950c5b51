// Package directory owns tenant and user records. The directories are
// the only writers of those collections in the persistent store.
package directory

import "time"

// DefaultTenantID is the tenant every unaffiliated user joins. The
// record always exists and can never be deleted.
const DefaultTenantID = "default"

// Branding holds optional per-tenant presentation settings.
type Branding struct {
	LogoURL      string `json:"logo_url,omitempty"`
	PrimaryColor string `json:"primary_color,omitempty"`
}

// TenantSettings configures tenant-level policy.
type TenantSettings struct {
	AllowSelfRegistration bool      `json:"allow_self_registration"`
	DefaultRole           Role      `json:"default_role,omitempty"`
	MaxUsers              *int      `json:"max_users,omitempty"`
	EnabledFeatures       []string  `json:"enabled_features,omitempty"`
	Branding              *Branding `json:"branding,omitempty"`
}

// Tenant is an isolated organizational unit owning its own users and
// feature settings.
type Tenant struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"` // unique URL-safe slug
	DisplayName string         `json:"display_name"`
	Domain      string         `json:"domain,omitempty"`
	Settings    TenantSettings `json:"settings"`
	OwnerID     string         `json:"owner_id,omitempty"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// User is an account scoped to a primary tenant. Credential material
// lives in a separate record and is never carried on this struct.
type User struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"` // unique system-wide, stored lower-case
	Name        string            `json:"name"`
	Role        Role              `json:"role"`
	TenantID    string            `json:"tenant_id"`
	TenantRole  TenantRole        `json:"tenant_role,omitempty"`
	TenantIDs   []string          `json:"tenant_ids,omitempty"` // additional memberships
	IsActive    bool              `json:"is_active"`
	CreatedAt   time.Time         `json:"created_at"`
	LastLogin   *time.Time        `json:"last_login,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// Credential is the never-externally-exposed password record, keyed by
// user id.
type Credential struct {
	UserID       string    `json:"user_id"`
	PasswordHash string    `json:"password_hash"`
	Salt         string    `json:"salt"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Registration is the input to Users.Create.
type Registration struct {
	Email    string
	Name     string
	Password string
	Role     Role // optional; tenant default applies when empty

	// TenantID joins an existing tenant. When empty and NewTenantName
	// is set, a tenant is created with the new user as its owner;
	// otherwise the user joins the default tenant as a member.
	TenantID      string
	NewTenantName string
}

// TenantPatch updates mutable tenant fields; nil means "leave as is".
// The id is immutable.
type TenantPatch struct {
	Name        *string
	DisplayName *string
	Domain      *string
	Settings    *TenantSettings
	OwnerID     *string
	IsActive    *bool
}

// UserPatch updates mutable user fields; nil means "leave as is". The
// id is immutable.
type UserPatch struct {
	Email       *string
	Name        *string
	Role        *Role
	TenantID    *string
	TenantRole  *TenantRole
	TenantIDs   *[]string
	IsActive    *bool
	Preferences *map[string]string
}

// Stats aggregates user counts, optionally scoped to one tenant.
type Stats struct {
	Total  int          `json:"total"`
	Active int          `json:"active"`
	ByRole map[Role]int `json:"by_role"`
}
