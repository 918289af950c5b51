// Package audit maintains the append-only trail of security-relevant
// events. Events are immutable once written; the recorder never fails
// the operation that produced the event.
package audit

import "time"

// Action identifies what happened.
type Action string

const (
	ActionLogin          Action = "login"
	ActionLogout         Action = "logout"
	ActionLoginFailed    Action = "login_failed"
	ActionPasswordChange Action = "password_change"

	ActionUserCreate     Action = "user_create"
	ActionUserUpdate     Action = "user_update"
	ActionUserDelete     Action = "user_delete"
	ActionUserActivate   Action = "user_activate"
	ActionUserDeactivate Action = "user_deactivate"
	ActionRoleChange     Action = "role_change"

	ActionTenantCreate Action = "tenant_create"
	ActionTenantUpdate Action = "tenant_update"
	ActionTenantDelete Action = "tenant_delete"

	ActionContentCreate Action = "content_create"
	ActionContentUpdate Action = "content_update"
	ActionContentDelete Action = "content_delete"

	ActionSystemConfigChange Action = "system_config_change"
	ActionDataExport         Action = "data_export"
	ActionDataImport         Action = "data_import"

	ActionUnauthorizedAccess Action = "unauthorized_access"
	ActionPermissionDenied   Action = "permission_denied"
)

// Resource identifies what kind of thing was acted on.
type Resource string

const (
	ResourceUser       Resource = "user"
	ResourceTenant     Resource = "tenant"
	ResourceContent    Resource = "content"
	ResourceSystem     Resource = "system"
	ResourceSession    Resource = "session"
	ResourceAdminPanel Resource = "admin_panel"
	ResourceAPI        Resource = "api"
	ResourceDatabase   Resource = "database"
)

// Severity classifies how much attention an event deserves.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFor assigns severity from the action alone. The policy is
// fixed here rather than caller-supplied so that two call sites can
// never grade the same action differently.
func SeverityFor(action Action) Severity {
	switch action {
	case ActionPermissionDenied, ActionUnauthorizedAccess:
		return SeverityHigh
	case ActionUserDelete, ActionUserDeactivate, ActionRoleChange, ActionTenantDelete, ActionContentDelete:
		return SeverityHigh
	case ActionLoginFailed:
		return SeverityMedium
	case ActionUserCreate, ActionUserUpdate, ActionUserActivate,
		ActionTenantCreate, ActionTenantUpdate,
		ActionContentCreate, ActionContentUpdate,
		ActionPasswordChange, ActionSystemConfigChange,
		ActionDataExport, ActionDataImport:
		return SeverityMedium
	default:
		// login, logout and other session housekeeping.
		return SeverityLow
	}
}

// Event is a single immutable audit record.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     Action         `json:"action"`
	Resource   Resource       `json:"resource"`
	ResourceID string         `json:"resource_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	UserEmail  string         `json:"user_email,omitempty"`
	UserRole   string         `json:"user_role,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Success    bool           `json:"success"`
	Severity   Severity       `json:"severity"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
}

// Filter selects events for retrieval. Zero values mean "any".
type Filter struct {
	UserID   string
	TenantID string
	Action   Action
	Resource Resource
	Severity Severity
	Success  *bool
	From     time.Time
	To       time.Time

	Offset int
	Limit  int
}

// Matches reports whether the event satisfies every set field of the
// filter. Pagination fields are ignored here.
func (f Filter) Matches(e Event) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}
