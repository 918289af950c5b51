package directory

import "errors"

var (
	// ErrNotFound indicates an update or delete against an unknown id.
	ErrNotFound = errors.New("directory: not found")
	// ErrDuplicateTenantName indicates a tenant name collision.
	ErrDuplicateTenantName = errors.New("directory: tenant name already exists")
	// ErrDuplicateEmail indicates an email already registered,
	// compared case-insensitively.
	ErrDuplicateEmail = errors.New("directory: email already exists")
	// ErrForbidden indicates an operation that is never allowed, such
	// as deleting the default tenant.
	ErrForbidden = errors.New("directory: forbidden")
	// ErrInvalidInput indicates a malformed argument.
	ErrInvalidInput = errors.New("directory: invalid input")
	// ErrStoreUnavailable indicates the persistent store could not be
	// read. It is deliberately distinct from an empty collection: "no
	// users" must never be confused with "store broken".
	ErrStoreUnavailable = errors.New("directory: store unavailable")
)
