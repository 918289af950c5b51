package directory

import "context"

// Volumes are small, so the directories work over whole collections:
// read, modify in memory, write back. The store must provide at least
// read-after-write consistency for a single collection.

// TenantCollection persists tenant records.
type TenantCollection interface {
	ReadAll(ctx context.Context) ([]Tenant, error)
	WriteAll(ctx context.Context, tenants []Tenant) error
}

// UserCollection persists user records.
type UserCollection interface {
	ReadAll(ctx context.Context) ([]User, error)
	WriteAll(ctx context.Context, users []User) error
}

// CredentialCollection persists password records, keyed by user id.
type CredentialCollection interface {
	ReadAll(ctx context.Context) ([]Credential, error)
	WriteAll(ctx context.Context, creds []Credential) error
}

// Store gives the directories access to their collections.
type Store interface {
	Tenants(ctx context.Context) TenantCollection
	Users(ctx context.Context) UserCollection
	Credentials(ctx context.Context) CredentialCollection
}
