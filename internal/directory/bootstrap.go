package directory

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"studyhub.org/internal/credential"
	"studyhub.org/internal/ids"
)

// BootstrapAdminEmail is the administrator account created when the
// store starts out empty.
const BootstrapAdminEmail = "admin@studyhub.local"

// Bootstrap seeds an empty store with the default tenant and a
// bootstrap administrator. It returns the generated admin password
// exactly once, when the admin was created in this call; the caller
// is expected to log it and nothing else ever sees it.
func Bootstrap(ctx context.Context, store Store) (adminPassword string, err error) {
	tenants := store.Tenants(ctx)
	allTenants, err := tenants.ReadAll(ctx)
	if err != nil {
		return "", err
	}
	haveDefault := false
	for _, t := range allTenants {
		if t.ID == DefaultTenantID {
			haveDefault = true
			break
		}
	}
	if !haveDefault {
		now := time.Now().UTC()
		allTenants = append(allTenants, Tenant{
			ID:          DefaultTenantID,
			Name:        DefaultTenantID,
			DisplayName: "Default",
			Settings: TenantSettings{
				AllowSelfRegistration: true,
				DefaultRole:           RoleStudent,
			},
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err := tenants.WriteAll(ctx, allTenants); err != nil {
			return "", err
		}
	}

	users := store.Users(ctx)
	allUsers, err := users.ReadAll(ctx)
	if err != nil {
		return "", err
	}
	if len(allUsers) > 0 {
		return "", nil
	}

	raw := make([]byte, 18)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate bootstrap password: %w", err)
	}
	password := base64.RawURLEncoding.EncodeToString(raw)
	hash, salt, err := credential.Hash(password)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	admin := User{
		ID:         ids.New(),
		Email:      BootstrapAdminEmail,
		Name:       "Administrator",
		Role:       RoleAdmin,
		TenantID:   DefaultTenantID,
		TenantRole: TenantRoleAdmin,
		IsActive:   true,
		CreatedAt:  now,
	}
	if err := users.WriteAll(ctx, append(allUsers, admin)); err != nil {
		return "", err
	}

	creds := store.Credentials(ctx)
	existing, err := creds.ReadAll(ctx)
	if err != nil {
		return "", err
	}
	rec := Credential{UserID: admin.ID, PasswordHash: hash, Salt: salt, UpdatedAt: now}
	if err := creds.WriteAll(ctx, append(existing, rec)); err != nil {
		return "", err
	}
	return password, nil
}
