// Package filestore persists collections as JSON documents on local
// disk. Directories use full-collection read-modify-write, so every
// collection is serialized by its own mutex; audit events append to
// daily partition files, each guarded by a per-partition lock so
// concurrent appends to the same day cannot lose writes.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"studyhub.org/internal/audit"
	"studyhub.org/internal/directory"
)

const (
	tenantsFile     = "tenants.json"
	usersFile       = "users.json"
	credentialsFile = "credentials.json"
	auditDir        = "audit"
	partitionLayout = "2006-01-02"
)

// Store is a file-backed persistent store for tenants, users,
// credentials and audit events.
type Store struct {
	dir string

	tenantsMu sync.Mutex
	usersMu   sync.Mutex
	credsMu   sync.Mutex

	partMu     sync.Mutex
	partitions map[string]*sync.Mutex
}

var (
	_ directory.Store = (*Store)(nil)
	_ audit.Sink      = (*Store)(nil)
	_ audit.Purger    = (*Store)(nil)
)

// New opens (creating if needed) a store rooted at dir.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("filestore: data directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, auditDir), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create data directory: %w", err)
	}
	return &Store{dir: dir, partitions: make(map[string]*sync.Mutex)}, nil
}

// Tenants returns the tenant collection.
func (s *Store) Tenants(context.Context) directory.TenantCollection { return tenantsColl{s} }

// Users returns the user collection.
func (s *Store) Users(context.Context) directory.UserCollection { return usersColl{s} }

// Credentials returns the credential collection.
func (s *Store) Credentials(context.Context) directory.CredentialCollection {
	return credsColl{s}
}

type tenantsColl struct{ s *Store }

func (c tenantsColl) ReadAll(ctx context.Context) ([]directory.Tenant, error) {
	c.s.tenantsMu.Lock()
	defer c.s.tenantsMu.Unlock()
	var out []directory.Tenant
	if err := c.s.readJSON(ctx, tenantsFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c tenantsColl) WriteAll(ctx context.Context, tenants []directory.Tenant) error {
	c.s.tenantsMu.Lock()
	defer c.s.tenantsMu.Unlock()
	return c.s.writeJSON(ctx, tenantsFile, tenants)
}

type usersColl struct{ s *Store }

func (c usersColl) ReadAll(ctx context.Context) ([]directory.User, error) {
	c.s.usersMu.Lock()
	defer c.s.usersMu.Unlock()
	var out []directory.User
	if err := c.s.readJSON(ctx, usersFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c usersColl) WriteAll(ctx context.Context, users []directory.User) error {
	c.s.usersMu.Lock()
	defer c.s.usersMu.Unlock()
	return c.s.writeJSON(ctx, usersFile, users)
}

type credsColl struct{ s *Store }

func (c credsColl) ReadAll(ctx context.Context) ([]directory.Credential, error) {
	c.s.credsMu.Lock()
	defer c.s.credsMu.Unlock()
	var out []directory.Credential
	if err := c.s.readJSON(ctx, credentialsFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c credsColl) WriteAll(ctx context.Context, creds []directory.Credential) error {
	c.s.credsMu.Lock()
	defer c.s.credsMu.Unlock()
	return c.s.writeJSON(ctx, credentialsFile, creds)
}

func (s *Store) readJSON(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", directory.ErrStoreUnavailable, name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		// A corrupt collection must never read back as an empty one.
		return fmt.Errorf("%w: decode %s: %v", directory.ErrStoreUnavailable, name, err)
	}
	return nil
}

func (s *Store) writeJSON(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("filestore: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("filestore: replace %s: %w", name, err)
	}
	return nil
}

// --- audit sink -----------------------------------------------------

func (s *Store) partitionLock(name string) *sync.Mutex {
	s.partMu.Lock()
	defer s.partMu.Unlock()
	mu, ok := s.partitions[name]
	if !ok {
		mu = &sync.Mutex{}
		s.partitions[name] = mu
	}
	return mu
}

func (s *Store) partitionPath(name string) string {
	return filepath.Join(s.dir, auditDir, "events-"+name+".json")
}

// Append adds one event to its daily partition.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	name := event.Timestamp.UTC().Format(partitionLayout)
	mu := s.partitionLock(name)
	mu.Lock()
	defer mu.Unlock()

	var events []audit.Event
	if err := s.readPartition(name, &events); err != nil {
		return err
	}
	events = append(events, event)
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("filestore: encode audit partition %s: %w", name, err)
	}
	path := s.partitionPath(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("filestore: write audit partition %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) readPartition(name string, events *[]audit.Event) error {
	data, err := os.ReadFile(s.partitionPath(name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("filestore: read audit partition %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, events); err != nil {
		return fmt.Errorf("filestore: decode audit partition %s: %w", name, err)
	}
	return nil
}

func (s *Store) partitionNames() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, auditDir))
	if err != nil {
		return nil, fmt.Errorf("filestore: list audit partitions: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if strings.HasPrefix(n, "events-") && strings.HasSuffix(n, ".json") {
			names = append(names, strings.TrimSuffix(strings.TrimPrefix(n, "events-"), ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadFiltered returns one page of matching events, newest first, and
// the total match count.
func (s *Store) ReadFiltered(ctx context.Context, filter audit.Filter) ([]audit.Event, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	names, err := s.partitionNames()
	if err != nil {
		return nil, 0, err
	}

	var matched []audit.Event
	for _, name := range names {
		mu := s.partitionLock(name)
		mu.Lock()
		var events []audit.Event
		err := s.readPartition(name, &events)
		mu.Unlock()
		if err != nil {
			return nil, 0, err
		}
		for _, e := range events {
			if filter.Matches(e) {
				matched = append(matched, e)
			}
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

// Purge removes whole partitions strictly older than the cutoff day
// and reports how many events were discarded.
func (s *Store) Purge(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	names, err := s.partitionNames()
	if err != nil {
		return 0, err
	}
	cutoff := before.UTC().Format(partitionLayout)
	removed := 0
	for _, name := range names {
		if name >= cutoff {
			continue
		}
		mu := s.partitionLock(name)
		mu.Lock()
		var events []audit.Event
		if err := s.readPartition(name, &events); err == nil {
			removed += len(events)
		}
		err := os.Remove(s.partitionPath(name))
		mu.Unlock()
		if err != nil && !os.IsNotExist(err) {
			return removed, err
		}
	}
	return removed, nil
}
