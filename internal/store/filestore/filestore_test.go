package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"studyhub.org/internal/audit"
	"studyhub.org/internal/directory"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCollectionsRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tenants := s.Tenants(ctx)
	got, err := tenants.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll on empty store: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty collection, got %d", len(got))
	}

	in := []directory.Tenant{{ID: "default", Name: "default", DisplayName: "Default", IsActive: true}}
	if err := tenants.WriteAll(ctx, in); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	got, err = tenants.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 || got[0].ID != "default" || !got[0].IsActive {
		t.Fatalf("unexpected read-back: %+v", got)
	}

	users := s.Users(ctx)
	if err := users.WriteAll(ctx, []directory.User{{ID: "u1", Email: "a@x.com", Role: directory.RoleStudent, TenantID: "default"}}); err != nil {
		t.Fatalf("WriteAll users: %v", err)
	}
	creds := s.Credentials(ctx)
	if err := creds.WriteAll(ctx, []directory.Credential{{UserID: "u1", PasswordHash: "h", Salt: "s"}}); err != nil {
		t.Fatalf("WriteAll credentials: %v", err)
	}
	cs, err := creds.ReadAll(ctx)
	if err != nil || len(cs) != 1 || cs[0].UserID != "u1" {
		t.Fatalf("credentials read-back: %v %+v", err, cs)
	}
}

func TestCorruptCollectionSurfacesStoreUnavailable(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	_, err = s.Users(context.Background()).ReadAll(context.Background())
	if !errors.Is(err, directory.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestAuditAppendAndFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ev := audit.Event{
			ID:        string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Action:    audit.ActionLoginFailed,
			Resource:  audit.ResourceUser,
			UserID:    "u1",
			Severity:  audit.SeverityMedium,
		}
		if i%2 == 0 {
			ev.Action = audit.ActionLogin
			ev.Success = true
			ev.Severity = audit.SeverityLow
		}
		if err := s.Append(ctx, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, total, err := s.ReadFiltered(ctx, audit.Filter{Action: audit.ActionLoginFailed})
	if err != nil {
		t.Fatalf("ReadFiltered: %v", err)
	}
	if total != 2 || len(events) != 2 {
		t.Fatalf("expected 2 login_failed events, got total=%d len=%d", total, len(events))
	}
	if !events[0].Timestamp.After(events[1].Timestamp) {
		t.Fatalf("expected newest-first ordering")
	}

	events, total, err = s.ReadFiltered(ctx, audit.Filter{UserID: "u1", Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ReadFiltered paged: %v", err)
	}
	if total != 5 || len(events) != 2 {
		t.Fatalf("expected page of 2 from 5, got total=%d len=%d", total, len(events))
	}
}

func TestAuditPartitionsByDay(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 1, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 2, 0, 1, 0, 0, time.UTC)
	for _, ts := range []time.Time{day1, day2} {
		if err := s.Append(ctx, audit.Event{ID: ts.String(), Timestamp: ts, Action: audit.ActionLogin, Resource: audit.ResourceSession, Success: true}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	names, err := s.partitionNames()
	if err != nil {
		t.Fatalf("partitionNames: %v", err)
	}
	if len(names) != 2 || names[0] != "2026-08-01" || names[1] != "2026-08-02" {
		t.Fatalf("unexpected partitions: %v", names)
	}

	removed, err := s.Purge(ctx, time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged event, got %d", removed)
	}
	_, total, err := s.ReadFiltered(ctx, audit.Filter{})
	if err != nil || total != 1 {
		t.Fatalf("expected 1 remaining event, got total=%d err=%v", total, err)
	}
}
