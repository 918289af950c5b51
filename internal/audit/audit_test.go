package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSeverityForPolicy(t *testing.T) {
	cases := []struct {
		action Action
		want   Severity
	}{
		{ActionPermissionDenied, SeverityHigh},
		{ActionUnauthorizedAccess, SeverityHigh},
		{ActionUserDelete, SeverityHigh},
		{ActionRoleChange, SeverityHigh},
		{ActionTenantDelete, SeverityHigh},
		{ActionLoginFailed, SeverityMedium},
		{ActionPasswordChange, SeverityMedium},
		{ActionUserCreate, SeverityMedium},
		{ActionLogin, SeverityLow},
		{ActionLogout, SeverityLow},
	}
	for _, tc := range cases {
		if got := SeverityFor(tc.action); got != tc.want {
			t.Errorf("SeverityFor(%s) = %s, want %s", tc.action, got, tc.want)
		}
	}
}

func TestFilterMatches(t *testing.T) {
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	event := Event{
		ID:        "e-1",
		Timestamp: ts,
		Action:    ActionLoginFailed,
		Resource:  ResourceUser,
		UserID:    "u-1",
		TenantID:  "t-1",
		Severity:  SeverityMedium,
		Success:   false,
	}

	failed := false
	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches everything", Filter{}, true},
		{"action match", Filter{Action: ActionLoginFailed}, true},
		{"action mismatch", Filter{Action: ActionLogin}, false},
		{"user and tenant", Filter{UserID: "u-1", TenantID: "t-1"}, true},
		{"wrong tenant", Filter{UserID: "u-1", TenantID: "t-2"}, false},
		{"severity", Filter{Severity: SeverityMedium}, true},
		{"success pointer", Filter{Success: &failed}, true},
		{"inside window", Filter{From: ts.Add(-time.Hour), To: ts.Add(time.Hour)}, true},
		{"before window", Filter{From: ts.Add(time.Minute)}, false},
		{"after window", Filter{To: ts.Add(-time.Minute)}, false},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(event); got != tc.want {
			t.Errorf("%s: Matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}

type failingSink struct {
	reads int
}

func (s *failingSink) Append(ctx context.Context, event Event) error {
	return errors.New("disk full")
}

func (s *failingSink) ReadFiltered(ctx context.Context, filter Filter) ([]Event, int, error) {
	s.reads++
	return nil, 0, nil
}

func TestRecordSwallowsSinkFailures(t *testing.T) {
	recorder := NewRecorder(&failingSink{})
	// Must not panic or surface the sink error.
	recorder.Record(context.Background(), Event{Action: ActionLogin, Resource: ResourceSession})
}

func TestNilRecorderIsNoop(t *testing.T) {
	var recorder *Recorder
	recorder.Record(context.Background(), Event{Action: ActionLogin})
	events, total, hasMore, err := recorder.Query(context.Background(), Filter{})
	if err != nil || events != nil || total != 0 || hasMore {
		t.Fatalf("nil recorder query = %v %d %v %v", events, total, hasMore, err)
	}
}

func TestQueryClampsPagination(t *testing.T) {
	sink := &failingSink{}
	recorder := NewRecorder(sink)
	if _, _, _, err := recorder.Query(context.Background(), Filter{Limit: -5, Offset: -3}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if sink.reads != 1 {
		t.Fatalf("sink reads = %d", sink.reads)
	}
}
