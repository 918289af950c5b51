package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testClaims() SessionClaims {
	return SessionClaims{
		UserID:    "user-1",
		Email:     "a@x.com",
		Role:      "student",
		TenantID:  "default",
		SessionID: "sess-abc",
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	codec, err := NewCodec("unit-test-secret")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	raw, expiresAt, err := codec.Issue(testClaims(), "7 days")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 6*24*time.Hour {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	claims, err := codec.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@x.com" || claims.Role != "student" {
		t.Fatalf("identity claims not preserved: %+v", claims)
	}
	if claims.TenantID != "default" || claims.SessionID != "sess-abc" {
		t.Fatalf("tenant/session claims not preserved: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("expected a jti")
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	codec, _ := NewCodec("unit-test-secret")
	raw, _, err := codec.Issue(testClaims(), "1h")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := codec.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := codec.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
	if _, err := codec.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty, got %v", err)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a, _ := NewCodec("secret-a")
	b, _ := NewCodec("secret-b")
	raw, _, err := a.Issue(testClaims(), "1h")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	current := time.Now().UTC()
	clock := func() time.Time { return current }
	codec, err := NewCodec("unit-test-secret", WithClock(clock))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	raw, _, err := codec.Issue(testClaims(), "30m")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := codec.Verify(raw); err != nil {
		t.Fatalf("token should be valid before expiry: %v", err)
	}

	current = current.Add(31 * time.Minute)
	claims, err := codec.Verify(raw)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if claims == nil || claims.SessionID != "sess-abc" {
		t.Fatalf("expired verification should still surface claims, got %+v", claims)
	}
}

func TestIssueRequiresIdentity(t *testing.T) {
	codec, _ := NewCodec("unit-test-secret")
	claims := testClaims()
	claims.SessionID = ""
	if _, _, err := codec.Issue(claims, "1h"); err == nil {
		t.Fatalf("expected error for missing session id")
	}
}

func TestParseTTL(t *testing.T) {
	cases := map[string]time.Duration{
		"7 days":  7 * 24 * time.Hour,
		"30 days": 30 * 24 * time.Hour,
		"1 day":   24 * time.Hour,
		"7d":      7 * 24 * time.Hour,
		"90m":     90 * time.Minute,
		"168h":    168 * time.Hour,
	}
	for input, want := range cases {
		got, err := ParseTTL(input)
		if err != nil {
			t.Fatalf("ParseTTL(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseTTL(%q)=%v, want %v", input, got, want)
		}
	}
	for _, bad := range []string{"", "0d", "-1h", "soon", "3 weeks"} {
		if _, err := ParseTTL(bad); err == nil {
			t.Fatalf("ParseTTL(%q): expected error", bad)
		}
	}
}
