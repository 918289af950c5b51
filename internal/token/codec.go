// Package token signs and verifies the compact session tokens handed
// to the HTTP boundary. Claims are self-contained: verification never
// consults session state, so a token survives a process restart and
// still expires on time.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "studyhub"

var (
	// ErrInvalidToken indicates a malformed token, a bad signature or
	// missing required claims.
	ErrInvalidToken = errors.New("token: invalid token")
	// ErrExpired indicates a well-signed token whose expiry claim has
	// passed.
	ErrExpired = errors.New("token: expired")
)

// SessionClaims is the structured payload embedded in every session
// token. All identity fields are required; tokens missing any of them
// fail verification as invalid.
type SessionClaims struct {
	UserID    string `json:"uid"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	Remember  bool   `json:"remember,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session tokens with a single HS256 secret.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures Codec behavior.
type Option func(*Codec)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a codec. The secret must be non-empty; the
// caller decides what counts as sufficiently high-entropy.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: signing secret is required")
	}
	c := &Codec{
		secret: []byte(secret),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs the claims with the given TTL and returns the compact
// token along with its expiry.
func (c *Codec) Issue(claims SessionClaims, ttl string) (string, time.Time, error) {
	d, err := ParseTTL(ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := requireIdentity(&claims); err != nil {
		return "", time.Time{}, err
	}

	now := c.now().UTC()
	expiresAt := now.Add(d)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify validates signature, issuer and expiry and returns the
// embedded claims. Expiry is judged from the claims alone.
func (c *Codec) Verify(raw string) (*SessionClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(raw, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithIssuer(c.issuer))
	if err != nil {
		// Expiry is only reported once the signature checked out, so
		// it is safe to surface it distinctly. The claims are still
		// returned with ErrExpired so the caller can retire any
		// session bookkeeping tied to them.
		if errors.Is(err, jwt.ErrTokenExpired) && parsed != nil {
			if claims, ok := parsed.Claims.(*SessionClaims); ok && requireIdentity(claims) == nil {
				return claims, ErrExpired
			}
			return nil, ErrExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := requireIdentity(claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func requireIdentity(claims *SessionClaims) error {
	switch {
	case strings.TrimSpace(claims.UserID) == "":
		return fmt.Errorf("%w: user id missing", ErrInvalidToken)
	case strings.TrimSpace(claims.Email) == "":
		return fmt.Errorf("%w: email missing", ErrInvalidToken)
	case strings.TrimSpace(claims.Role) == "":
		return fmt.Errorf("%w: role missing", ErrInvalidToken)
	case strings.TrimSpace(claims.TenantID) == "":
		return fmt.Errorf("%w: tenant id missing", ErrInvalidToken)
	case strings.TrimSpace(claims.SessionID) == "":
		return fmt.Errorf("%w: session id missing", ErrInvalidToken)
	}
	return nil
}

// ParseTTL accepts Go duration syntax plus day-denominated forms such
// as "7d", "7 days" or "1 day".
func ParseTTL(ttl string) (time.Duration, error) {
	ttl = strings.TrimSpace(strings.ToLower(ttl))
	if ttl == "" {
		return 0, errors.New("token: ttl is required")
	}

	days := ""
	switch {
	case strings.HasSuffix(ttl, " days"):
		days = strings.TrimSpace(strings.TrimSuffix(ttl, " days"))
	case strings.HasSuffix(ttl, " day"):
		days = strings.TrimSpace(strings.TrimSuffix(ttl, " day"))
	case strings.HasSuffix(ttl, "d"):
		days = strings.TrimSuffix(ttl, "d")
	}
	if days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("token: invalid ttl %q", ttl)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(ttl)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("token: invalid ttl %q", ttl)
	}
	return d, nil
}
