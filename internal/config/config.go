// Package config collects the environment surface of the service in
// one place. Every knob has a default so a bare `studyhub-api` starts
// in development mode; only the signing secret warns when defaulted.
package config

import (
	"fmt"
	"os"
	"strings"

	"studyhub.org/internal/obs"
	"studyhub.org/internal/token"
)

// Environment variables read by Load.
const (
	EnvAuthSecret  = "STUDYHUB_AUTH_SECRET"
	EnvSessionTTL  = "STUDYHUB_SESSION_TTL"
	EnvRememberTTL = "STUDYHUB_REMEMBER_TTL"
	EnvDataDir     = "STUDYHUB_DATA_DIR"
	EnvPGDSN       = "STUDYHUB_PG_DSN"
	EnvAddr        = "STUDYHUB_ADDR"
	EnvAuditDays   = "STUDYHUB_AUDIT_RETENTION_DAYS"
)

// DevSecret signs tokens when no secret is configured. Fine for local
// development, worthless in production; Load logs a warning whenever
// it is used.
const DevSecret = "studyhub-dev-secret-do-not-deploy"

const (
	defaultSessionTTL  = "7 days"
	defaultRememberTTL = "30 days"
	defaultDataDir     = "data"
	defaultAddr        = ":8080"
	defaultAuditDays   = 90
)

// Config is the resolved runtime configuration.
type Config struct {
	AuthSecret  string
	SessionTTL  string
	RememberTTL string
	DataDir     string
	PGDSN       string
	Addr        string
	AuditDays   int
}

// Load resolves configuration from the environment, applying defaults
// and validating the TTL forms up front so a typo fails at startup
// rather than at first login.
func Load() (Config, error) {
	cfg := Config{
		AuthSecret:  strings.TrimSpace(os.Getenv(EnvAuthSecret)),
		SessionTTL:  strings.TrimSpace(os.Getenv(EnvSessionTTL)),
		RememberTTL: strings.TrimSpace(os.Getenv(EnvRememberTTL)),
		DataDir:     strings.TrimSpace(os.Getenv(EnvDataDir)),
		PGDSN:       strings.TrimSpace(os.Getenv(EnvPGDSN)),
		Addr:        strings.TrimSpace(os.Getenv(EnvAddr)),
		AuditDays:   defaultAuditDays,
	}
	if cfg.AuthSecret == "" {
		cfg.AuthSecret = DevSecret
		obs.LogRequest(map[string]any{
			"level": "warn",
			"msg":   "no " + EnvAuthSecret + " set, signing tokens with the development secret",
		})
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.RememberTTL == "" {
		cfg.RememberTTL = defaultRememberTTL
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if raw := strings.TrimSpace(os.Getenv(EnvAuditDays)); raw != "" {
		var days int
		if _, err := fmt.Sscanf(raw, "%d", &days); err != nil || days < 1 {
			return Config{}, fmt.Errorf("config: %s must be a positive integer, got %q", EnvAuditDays, raw)
		}
		cfg.AuditDays = days
	}

	if _, err := token.ParseTTL(cfg.SessionTTL); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", EnvSessionTTL, err)
	}
	if _, err := token.ParseTTL(cfg.RememberTTL); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", EnvRememberTTL, err)
	}
	return cfg, nil
}
