// Package config loads server configuration the way the teacher loads
// catalog YAML (gopkg.in/yaml.v3) layered with environment overrides and
// validated with go-playground/validator/v10 struct tags, grounded on
// pkg/catalog/types.go's Server struct.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Security holds the credential-store and resolver settings of spec §4.1,
// §4.2, §6.
type Security struct {
	// EncryptionKey seeds the AES-256-GCM key (spec §4.1). Required,
	// minimum 32 characters; overridden by ENCRYPTION_KEY.
	EncryptionKey string `yaml:"encryptionKey" validate:"required,min=32"`

	// WildcardAllow enables the wildcard-token bypass of spec §4.7 step 1;
	// overridden by RESOLVER_WILDCARD_ALLOW.
	WildcardAllow bool `yaml:"wildcardAllow"`

	// WildcardToken is the literal token that triggers the bypass; required
	// iff WildcardAllow; overridden by RESOLVER_WILDCARD_TOKEN.
	WildcardToken string `yaml:"wildcardToken" validate:"required_if=WildcardAllow true"`

	// FailClosedOnDecryptError is SPEC_FULL §14 open-question #1: when
	// true, a MASTER MCP's decrypt failure aborts resolution instead of
	// falling back to {method: none}.
	FailClosedOnDecryptError bool `yaml:"failClosedOnDecryptError"`

	// AdminTokenPrefix distinguishes management-API tokens from bundle
	// tokens, spec §6 ("distinct prefix").
	AdminTokenPrefix string `yaml:"adminTokenPrefix"`

	// AdminToken is the static management-API secret, compared
	// constant-time against the bearer token on every admin request;
	// overridden by ADMIN_TOKEN. Empty disables the secret check and
	// leaves format validation as the only gate, which is not suitable
	// for a production deployment.
	AdminToken string `yaml:"adminToken"`
}

// Session holds the idle-monitor settings of spec §4.8.
type Session struct {
	// IdleCheckInterval is how often the idle monitor compares
	// now-lastActivity to IdleThreshold. Default 1s.
	IdleCheckInterval time.Duration `yaml:"idleCheckInterval" validate:"required"`
	// IdleThreshold is the idle duration after which a session is closed.
	// Default 20m.
	IdleThreshold time.Duration `yaml:"idleThreshold" validate:"required"`
	// MaxConcurrent caps concurrently open sessions (spec §6: "Concurrent-
	// session limit -> 503"). 0 means unlimited.
	MaxConcurrent int `yaml:"maxConcurrent" validate:"gte=0"`
}

// Namespace holds the namespace-resolver settings of spec §4.2.
type Namespace struct {
	HashMode  string `yaml:"hashMode" validate:"omitempty,oneof=NEVER THRESHOLD ALWAYS"`
	Threshold int    `yaml:"threshold" validate:"gte=0"`
}

// Database holds the sqlite DSN settings consumed by internal/db.
type Database struct {
	Path string `yaml:"path" validate:"required"`
}

// Config is the top-level server configuration, spec §6.
type Config struct {
	Listen    string    `yaml:"listen" validate:"required"`
	Database  Database  `yaml:"database"`
	Security  Security  `yaml:"security"`
	Session   Session   `yaml:"session"`
	Namespace Namespace `yaml:"namespace"`
}

// Default returns the zero-configuration defaults, overridden by YAML and
// environment.
func Default() Config {
	return Config{
		Listen:   ":8080",
		Database: Database{Path: "mcpbundler.db"},
		Security: Security{
			AdminTokenPrefix: "mcpba_",
		},
		Session: Session{
			IdleCheckInterval: time.Second,
			IdleThreshold:     20 * time.Minute,
		},
		Namespace: Namespace{
			HashMode:  "THRESHOLD",
			Threshold: 64,
		},
	}
}

// Load reads path (if non-empty and present), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides implements spec §6's three environment variables plus
// ADMIN_TOKEN. A variable that is set overrides the file value even when
// it is empty.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("ENCRYPTION_KEY"); ok {
		cfg.Security.EncryptionKey = v
	}
	if v, ok := os.LookupEnv("RESOLVER_WILDCARD_ALLOW"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Security.WildcardAllow = b
		}
	}
	if v, ok := os.LookupEnv("RESOLVER_WILDCARD_TOKEN"); ok {
		cfg.Security.WildcardToken = v
	}
	if v, ok := os.LookupEnv("ADMIN_TOKEN"); ok {
		cfg.Security.AdminToken = v
	}
}
