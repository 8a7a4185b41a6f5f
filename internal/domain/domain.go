// Package domain holds the core data model of spec §3: the aggregates the
// repository ports persist and the runtime-only Session aggregate. Sum
// types (AuthConfig) are modeled as a tagged variant, not a class
// hierarchy, per spec §9.
package domain

import (
	"regexp"
	"strings"
	"time"
)

// NamespacePattern is the character grammar for Mcp.Namespace, spec §3.
// Go's regexp has no lookahead, so the "no __" rule is checked separately
// in ValidNamespace.
var NamespacePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidNamespace reports whether n satisfies the namespace grammar, contains
// no "__", and is within the length bound (1-64 chars).
func ValidNamespace(n string) bool {
	return len(n) >= 1 && len(n) <= 64 && !strings.Contains(n, "__") && NamespacePattern.MatchString(n)
}

// AuthStrategy is the auth-strategy tag on an Mcp, spec §3.
type AuthStrategy string

const (
	AuthStrategyNone    AuthStrategy = "NONE"
	AuthStrategyMaster  AuthStrategy = "MASTER"
	AuthStrategyUserSet AuthStrategy = "USER_SET"
)

// AuthMethod is the discriminant of AuthConfig.
type AuthMethod string

const (
	AuthMethodNone   AuthMethod = "none"
	AuthMethodBearer AuthMethod = "bearer"
	AuthMethodBasic  AuthMethod = "basic"
	AuthMethodAPIKey AuthMethod = "api_key"
)

// AuthConfig is a tagged union over the four auth shapes of spec §3. Only
// the fields relevant to Method are populated; it is never a class
// hierarchy (spec §9).
type AuthConfig struct {
	Method AuthMethod `json:"method"`

	// bearer
	Token string `json:"token,omitempty"`

	// basic
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// api_key
	Key    string `json:"key,omitempty"`
	Header string `json:"header,omitempty"` // default "X-API-Key"
}

// NoneAuth is the zero-value NONE auth config.
func NoneAuth() AuthConfig { return AuthConfig{Method: AuthMethodNone} }

// Normalize fills in default fields (api_key header) after deserialization.
func (a AuthConfig) Normalize() AuthConfig {
	if a.Method == AuthMethodAPIKey && a.Header == "" {
		a.Header = "X-API-Key"
	}
	return a
}

// Permissions is the three-allow-list shape of spec §3/§4.3.
type Permissions struct {
	Tools     []string `json:"tools"`
	Resources []string `json:"resources"`
	Prompts   []string `json:"prompts"`
}

// Bundle is the aggregate of spec §3.
type Bundle struct {
	ID          string
	Name        string
	Description string
	CreatedByID string
	CreatedAt   time.Time
}

// BundleEntry is the many-to-many join between a Bundle and an Mcp,
// spec §3. Allow-lists are stored as JSON strings at rest; callers get
// them already parsed into Permissions.
type BundleEntry struct {
	ID          string
	BundleID    string
	McpID       string
	Permissions Permissions
}

// Creator satisfies repository.AuthoredRecord.
func (b Bundle) Creator() string { return b.CreatedByID }

// Mcp is the globally-named upstream definition of spec §3.
type Mcp struct {
	ID            string
	Namespace     string
	URL           string
	Version       string
	Stateless     bool
	AuthStrategy  AuthStrategy
	EncryptedAuth string // only set when AuthStrategy == MASTER
	CreatedByID   string
	CreatedAt     time.Time
}

// Creator satisfies repository.AuthoredRecord.
func (m Mcp) Creator() string { return m.CreatedByID }

// Token is the opaque bearer credential of spec §3.
type Token struct {
	ID        string
	Hash      string
	BundleID  string
	ExpiresAt *time.Time
	Revoked   bool
}

// Valid reports spec §3's validity invariant as of now.
func (t Token) Valid(now time.Time) bool {
	if t.Revoked {
		return false
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
		return false
	}
	return true
}

// BundleCredential is the per-(token, mcp) auth override of spec §3.
type BundleCredential struct {
	ID            string
	TokenID       string
	McpID         string
	EncryptedAuth string
}

// User is the creator-chain principal referenced by CreatedByID fields.
type User struct {
	ID          string
	Name        string
	CreatedByID string // empty for root users
}

// ResolvedUpstream is one entry of a resolved bundle descriptor, spec §4.7.
type ResolvedUpstream struct {
	Namespace   string
	URL         string
	Stateless   bool
	Permissions Permissions
	Auth        AuthConfig
}

// BundleDescriptor is the bundle resolver's output, spec §4.7.
type BundleDescriptor struct {
	BundleID  string
	Name      string
	Upstreams []ResolvedUpstream
	// SkippedMcps lists namespaces whose USER_SET credential was missing
	// (SPEC_FULL §14.3) — informational, never required reading.
	SkippedMcps []string
}
