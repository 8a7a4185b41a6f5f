// Package namespace implements the collision-free, reversible renaming of
// upstream capabilities described in spec §4.2.
package namespace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/mcpbundler/gateway/internal/gwlog"
)

// Separator joins a namespace and a capability name in the non-hashed
// case.
const Separator = "__"

// NamespaceQueryParam is the query parameter a namespaced resource URI
// carries.
const NamespaceQueryParam = "namespace"

// defaultThreshold is the default name-length threshold, spec §4.2.
const defaultThreshold = 64

// hashPrefixLen is the number of hex characters kept from the SHA-256
// digest, spec §4.2 ("first 12 hex characters").
const hashPrefixLen = 12

// HashMode controls when tool/prompt names are replaced by their hash,
// spec §4.2.
type HashMode string

const (
	HashModeNever     HashMode = "NEVER"
	HashModeThreshold HashMode = "THRESHOLD"
	HashModeAlways    HashMode = "ALWAYS"
)

// HashRecord is what the side table stores for a hashed name, spec §4.2.
type HashRecord struct {
	Namespace    string
	OriginalName string
}

// NamedCapabilityMeta is attached to a renamed tool/prompt's metadata when
// hashing occurred, spec §4.2.
type NamedCapabilityMeta struct {
	OriginalName string `json:"originalName"`
	Namespace    string `json:"namespace"`
	Algorithm    string `json:"algorithm"`
}

// Resolver renames capabilities and provides the reverse mapping. Safe for
// concurrent use; the hash side table is process-wide per spec §5.
type Resolver struct {
	mu        sync.RWMutex
	mode      HashMode
	threshold int
	hashed    map[string]HashRecord // hashed name -> original (namespace, name)
}

// New constructs a Resolver with the given mode and threshold. A
// threshold of 0 uses the spec default of 64.
func New(mode HashMode, threshold int) *Resolver {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Resolver{mode: mode, threshold: threshold, hashed: make(map[string]HashRecord)}
}

// SetMode changes the hash mode. Per spec §4.2 ("Changing the mode clears
// the side table"), this discards all recorded hash mappings.
func (r *Resolver) SetMode(mode HashMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	r.hashed = make(map[string]HashRecord)
}

// NamedResult is the outcome of namespacing a tool or prompt name.
type NamedResult struct {
	Name   string
	Hashed bool
	Meta   *NamedCapabilityMeta
}

// NamespaceName renames a tool/prompt name under namespace n, spec §4.2.
func (r *Resolver) NamespaceName(n, originalName string) NamedResult {
	joined := n + Separator + originalName

	r.mu.RLock()
	mode := r.mode
	threshold := r.threshold
	r.mu.RUnlock()

	if mode == HashModeNever || (mode == HashModeThreshold && len(joined) <= threshold) {
		return NamedResult{Name: joined}
	}

	sum := sha256.Sum256([]byte(joined))
	hashed := hex.EncodeToString(sum[:])[:hashPrefixLen]

	r.mu.Lock()
	if existing, ok := r.hashed[hashed]; ok && (existing.Namespace != n || existing.OriginalName != originalName) {
		gwlog.Warn("namespace hash collision", map[string]any{
			"hash":     hashed,
			"existing": existing.Namespace + Separator + existing.OriginalName,
			"incoming": joined,
		})
	}
	r.hashed[hashed] = HashRecord{Namespace: n, OriginalName: originalName}
	r.mu.Unlock()

	return NamedResult{
		Name:   hashed,
		Hashed: true,
		Meta: &NamedCapabilityMeta{
			OriginalName: originalName,
			Namespace:    n,
			Algorithm:    "sha256-12",
		},
	}
}

// ExtractFromName reverses NamespaceName, spec §4.2.
func (r *Resolver) ExtractFromName(s string) (namespace, address string, err error) {
	r.mu.RLock()
	rec, ok := r.hashed[s]
	r.mu.RUnlock()
	if ok {
		return rec.Namespace, rec.OriginalName, nil
	}

	idx := strings.Index(s, Separator)
	if idx < 0 {
		return "", "", fmt.Errorf("no namespace separator in %q", s)
	}
	return s[:idx], s[idx+len(Separator):], nil
}

// NamespaceURI appends ?namespace=n to a resource/resource-template URI,
// preserving existing query params, spec §4.2. If uri fails to parse, the
// fallback raw-concatenation form is used.
func NamespaceURI(n, uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri + "?" + NamespaceQueryParam + "=" + n
	}
	q := u.Query()
	q.Set(NamespaceQueryParam, n)
	u.RawQuery = q.Encode()
	return u.String()
}

// ExtractFromURI reverses NamespaceURI, spec §4.2.
func ExtractFromURI(u string) (namespace string, bareURI string) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", u
	}
	q := parsed.Query()
	namespace = q.Get(NamespaceQueryParam)
	q.Del(NamespaceQueryParam)
	parsed.RawQuery = q.Encode()
	return namespace, parsed.String()
}
