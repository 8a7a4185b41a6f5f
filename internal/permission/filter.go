// Package permission implements the allow-list enforcement of spec §4.3.
// The filter is a pure function of (config, name); it never mutates
// configuration.
package permission

import (
	"regexp"
	"sync"

	"github.com/mcpbundler/gateway/internal/domain"
	"github.com/mcpbundler/gateway/internal/gwlog"
)

// Kind identifies which of the three allow-lists to consult.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// compileCache memoizes regexp.Compile results across calls so repeated
// Allowed checks against the same pattern set don't recompile every time.
// Keyed by pattern string; a nil *regexp.Regexp records a pattern that
// failed to compile, so it is never retried or matched (spec §4.3).
type compileCache struct {
	mu    sync.Mutex
	warns map[string]bool // (bundleId+mcpId+pattern) already warned once
	cache map[string]*regexp.Regexp
}

func newCompileCache() *compileCache {
	return &compileCache{warns: make(map[string]bool), cache: make(map[string]*regexp.Regexp)}
}

var globalCache = newCompileCache()

func (c *compileCache) compile(pattern string) *regexp.Regexp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.cache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		c.cache[pattern] = nil
		return nil
	}
	c.cache[pattern] = re
	return re
}

func (c *compileCache) warnOnce(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warns[key] {
		return false
	}
	c.warns[key] = true
	return true
}

// Allowed is the shared implementation behind isToolAllowed /
// isResourceAllowed / isPromptAllowed (spec §4.3). patterns == nil means
// "no permissions object" -> allow all (reserved for internal contexts).
// patterns == [] (non-nil, empty) -> deny all.
func Allowed(patterns []string, name string) bool {
	if patterns == nil {
		return true
	}
	if len(patterns) == 0 {
		return false
	}

	for _, p := range patterns {
		if p == "*" {
			return true
		}
	}

	for _, p := range patterns {
		if p == name {
			return true
		}
	}

	for _, p := range patterns {
		re := globalCache.compile(p)
		if re == nil {
			continue
		}
		if re.MatchString(name) {
			return true
		}
	}

	return false
}

// WarnUncompilable logs, once per (scope, pattern), that a pattern never
// compiled and therefore never matches (spec §9 open question #4). Callers
// that have a stable scope key (bundleId+mcpId) should call this
// out-of-band before/after Allowed; it never changes the match result.
func WarnUncompilable(scope string, patterns []string) {
	for _, p := range patterns {
		if p == "*" {
			continue
		}
		if globalCache.compile(p) != nil {
			continue
		}
		if _, err := regexp.Compile(p); err == nil {
			continue
		}
		key := scope + "\x00" + p
		if globalCache.warnOnce(key) {
			gwlog.Warn("permission pattern failed to compile; it will never match", map[string]any{
				"scope":   scope,
				"pattern": p,
			})
		}
	}
}

// IsToolAllowed implements spec §4.3 for tools. perms == nil means "missing
// permissions object" (allow all).
func IsToolAllowed(perms *domain.Permissions, name string) bool {
	if perms == nil {
		return true
	}
	return Allowed(perms.Tools, name)
}

// IsResourceAllowed implements spec §4.3 for resources/resource templates.
func IsResourceAllowed(perms *domain.Permissions, uri string) bool {
	if perms == nil {
		return true
	}
	return Allowed(perms.Resources, uri)
}

// IsPromptAllowed implements spec §4.3 for prompts.
func IsPromptAllowed(perms *domain.Permissions, name string) bool {
	if perms == nil {
		return true
	}
	return Allowed(perms.Prompts, name)
}

// Of returns the pattern list for kind, used by callers that already hold
// a Kind value (e.g. generic aggregation code).
func Of(perms domain.Permissions, kind Kind) []string {
	switch kind {
	case KindTool:
		return perms.Tools
	case KindResource:
		return perms.Resources
	case KindPrompt:
		return perms.Prompts
	default:
		return nil
	}
}
