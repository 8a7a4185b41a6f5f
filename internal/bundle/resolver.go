// Package bundle implements the bundle resolver of spec §4.7: token in,
// resolved upstream configs out.
package bundle

import (
	"context"
	"fmt"
	"time"

	"github.com/mcpbundler/gateway/internal/apierr"
	"github.com/mcpbundler/gateway/internal/crypto"
	"github.com/mcpbundler/gateway/internal/domain"
	"github.com/mcpbundler/gateway/internal/gwlog"
	"github.com/mcpbundler/gateway/internal/repository"
)

// Settings carries the config-driven knobs the resolver needs, spec
// §4.7/§6 and SPEC_FULL §14.1.
type Settings struct {
	WildcardAllow            bool
	WildcardToken            string
	FailClosedOnDecryptError bool
}

// Resolver implements spec §4.7 against the repository ports.
type Resolver struct {
	repos    repository.Repositories
	creds    *crypto.Store
	settings Settings
}

// New constructs a Resolver. creds is only consulted when
// Settings.FailClosedOnDecryptError is true, to surface a strict
// apierr.DecryptErr instead of the repository layer's default {method:
// none} substitution (SPEC_FULL §14.1).
func New(repos repository.Repositories, creds *crypto.Store, settings Settings) *Resolver {
	return &Resolver{repos: repos, creds: creds, settings: settings}
}

// allPermissions is the {*, *, *} allow-all shape spec §4.7 step 1 grants
// the wildcard token.
func allPermissions() domain.Permissions {
	return domain.Permissions{Tools: []string{"*"}, Resources: []string{"*"}, Prompts: []string{"*"}}
}

// Resolve implements the five-step algorithm of spec §4.7.
func (r *Resolver) Resolve(ctx context.Context, token string) (*domain.BundleDescriptor, error) {
	if r.settings.WildcardAllow && token == r.settings.WildcardToken && token != "" {
		return r.resolveWildcard(ctx)
	}
	return r.resolveByToken(ctx, token)
}

func (r *Resolver) resolveWildcard(ctx context.Context) (*domain.BundleDescriptor, error) {
	gwlog.Warn("wildcard token used; bypassing per-bundle scoping", nil)

	mcps, err := r.repos.Mcps.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("bundle: list all mcps: %w", err)
	}

	perms := allPermissions()
	upstreams := make([]domain.ResolvedUpstream, 0, len(mcps))
	for _, m := range mcps {
		if m.AuthStrategy == domain.AuthStrategyUserSet {
			continue
		}
		auth := domain.NoneAuth()
		if m.AuthStrategy == domain.AuthStrategyMaster {
			if m.EncryptedAuth == "" {
				continue
			}
			auth = r.repos.Mcps.DecryptedAuth(ctx, m)
		}
		upstreams = append(upstreams, domain.ResolvedUpstream{
			Namespace:   m.Namespace,
			URL:         m.URL,
			Stateless:   m.Stateless,
			Permissions: perms,
			Auth:        auth,
		})
	}

	return &domain.BundleDescriptor{BundleID: "", Name: "all", Upstreams: upstreams}, nil
}

func (r *Resolver) resolveByToken(ctx context.Context, token string) (*domain.BundleDescriptor, error) {
	if !crypto.ValidTokenFormat(token, crypto.TokenPrefix) {
		return nil, apierr.UnauthorizedToken("malformed token")
	}

	hash := crypto.HashToken(token)
	t, err := r.repos.Tokens.FindByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("bundle: find token: %w", err)
	}
	if t == nil || !t.Valid(time.Now()) {
		return nil, apierr.UnauthorizedToken("unknown, revoked, or expired token")
	}

	b, err := r.repos.Bundles.FindByID(ctx, t.BundleID)
	if err != nil {
		return nil, fmt.Errorf("bundle: find bundle: %w", err)
	}
	if b == nil {
		return nil, apierr.NotFound("bundle not found")
	}

	entries, err := r.repos.BundleEntries.ListByBundle(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("bundle: list entries: %w", err)
	}

	upstreams := make([]domain.ResolvedUpstream, 0, len(entries))
	var skipped []string
	for _, e := range entries {
		m, err := r.repos.Mcps.FindByID(ctx, e.McpID)
		if err != nil {
			return nil, fmt.Errorf("bundle: find mcp %s: %w", e.McpID, err)
		}
		if m == nil {
			continue
		}

		auth, ok, err := r.resolveAuth(ctx, *m, t.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			skipped = append(skipped, m.Namespace)
			continue
		}

		upstreams = append(upstreams, domain.ResolvedUpstream{
			Namespace:   m.Namespace,
			URL:         m.URL,
			Stateless:   m.Stateless,
			Permissions: e.Permissions,
			Auth:        auth,
		})
	}

	return &domain.BundleDescriptor{
		BundleID:    b.ID,
		Name:        b.Name,
		Upstreams:   upstreams,
		SkippedMcps: skipped,
	}, nil
}

// resolveAuth implements spec §4.7 step 4. ok=false with a nil error means
// "skip this entry" (USER_SET with no bound credential, or one that fails
// to decrypt). A non-nil error (a credential lookup failure, or a MASTER
// decrypt failure with FailClosedOnDecryptError) aborts resolution.
func (r *Resolver) resolveAuth(ctx context.Context, m domain.Mcp, tokenID string) (domain.AuthConfig, bool, error) {
	switch m.AuthStrategy {
	case domain.AuthStrategyNone:
		return domain.NoneAuth(), true, nil

	case domain.AuthStrategyMaster:
		if m.EncryptedAuth == "" {
			return domain.NoneAuth(), true, nil
		}
		if r.settings.FailClosedOnDecryptError && r.creds != nil {
			var auth domain.AuthConfig
			if err := r.creds.DecryptJSON(m.EncryptedAuth, &auth); err != nil {
				return domain.AuthConfig{}, false, fmt.Errorf("bundle: decrypt mcp %s auth: %w", m.Namespace, err)
			}
			return auth.Normalize(), true, nil
		}
		return r.repos.Mcps.DecryptedAuth(ctx, m), true, nil

	case domain.AuthStrategyUserSet:
		cred, err := r.repos.Credentials.FindByTokenAndMcp(ctx, tokenID, m.ID)
		if err != nil {
			return domain.AuthConfig{}, false, fmt.Errorf("bundle: find credential: %w", err)
		}
		if cred == nil {
			gwlog.Log("USER_SET credential missing; skipping entry", map[string]any{
				"mcp_namespace": m.Namespace,
			})
			return domain.AuthConfig{}, false, nil
		}
		auth, err := r.repos.Credentials.DecryptedAuth(ctx, *cred)
		if err != nil {
			gwlog.Warn("failed to decrypt user-set credential; skipping entry", map[string]any{
				"mcp_namespace": m.Namespace,
			})
			return domain.AuthConfig{}, false, nil
		}
		return auth, true, nil

	default:
		return domain.NoneAuth(), true, nil
	}
}
