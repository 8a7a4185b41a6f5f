package bundle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpbundler/gateway/internal/apierr"
	"github.com/mcpbundler/gateway/internal/crypto"
	"github.com/mcpbundler/gateway/internal/domain"
	"github.com/mcpbundler/gateway/internal/repository"
)

// fakeRepos is an in-memory repository.Repositories for exercising the
// resolver without a database.
type fakeRepos struct {
	mcps        map[string]domain.Mcp
	mcpsByNS    map[string]string
	bundles     map[string]domain.Bundle
	entries     map[string][]domain.BundleEntry
	tokens      map[string]domain.Token
	credentials map[string]domain.BundleCredential // key: tokenID+"|"+mcpID

	store *crypto.Store
}

func newFakeRepos() *fakeRepos {
	return &fakeRepos{
		mcps:        map[string]domain.Mcp{},
		mcpsByNS:    map[string]string{},
		bundles:     map[string]domain.Bundle{},
		entries:     map[string][]domain.BundleEntry{},
		tokens:      map[string]domain.Token{},
		credentials: map[string]domain.BundleCredential{},
	}
}

func (f *fakeRepos) repositories() repository.Repositories {
	return repository.Repositories{
		Bundles:       &fakeBundleRepo{f},
		BundleEntries: &fakeBundleEntryRepo{f},
		Mcps:          &fakeMcpRepo{f},
		Tokens:        &fakeTokenRepo{f},
		Credentials:   &fakeCredentialRepo{f},
	}
}

// --- BundleRepo ---

type fakeBundleRepo struct{ f *fakeRepos }

func (r *fakeBundleRepo) Create(context.Context, domain.Bundle) error { return nil }
func (r *fakeBundleRepo) Update(context.Context, domain.Bundle) error { return nil }
func (r *fakeBundleRepo) Delete(context.Context, string) error        { return nil }
func (r *fakeBundleRepo) FindByID(_ context.Context, id string) (*domain.Bundle, error) {
	b, ok := r.f.bundles[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}
func (r *fakeBundleRepo) FindFirst(context.Context, string, any) (*domain.Bundle, error) {
	return nil, nil
}
func (r *fakeBundleRepo) Exists(_ context.Context, id string) (bool, error) {
	_, ok := r.f.bundles[id]
	return ok, nil
}
func (r *fakeBundleRepo) ListByCreators(context.Context, []string) ([]domain.Bundle, error) {
	return nil, nil
}

// --- BundleEntryRepo ---

type fakeBundleEntryRepo struct{ f *fakeRepos }

func (r *fakeBundleEntryRepo) Create(context.Context, domain.BundleEntry) error { return nil }
func (r *fakeBundleEntryRepo) Update(context.Context, domain.BundleEntry) error { return nil }
func (r *fakeBundleEntryRepo) Delete(context.Context, string) error             { return nil }
func (r *fakeBundleEntryRepo) FindByID(context.Context, string) (*domain.BundleEntry, error) {
	return nil, nil
}
func (r *fakeBundleEntryRepo) FindFirst(context.Context, string, any) (*domain.BundleEntry, error) {
	return nil, nil
}
func (r *fakeBundleEntryRepo) Exists(context.Context, string) (bool, error) { return false, nil }
func (r *fakeBundleEntryRepo) ListByBundle(_ context.Context, bundleID string) ([]domain.BundleEntry, error) {
	return r.f.entries[bundleID], nil
}

// --- McpRepo ---

type fakeMcpRepo struct{ f *fakeRepos }

func (r *fakeMcpRepo) Create(context.Context, domain.Mcp) error { return nil }
func (r *fakeMcpRepo) Update(context.Context, domain.Mcp) error { return nil }
func (r *fakeMcpRepo) Delete(context.Context, string) error     { return nil }
func (r *fakeMcpRepo) FindByID(_ context.Context, id string) (*domain.Mcp, error) {
	m, ok := r.f.mcps[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}
func (r *fakeMcpRepo) FindFirst(context.Context, string, any) (*domain.Mcp, error) { return nil, nil }
func (r *fakeMcpRepo) Exists(_ context.Context, id string) (bool, error) {
	_, ok := r.f.mcps[id]
	return ok, nil
}
func (r *fakeMcpRepo) FindByNamespace(_ context.Context, ns string) (*domain.Mcp, error) {
	id, ok := r.f.mcpsByNS[ns]
	if !ok {
		return nil, nil
	}
	m := r.f.mcps[id]
	return &m, nil
}
func (r *fakeMcpRepo) ListAll(context.Context) ([]domain.Mcp, error) {
	out := make([]domain.Mcp, 0, len(r.f.mcps))
	for _, m := range r.f.mcps {
		out = append(out, m)
	}
	return out, nil
}
func (r *fakeMcpRepo) ListByCreators(context.Context, []string) ([]domain.Mcp, error) {
	return nil, nil
}
func (r *fakeMcpRepo) DeleteByCreators(context.Context, []string) error { return nil }
func (r *fakeMcpRepo) DecryptedAuth(_ context.Context, m domain.Mcp) domain.AuthConfig {
	if r.f.store == nil || m.EncryptedAuth == "" {
		return domain.NoneAuth()
	}
	var auth domain.AuthConfig
	if err := r.f.store.DecryptJSON(m.EncryptedAuth, &auth); err != nil {
		return domain.NoneAuth()
	}
	return auth.Normalize()
}
func (r *fakeMcpRepo) EncryptAuth(auth domain.AuthConfig) (string, error) {
	return r.f.store.EncryptJSON(auth)
}

// --- TokenRepo ---

type fakeTokenRepo struct{ f *fakeRepos }

func (r *fakeTokenRepo) Create(context.Context, domain.Token) error { return nil }
func (r *fakeTokenRepo) Update(context.Context, domain.Token) error { return nil }
func (r *fakeTokenRepo) Delete(context.Context, string) error       { return nil }
func (r *fakeTokenRepo) FindByID(_ context.Context, id string) (*domain.Token, error) {
	t, ok := r.f.tokens[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}
func (r *fakeTokenRepo) FindFirst(context.Context, string, any) (*domain.Token, error) {
	return nil, nil
}
func (r *fakeTokenRepo) Exists(_ context.Context, id string) (bool, error) {
	_, ok := r.f.tokens[id]
	return ok, nil
}
func (r *fakeTokenRepo) FindByHash(_ context.Context, hash string) (*domain.Token, error) {
	for _, t := range r.f.tokens {
		if t.Hash == hash {
			tCopy := t
			return &tCopy, nil
		}
	}
	return nil, nil
}
func (r *fakeTokenRepo) List(context.Context, string) ([]domain.Token, error) { return nil, nil }
func (r *fakeTokenRepo) IsValid(context.Context, string) (bool, error)        { return false, nil }

// --- CredentialRepo ---

type fakeCredentialRepo struct{ f *fakeRepos }

func (r *fakeCredentialRepo) Create(context.Context, domain.BundleCredential) error { return nil }
func (r *fakeCredentialRepo) Update(context.Context, domain.BundleCredential) error { return nil }
func (r *fakeCredentialRepo) Delete(context.Context, string) error                  { return nil }
func (r *fakeCredentialRepo) FindByID(context.Context, string) (*domain.BundleCredential, error) {
	return nil, nil
}
func (r *fakeCredentialRepo) FindFirst(context.Context, string, any) (*domain.BundleCredential, error) {
	return nil, nil
}
func (r *fakeCredentialRepo) Exists(context.Context, string) (bool, error) { return false, nil }
func (r *fakeCredentialRepo) FindByTokenAndMcp(_ context.Context, tokenID, mcpID string) (*domain.BundleCredential, error) {
	c, ok := r.f.credentials[tokenID+"|"+mcpID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
func (r *fakeCredentialRepo) Bind(_ context.Context, tokenID, mcpID string, auth domain.AuthConfig) error {
	blob, err := r.f.store.EncryptJSON(auth)
	if err != nil {
		return err
	}
	r.f.credentials[tokenID+"|"+mcpID] = domain.BundleCredential{
		ID: tokenID + "|" + mcpID, TokenID: tokenID, McpID: mcpID, EncryptedAuth: blob,
	}
	return nil
}
func (r *fakeCredentialRepo) UpdateByTokenAndMcp(context.Context, string, string, domain.AuthConfig) error {
	return nil
}
func (r *fakeCredentialRepo) Remove(context.Context, string, string) error { return nil }
func (r *fakeCredentialRepo) ListByToken(context.Context, string) ([]domain.BundleCredential, error) {
	return nil, nil
}
func (r *fakeCredentialRepo) DecryptedAuth(_ context.Context, cred domain.BundleCredential) (domain.AuthConfig, error) {
	var auth domain.AuthConfig
	if err := r.f.store.DecryptJSON(cred.EncryptedAuth, &auth); err != nil {
		return domain.AuthConfig{}, err
	}
	return auth.Normalize(), nil
}

func testStore(t *testing.T) *crypto.Store {
	t.Helper()
	s, err := crypto.NewStore("01234567890123456789012345678901")
	require.NoError(t, err)
	return s
}

func TestResolveWildcardBypassesScopingAndExcludesUserSet(t *testing.T) {
	store := testStore(t)
	f := newFakeRepos()
	f.store = store

	masterBlob, err := store.EncryptJSON(domain.AuthConfig{Method: domain.AuthMethodBearer, Token: "tkn"})
	require.NoError(t, err)

	f.mcps["m1"] = domain.Mcp{ID: "m1", Namespace: "github", URL: "https://github.example", AuthStrategy: domain.AuthStrategyNone}
	f.mcps["m2"] = domain.Mcp{ID: "m2", Namespace: "jira", URL: "https://jira.example", AuthStrategy: domain.AuthStrategyMaster, EncryptedAuth: masterBlob}
	f.mcps["m3"] = domain.Mcp{ID: "m3", Namespace: "slack", URL: "https://slack.example", AuthStrategy: domain.AuthStrategyUserSet}
	f.mcps["m4"] = domain.Mcp{ID: "m4", Namespace: "nokey", URL: "https://nokey.example", AuthStrategy: domain.AuthStrategyMaster}

	r := New(f.repositories(), store, Settings{WildcardAllow: true, WildcardToken: "debug-token"})

	desc, err := r.Resolve(context.Background(), "debug-token")
	require.NoError(t, err)
	assert.Equal(t, "all", desc.Name)
	assert.Len(t, desc.Upstreams, 2)

	byNS := map[string]domain.ResolvedUpstream{}
	for _, u := range desc.Upstreams {
		byNS[u.Namespace] = u
	}
	assert.Contains(t, byNS, "github")
	assert.Contains(t, byNS, "jira")
	assert.NotContains(t, byNS, "slack")
	assert.NotContains(t, byNS, "nokey")

	assert.Equal(t, domain.AuthMethodBearer, byNS["jira"].Auth.Method)
	assert.Equal(t, []string{"*"}, byNS["github"].Permissions.Tools)
}

func TestResolveWildcardNotUsedWhenTokenMismatches(t *testing.T) {
	f := newFakeRepos()
	r := New(f.repositories(), nil, Settings{WildcardAllow: true, WildcardToken: "debug-token"})

	_, err := r.Resolve(context.Background(), "mcpb_notmatching00000000000000000000000000")
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthorizedToken, apierr.KindOf(err))
}

func TestResolveByTokenMalformedRejected(t *testing.T) {
	f := newFakeRepos()
	r := New(f.repositories(), nil, Settings{})

	_, err := r.Resolve(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthorizedToken, apierr.KindOf(err))
}

func validToken() string {
	return "mcpb_" + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
}

func TestResolveByTokenUnknownRejected(t *testing.T) {
	f := newFakeRepos()
	r := New(f.repositories(), nil, Settings{})

	_, err := r.Resolve(context.Background(), validToken())
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthorizedToken, apierr.KindOf(err))
}

func TestResolveByTokenRevokedRejected(t *testing.T) {
	f := newFakeRepos()
	tok := validToken()
	f.tokens["t1"] = domain.Token{ID: "t1", Hash: crypto.HashToken(tok), BundleID: "b1", Revoked: true}
	r := New(f.repositories(), nil, Settings{})

	_, err := r.Resolve(context.Background(), tok)
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnauthorizedToken, apierr.KindOf(err))
}

func TestResolveByTokenBundleNotFound(t *testing.T) {
	f := newFakeRepos()
	tok := validToken()
	f.tokens["t1"] = domain.Token{ID: "t1", Hash: crypto.HashToken(tok), BundleID: "missing"}
	r := New(f.repositories(), nil, Settings{})

	_, err := r.Resolve(context.Background(), tok)
	require.Error(t, err)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}

func TestResolveByTokenNoneAuth(t *testing.T) {
	f := newFakeRepos()
	tok := validToken()
	f.tokens["t1"] = domain.Token{ID: "t1", Hash: crypto.HashToken(tok), BundleID: "b1"}
	f.bundles["b1"] = domain.Bundle{ID: "b1", Name: "my bundle"}
	f.mcps["m1"] = domain.Mcp{ID: "m1", Namespace: "github", URL: "https://github.example", AuthStrategy: domain.AuthStrategyNone}
	f.entries["b1"] = []domain.BundleEntry{
		{ID: "e1", BundleID: "b1", McpID: "m1", Permissions: domain.Permissions{Tools: []string{"create_issue"}}},
	}
	r := New(f.repositories(), nil, Settings{})

	desc, err := r.Resolve(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "b1", desc.BundleID)
	require.Len(t, desc.Upstreams, 1)
	assert.Equal(t, "github", desc.Upstreams[0].Namespace)
	assert.Equal(t, domain.AuthMethodNone, desc.Upstreams[0].Auth.Method)
	assert.Equal(t, []string{"create_issue"}, desc.Upstreams[0].Permissions.Tools)
	assert.Empty(t, desc.SkippedMcps)
}

func TestResolveByTokenMasterAuthDecryptsViaRepo(t *testing.T) {
	store := testStore(t)
	f := newFakeRepos()
	f.store = store
	tok := validToken()
	f.tokens["t1"] = domain.Token{ID: "t1", Hash: crypto.HashToken(tok), BundleID: "b1"}
	f.bundles["b1"] = domain.Bundle{ID: "b1", Name: "my bundle"}

	blob, err := store.EncryptJSON(domain.AuthConfig{Method: domain.AuthMethodBearer, Token: "secret"})
	require.NoError(t, err)
	f.mcps["m1"] = domain.Mcp{ID: "m1", Namespace: "jira", URL: "https://jira.example", AuthStrategy: domain.AuthStrategyMaster, EncryptedAuth: blob}
	f.entries["b1"] = []domain.BundleEntry{{ID: "e1", BundleID: "b1", McpID: "m1"}}

	r := New(f.repositories(), store, Settings{})
	desc, err := r.Resolve(context.Background(), tok)
	require.NoError(t, err)
	require.Len(t, desc.Upstreams, 1)
	assert.Equal(t, domain.AuthMethodBearer, desc.Upstreams[0].Auth.Method)
	assert.Equal(t, "secret", desc.Upstreams[0].Auth.Token)
}

func TestResolveByTokenMasterFailClosedOnDecryptError(t *testing.T) {
	store := testStore(t)
	f := newFakeRepos()
	f.store = store
	tok := validToken()
	f.tokens["t1"] = domain.Token{ID: "t1", Hash: crypto.HashToken(tok), BundleID: "b1"}
	f.bundles["b1"] = domain.Bundle{ID: "b1", Name: "my bundle"}
	f.mcps["m1"] = domain.Mcp{
		ID: "m1", Namespace: "jira", URL: "https://jira.example",
		AuthStrategy: domain.AuthStrategyMaster, EncryptedAuth: "not:valid:blob",
	}
	f.entries["b1"] = []domain.BundleEntry{{ID: "e1", BundleID: "b1", McpID: "m1"}}

	r := New(f.repositories(), store, Settings{FailClosedOnDecryptError: true})
	_, err := r.Resolve(context.Background(), tok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierr.DecryptErr(nil)))
}

func TestResolveByTokenMasterDefaultPolicyNeverErrorsOnBadCiphertext(t *testing.T) {
	store := testStore(t)
	f := newFakeRepos()
	f.store = store
	tok := validToken()
	f.tokens["t1"] = domain.Token{ID: "t1", Hash: crypto.HashToken(tok), BundleID: "b1"}
	f.bundles["b1"] = domain.Bundle{ID: "b1", Name: "my bundle"}
	f.mcps["m1"] = domain.Mcp{
		ID: "m1", Namespace: "jira", URL: "https://jira.example",
		AuthStrategy: domain.AuthStrategyMaster, EncryptedAuth: "not:valid:blob",
	}
	f.entries["b1"] = []domain.BundleEntry{{ID: "e1", BundleID: "b1", McpID: "m1"}}

	r := New(f.repositories(), store, Settings{FailClosedOnDecryptError: false})
	desc, err := r.Resolve(context.Background(), tok)
	require.NoError(t, err)
	require.Len(t, desc.Upstreams, 1)
	assert.Equal(t, domain.AuthMethodNone, desc.Upstreams[0].Auth.Method)
}

func TestResolveByTokenUserSetMissingCredentialSkipped(t *testing.T) {
	f := newFakeRepos()
	tok := validToken()
	f.tokens["t1"] = domain.Token{ID: "t1", Hash: crypto.HashToken(tok), BundleID: "b1"}
	f.bundles["b1"] = domain.Bundle{ID: "b1", Name: "my bundle"}
	f.mcps["m1"] = domain.Mcp{ID: "m1", Namespace: "slack", URL: "https://slack.example", AuthStrategy: domain.AuthStrategyUserSet}
	f.entries["b1"] = []domain.BundleEntry{{ID: "e1", BundleID: "b1", McpID: "m1"}}

	r := New(f.repositories(), nil, Settings{})
	desc, err := r.Resolve(context.Background(), tok)
	require.NoError(t, err)
	assert.Empty(t, desc.Upstreams)
	assert.Equal(t, []string{"slack"}, desc.SkippedMcps)
}

func TestResolveByTokenUserSetBoundCredentialResolves(t *testing.T) {
	store := testStore(t)
	f := newFakeRepos()
	f.store = store
	tok := validToken()
	f.tokens["t1"] = domain.Token{ID: "t1", Hash: crypto.HashToken(tok), BundleID: "b1"}
	f.bundles["b1"] = domain.Bundle{ID: "b1", Name: "my bundle"}
	f.mcps["m1"] = domain.Mcp{ID: "m1", Namespace: "slack", URL: "https://slack.example", AuthStrategy: domain.AuthStrategyUserSet}
	f.entries["b1"] = []domain.BundleEntry{{ID: "e1", BundleID: "b1", McpID: "m1"}}
	require.NoError(t, (&fakeCredentialRepo{f}).Bind(context.Background(), "t1", "m1", domain.AuthConfig{Method: domain.AuthMethodAPIKey, Key: "abc"}))

	r := New(f.repositories(), store, Settings{})
	desc, err := r.Resolve(context.Background(), tok)
	require.NoError(t, err)
	require.Len(t, desc.Upstreams, 1)
	assert.Equal(t, domain.AuthMethodAPIKey, desc.Upstreams[0].Auth.Method)
	assert.Equal(t, "X-API-Key", desc.Upstreams[0].Auth.Header)
	assert.Empty(t, desc.SkippedMcps)
}

func TestResolveByTokenUserSetDecryptFailureSkipped(t *testing.T) {
	encryptingStore := testStore(t)
	decryptingStore, err := crypto.NewStore("other0123456789012345678901234567")
	require.NoError(t, err)

	f := newFakeRepos()
	tok := validToken()
	f.tokens["t1"] = domain.Token{ID: "t1", Hash: crypto.HashToken(tok), BundleID: "b1"}
	f.bundles["b1"] = domain.Bundle{ID: "b1", Name: "my bundle"}
	f.mcps["m1"] = domain.Mcp{ID: "m1", Namespace: "slack", URL: "https://slack.example", AuthStrategy: domain.AuthStrategyUserSet}
	f.entries["b1"] = []domain.BundleEntry{{ID: "e1", BundleID: "b1", McpID: "m1"}}

	// Bind the credential encrypted under one key, then point the fake
	// repo's store at a different key before resolving, so
	// Credentials.DecryptedAuth fails the way a corrupted/rotated-key
	// ciphertext would in production.
	f.store = encryptingStore
	require.NoError(t, (&fakeCredentialRepo{f}).Bind(context.Background(), "t1", "m1", domain.AuthConfig{Method: domain.AuthMethodBearer, Token: "x"}))
	f.store = decryptingStore

	r := New(f.repositories(), decryptingStore, Settings{})
	desc, err := r.Resolve(context.Background(), tok)
	require.NoError(t, err)
	assert.Empty(t, desc.Upstreams)
	assert.Equal(t, []string{"slack"}, desc.SkippedMcps)
}

func TestResolveByTokenSkipsEntryWhoseMcpWasDeleted(t *testing.T) {
	f := newFakeRepos()
	tok := validToken()
	f.tokens["t1"] = domain.Token{ID: "t1", Hash: crypto.HashToken(tok), BundleID: "b1"}
	f.bundles["b1"] = domain.Bundle{ID: "b1", Name: "my bundle"}
	f.entries["b1"] = []domain.BundleEntry{{ID: "e1", BundleID: "b1", McpID: "gone"}}

	r := New(f.repositories(), nil, Settings{})
	desc, err := r.Resolve(context.Background(), tok)
	require.NoError(t, err)
	assert.Empty(t, desc.Upstreams)
	assert.Empty(t, desc.SkippedMcps)
}
