package apimodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpbundler/gateway/internal/domain"
)

func TestCreateBundleRequestValidate(t *testing.T) {
	assert.NoError(t, (&CreateBundleRequest{Name: "my bundle"}).Validate())
	assert.Error(t, (&CreateBundleRequest{Name: ""}).Validate())
}

func TestFromBundle(t *testing.T) {
	b := domain.Bundle{
		ID: "b1", Name: "n", Description: "d", CreatedByID: "u1",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	resp := FromBundle(b)
	assert.Equal(t, "b1", resp.ID)
	assert.Equal(t, "2026-01-02T03:04:05Z", resp.CreatedAt)
}

func TestCreateMcpRequestValidate(t *testing.T) {
	valid := &CreateMcpRequest{Namespace: "github", URL: "https://example.com", AuthStrategy: "NONE"}
	assert.NoError(t, valid.Validate())

	badNamespace := &CreateMcpRequest{Namespace: "", URL: "https://example.com", AuthStrategy: "NONE"}
	assert.Error(t, badNamespace.Validate())

	badURL := &CreateMcpRequest{Namespace: "github", URL: "not-a-url", AuthStrategy: "NONE"}
	assert.Error(t, badURL.Validate())

	badStrategy := &CreateMcpRequest{Namespace: "github", URL: "https://example.com", AuthStrategy: "WRONG"}
	assert.Error(t, badStrategy.Validate())
}

func TestFromMcpExcludesEncryptedAuth(t *testing.T) {
	m := domain.Mcp{ID: "m1", Namespace: "github", EncryptedAuth: "nonce:tag:cipher"}
	resp := FromMcp(m)
	assert.Equal(t, "m1", resp.ID)
	// McpResponse has no field to leak EncryptedAuth through; this is a
	// compile-time guarantee, verified here by asserting the shape only
	// carries what's expected.
	assert.Equal(t, "github", resp.Namespace)
}

func TestAuthConfigRequestToDomainNormalizesAPIKeyHeader(t *testing.T) {
	req := AuthConfigRequest{Method: "api_key", Key: "k"}
	domainCfg := req.ToDomain()
	assert.Equal(t, "X-API-Key", domainCfg.Header)
}

func TestBindCredentialRequestValidate(t *testing.T) {
	valid := &BindCredentialRequest{Auth: AuthConfigRequest{Method: "bearer", Token: "t"}}
	require.NoError(t, valid.Validate())

	invalid := &BindCredentialRequest{Auth: AuthConfigRequest{Method: "not-a-method"}}
	assert.Error(t, invalid.Validate())
}
