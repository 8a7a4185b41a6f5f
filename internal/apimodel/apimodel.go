// Package apimodel holds the management/credential-API request and
// response shapes of spec §6, validated with
// github.com/go-playground/validator/v10 struct tags the way the
// teacher's pkg/catalog/types.go validates Server/Tool.
package apimodel

import (
	"github.com/go-playground/validator/v10"

	"github.com/mcpbundler/gateway/internal/domain"
)

var validate = validator.New()

// Validatable is implemented by every request body this package defines.
type Validatable interface {
	Validate() error
}

// CreateBundleRequest is the POST /admin/bundles body.
type CreateBundleRequest struct {
	Name        string `json:"name" validate:"required,min=1"`
	Description string `json:"description"`
}

func (r *CreateBundleRequest) Validate() error { return validate.Struct(r) }

// BundleResponse is the wire shape of a domain.Bundle.
type BundleResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedByID string `json:"createdById"`
	CreatedAt   string `json:"createdAt"`
}

func FromBundle(b domain.Bundle) BundleResponse {
	return BundleResponse{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		CreatedByID: b.CreatedByID,
		CreatedAt:   b.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// CreateBundleEntryRequest is the POST /admin/bundles/{id}/entries body.
type CreateBundleEntryRequest struct {
	McpID     string   `json:"mcpId" validate:"required"`
	Tools     []string `json:"tools"`
	Resources []string `json:"resources"`
	Prompts   []string `json:"prompts"`
}

func (r *CreateBundleEntryRequest) Validate() error { return validate.Struct(r) }

// BundleEntryResponse is the wire shape of a domain.BundleEntry.
type BundleEntryResponse struct {
	ID        string   `json:"id"`
	BundleID  string   `json:"bundleId"`
	McpID     string   `json:"mcpId"`
	Tools     []string `json:"tools"`
	Resources []string `json:"resources"`
	Prompts   []string `json:"prompts"`
}

func FromBundleEntry(e domain.BundleEntry) BundleEntryResponse {
	return BundleEntryResponse{
		ID:        e.ID,
		BundleID:  e.BundleID,
		McpID:     e.McpID,
		Tools:     e.Permissions.Tools,
		Resources: e.Permissions.Resources,
		Prompts:   e.Permissions.Prompts,
	}
}

// AuthConfigRequest is the wire shape of a domain.AuthConfig accepted on
// write; the management API never returns auth material, only accepts it
// (spec §3: "Stored only in encrypted form").
type AuthConfigRequest struct {
	Method   string `json:"method" validate:"required,oneof=none bearer basic api_key"`
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Key      string `json:"key,omitempty"`
	Header   string `json:"header,omitempty"`
}

func (a AuthConfigRequest) ToDomain() domain.AuthConfig {
	return domain.AuthConfig{
		Method:   domain.AuthMethod(a.Method),
		Token:    a.Token,
		Username: a.Username,
		Password: a.Password,
		Key:      a.Key,
		Header:   a.Header,
	}.Normalize()
}

// CreateMcpRequest is the POST /admin/mcps body.
type CreateMcpRequest struct {
	Namespace    string             `json:"namespace" validate:"required,min=1,max=64"`
	URL          string             `json:"url" validate:"required,url"`
	Version      string             `json:"version"`
	Stateless    bool               `json:"stateless"`
	AuthStrategy string             `json:"authStrategy" validate:"required,oneof=NONE MASTER USER_SET"`
	Auth         *AuthConfigRequest `json:"auth,omitempty"`
}

func (r *CreateMcpRequest) Validate() error { return validate.Struct(r) }

// McpResponse is the wire shape of a domain.Mcp. EncryptedAuth is never
// serialized (spec §3/§7: ciphertext never leaves the repository layer).
type McpResponse struct {
	ID           string `json:"id"`
	Namespace    string `json:"namespace"`
	URL          string `json:"url"`
	Version      string `json:"version"`
	Stateless    bool   `json:"stateless"`
	AuthStrategy string `json:"authStrategy"`
	CreatedByID  string `json:"createdById"`
}

func FromMcp(m domain.Mcp) McpResponse {
	return McpResponse{
		ID:           m.ID,
		Namespace:    m.Namespace,
		URL:          m.URL,
		Version:      m.Version,
		Stateless:    m.Stateless,
		AuthStrategy: string(m.AuthStrategy),
		CreatedByID:  m.CreatedByID,
	}
}

// BindCredentialRequest is the PUT /credentials/{mcpId} body.
type BindCredentialRequest struct {
	Auth AuthConfigRequest `json:"auth" validate:"required"`
}

func (r *BindCredentialRequest) Validate() error { return validate.Struct(r) }

func (r BindCredentialRequest) ToDomain() domain.AuthConfig { return r.Auth.ToDomain() }
