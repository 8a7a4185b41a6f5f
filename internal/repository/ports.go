// Package repository defines the ports the core consumes for persistence
// (spec §4.4). The core never imports a concrete database driver directly;
// it depends on these interfaces, satisfied by internal/repository/sqlite
// (or a fake, in tests).
package repository

import (
	"context"

	"github.com/mcpbundler/gateway/internal/domain"
)

// Repo is the single generic shape spec §4.4 and §9 call for: one
// contract parameterized by the aggregate type, avoiding an
// inheritance-per-entity pattern.
type Repo[T any] interface {
	Create(ctx context.Context, v T) error
	Update(ctx context.Context, v T) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*T, error)
	FindFirst(ctx context.Context, field string, value any) (*T, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// BundleRepo adds the Bundle-specific query of spec §4.4.
type BundleRepo interface {
	Repo[domain.Bundle]
	ListByCreators(ctx context.Context, creatorIDs []string) ([]domain.Bundle, error)
}

// BundleEntryRepo manages the Bundle<->Mcp join rows (spec §3).
type BundleEntryRepo interface {
	Repo[domain.BundleEntry]
	ListByBundle(ctx context.Context, bundleID string) ([]domain.BundleEntry, error)
}

// McpRepo adds the Mcp-specific queries of spec §4.4. Create/Update store
// the EncryptedAuth blob as given (EncryptAuth produces it), and the reads
// return it still encrypted; DecryptedAuth turns it into cleartext,
// substituting {method: none} on decrypt failure (spec §4.4, §7).
type McpRepo interface {
	Repo[domain.Mcp]
	FindByNamespace(ctx context.Context, namespace string) (*domain.Mcp, error)
	ListAll(ctx context.Context) ([]domain.Mcp, error)
	ListByCreators(ctx context.Context, creatorIDs []string) ([]domain.Mcp, error)
	DeleteByCreators(ctx context.Context, creatorIDs []string) error

	// DecryptedAuth returns the cleartext AuthConfig for an Mcp whose
	// strategy is MASTER, decrypting EncryptedAuth. On failure it logs and
	// returns domain.NoneAuth() (spec §4.4, §7) — never an error.
	DecryptedAuth(ctx context.Context, mcp domain.Mcp) domain.AuthConfig
	// EncryptAuth produces the EncryptedAuth blob to persist for a MASTER
	// Mcp's cleartext AuthConfig.
	EncryptAuth(auth domain.AuthConfig) (string, error)
}

// TokenRepo adds the Token-specific queries of spec §4.4.
type TokenRepo interface {
	Repo[domain.Token]
	FindByHash(ctx context.Context, hash string) (*domain.Token, error)
	List(ctx context.Context, bundleID string) ([]domain.Token, error)
	IsValid(ctx context.Context, hash string) (bool, error)
}

// CredentialRepo adds the BundleCredential-specific queries of spec §4.4.
// Bind and UpdateByTokenAndMcp encrypt the cleartext AuthConfig they are
// given; reads return the EncryptedAuth blob, and DecryptedAuth decrypts it,
// returning an error on failure.
type CredentialRepo interface {
	Repo[domain.BundleCredential]
	FindByTokenAndMcp(ctx context.Context, tokenID, mcpID string) (*domain.BundleCredential, error)
	Bind(ctx context.Context, tokenID, mcpID string, auth domain.AuthConfig) error
	UpdateByTokenAndMcp(ctx context.Context, tokenID, mcpID string, auth domain.AuthConfig) error
	Remove(ctx context.Context, tokenID, mcpID string) error
	ListByToken(ctx context.Context, tokenID string) ([]domain.BundleCredential, error)

	DecryptedAuth(ctx context.Context, cred domain.BundleCredential) (domain.AuthConfig, error)
}

// AuthoredRecord is the minimal shape IsAuthorized and the descendant-
// closure helpers need from any aggregate that carries a creator.
type AuthoredRecord interface {
	Creator() string
}

// UserRepo adds the User-specific queries of spec §4.4.
type UserRepo interface {
	Repo[domain.User]
	ValidateAndUpdate(ctx context.Context, user domain.User) error
	// CollectDescendantIds returns every user transitively created by
	// userID (spec §4.4: "transitive closure over createdById").
	CollectDescendantIds(ctx context.Context, userID string) ([]string, error)
	// IsAuthorized holds iff record.createdById == userId or userId
	// transitively created record's creator (spec §4.4).
	IsAuthorized(ctx context.Context, userID string, record AuthoredRecord) (bool, error)
}

// Repositories bundles every port the core depends on, the way a Gateway
// or cmd entrypoint wires a single value through to every component that
// needs persistence.
type Repositories struct {
	Bundles       BundleRepo
	BundleEntries BundleEntryRepo
	Mcps          McpRepo
	Tokens        TokenRepo
	Credentials   CredentialRepo
	Users         UserRepo
}
