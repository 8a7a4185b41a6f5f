// Package sqlite is the SQLite-backed implementation of the repository
// ports (spec §4.4), built on sqlx the way the teacher's pkg/db package
// builds its DAO: plain SQL strings and sqlx struct scanning. JSON columns
// (the bundle-entry allow-lists) are stored as TEXT, marshalled on write
// and parsed in the row's toDomain converter.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mcpbundler/gateway/internal/crypto"
	"github.com/mcpbundler/gateway/internal/domain"
	"github.com/mcpbundler/gateway/internal/gwlog"
	"github.com/mcpbundler/gateway/internal/repository"
)

// Store is the concrete repository.Repositories built on one *sqlx.DB and
// one credential store.
type Store struct {
	db    *sqlx.DB
	creds *crypto.Store
}

func New(db *sqlx.DB, creds *crypto.Store) *Store {
	return &Store{db: db, creds: creds}
}

// Repositories wires every port to this store.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Bundles:       &bundleRepo{s},
		BundleEntries: &bundleEntryRepo{s},
		Mcps:          &mcpRepo{s},
		Tokens:        &tokenRepo{s},
		Credentials:   &credentialRepo{s},
		Users:         &userRepo{s},
	}
}

func noRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// decryptOrNone decrypts blob and returns domain.NoneAuth() on any
// failure, logging the failure with only the owning record's id (spec
// §4.4, §7: never log the ciphertext or plaintext).
func decryptOrNone(creds *crypto.Store, recordID, blob string) domain.AuthConfig {
	if blob == "" {
		return domain.NoneAuth()
	}
	var auth domain.AuthConfig
	if err := creds.DecryptJSON(blob, &auth); err != nil {
		gwlog.Warn("failed to decrypt auth blob; substituting none", map[string]any{
			"record_id": recordID,
		})
		return domain.NoneAuth()
	}
	return auth.Normalize()
}

func newID() string { return uuid.NewString() }

func wrapExec(_ sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return nil
}
