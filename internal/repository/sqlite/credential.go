package sqlite

import (
	"context"
	"fmt"

	"github.com/mcpbundler/gateway/internal/domain"
)

type credentialRow struct {
	ID            string `db:"id"`
	TokenID       string `db:"token_id"`
	McpID         string `db:"mcp_id"`
	EncryptedAuth string `db:"encrypted_auth"`
}

func (r credentialRow) toDomain() domain.BundleCredential {
	return domain.BundleCredential{ID: r.ID, TokenID: r.TokenID, McpID: r.McpID, EncryptedAuth: r.EncryptedAuth}
}

type credentialRepo struct{ s *Store }

func (r *credentialRepo) Create(ctx context.Context, c domain.BundleCredential) error {
	return wrapExec(r.s.db.ExecContext(ctx,
		`INSERT INTO bundle_credentials (id, token_id, mcp_id, encrypted_auth) VALUES (?, ?, ?, ?)`,
		c.ID, c.TokenID, c.McpID, c.EncryptedAuth))
}

func (r *credentialRepo) Update(ctx context.Context, c domain.BundleCredential) error {
	return wrapExec(r.s.db.ExecContext(ctx,
		`UPDATE bundle_credentials SET encrypted_auth = ? WHERE id = ?`, c.EncryptedAuth, c.ID))
}

func (r *credentialRepo) Delete(ctx context.Context, id string) error {
	return wrapExec(r.s.db.ExecContext(ctx, `DELETE FROM bundle_credentials WHERE id = ?`, id))
}

func (r *credentialRepo) FindByID(ctx context.Context, id string) (*domain.BundleCredential, error) {
	var row credentialRow
	if err := r.s.db.GetContext(ctx, &row, `SELECT * FROM bundle_credentials WHERE id = ?`, id); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find credential: %w", err)
	}
	c := row.toDomain()
	return &c, nil
}

func (r *credentialRepo) FindFirst(ctx context.Context, field string, value any) (*domain.BundleCredential, error) {
	if field != "id" && field != "token_id" && field != "mcp_id" {
		return nil, fmt.Errorf("sqlite: unsupported field %q", field)
	}
	var row credentialRow
	q := fmt.Sprintf(`SELECT * FROM bundle_credentials WHERE %s = ? LIMIT 1`, field)
	if err := r.s.db.GetContext(ctx, &row, q, value); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find credential: %w", err)
	}
	c := row.toDomain()
	return &c, nil
}

func (r *credentialRepo) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM bundle_credentials WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("sqlite: exists credential: %w", err)
	}
	return n > 0, nil
}

func (r *credentialRepo) FindByTokenAndMcp(ctx context.Context, tokenID, mcpID string) (*domain.BundleCredential, error) {
	var row credentialRow
	err := r.s.db.GetContext(ctx, &row, `SELECT * FROM bundle_credentials WHERE token_id = ? AND mcp_id = ?`, tokenID, mcpID)
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find credential by token+mcp: %w", err)
	}
	c := row.toDomain()
	return &c, nil
}

func (r *credentialRepo) Bind(ctx context.Context, tokenID, mcpID string, auth domain.AuthConfig) error {
	blob, err := r.s.creds.EncryptJSON(auth)
	if err != nil {
		return fmt.Errorf("sqlite: encrypt credential: %w", err)
	}
	return wrapExec(r.s.db.ExecContext(ctx,
		`INSERT INTO bundle_credentials (id, token_id, mcp_id, encrypted_auth) VALUES (?, ?, ?, ?)`,
		newID(), tokenID, mcpID, blob))
}

func (r *credentialRepo) UpdateByTokenAndMcp(ctx context.Context, tokenID, mcpID string, auth domain.AuthConfig) error {
	blob, err := r.s.creds.EncryptJSON(auth)
	if err != nil {
		return fmt.Errorf("sqlite: encrypt credential: %w", err)
	}
	return wrapExec(r.s.db.ExecContext(ctx,
		`UPDATE bundle_credentials SET encrypted_auth = ? WHERE token_id = ? AND mcp_id = ?`, blob, tokenID, mcpID))
}

func (r *credentialRepo) Remove(ctx context.Context, tokenID, mcpID string) error {
	return wrapExec(r.s.db.ExecContext(ctx,
		`DELETE FROM bundle_credentials WHERE token_id = ? AND mcp_id = ?`, tokenID, mcpID))
}

func (r *credentialRepo) ListByToken(ctx context.Context, tokenID string) ([]domain.BundleCredential, error) {
	var rows []credentialRow
	if err := r.s.db.SelectContext(ctx, &rows, `SELECT * FROM bundle_credentials WHERE token_id = ?`, tokenID); err != nil {
		return nil, fmt.Errorf("sqlite: list credentials by token: %w", err)
	}
	out := make([]domain.BundleCredential, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *credentialRepo) DecryptedAuth(_ context.Context, c domain.BundleCredential) (domain.AuthConfig, error) {
	var auth domain.AuthConfig
	if err := r.s.creds.DecryptJSON(c.EncryptedAuth, &auth); err != nil {
		return domain.AuthConfig{}, err
	}
	return auth.Normalize(), nil
}
