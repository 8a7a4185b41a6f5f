package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mcpbundler/gateway/internal/domain"
)

type tokenRow struct {
	ID        string       `db:"id"`
	Hash      string       `db:"hash"`
	BundleID  string       `db:"bundle_id"`
	ExpiresAt sql.NullTime `db:"expires_at"`
	Revoked   bool         `db:"revoked"`
}

func (r tokenRow) toDomain() domain.Token {
	t := domain.Token{ID: r.ID, Hash: r.Hash, BundleID: r.BundleID, Revoked: r.Revoked}
	if r.ExpiresAt.Valid {
		exp := r.ExpiresAt.Time
		t.ExpiresAt = &exp
	}
	return t
}

type tokenRepo struct{ s *Store }

func expiresAtValue(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *tokenRepo) Create(ctx context.Context, t domain.Token) error {
	return wrapExec(r.s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, hash, bundle_id, expires_at, revoked) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Hash, t.BundleID, expiresAtValue(t.ExpiresAt), t.Revoked))
}

func (r *tokenRepo) Update(ctx context.Context, t domain.Token) error {
	return wrapExec(r.s.db.ExecContext(ctx,
		`UPDATE tokens SET expires_at = ?, revoked = ? WHERE id = ?`,
		expiresAtValue(t.ExpiresAt), t.Revoked, t.ID))
}

func (r *tokenRepo) Delete(ctx context.Context, id string) error {
	return wrapExec(r.s.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = ?`, id))
}

func (r *tokenRepo) FindByID(ctx context.Context, id string) (*domain.Token, error) {
	var row tokenRow
	if err := r.s.db.GetContext(ctx, &row, `SELECT * FROM tokens WHERE id = ?`, id); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find token: %w", err)
	}
	t := row.toDomain()
	return &t, nil
}

func (r *tokenRepo) FindFirst(ctx context.Context, field string, value any) (*domain.Token, error) {
	if field != "id" && field != "hash" && field != "bundle_id" {
		return nil, fmt.Errorf("sqlite: unsupported field %q", field)
	}
	var row tokenRow
	q := fmt.Sprintf(`SELECT * FROM tokens WHERE %s = ? LIMIT 1`, field)
	if err := r.s.db.GetContext(ctx, &row, q, value); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find token: %w", err)
	}
	t := row.toDomain()
	return &t, nil
}

func (r *tokenRepo) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM tokens WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("sqlite: exists token: %w", err)
	}
	return n > 0, nil
}

func (r *tokenRepo) FindByHash(ctx context.Context, hash string) (*domain.Token, error) {
	return r.FindFirst(ctx, "hash", hash)
}

func (r *tokenRepo) List(ctx context.Context, bundleID string) ([]domain.Token, error) {
	var rows []tokenRow
	if err := r.s.db.SelectContext(ctx, &rows, `SELECT * FROM tokens WHERE bundle_id = ?`, bundleID); err != nil {
		return nil, fmt.Errorf("sqlite: list tokens: %w", err)
	}
	out := make([]domain.Token, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *tokenRepo) IsValid(ctx context.Context, hash string) (bool, error) {
	t, err := r.FindByHash(ctx, hash)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, nil
	}
	return t.Valid(time.Now()), nil
}
