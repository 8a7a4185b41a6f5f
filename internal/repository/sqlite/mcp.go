package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mcpbundler/gateway/internal/domain"
)

type mcpRow struct {
	ID            string         `db:"id"`
	Namespace     string         `db:"namespace"`
	URL           string         `db:"url"`
	Version       string         `db:"version"`
	Stateless     bool           `db:"stateless"`
	AuthStrategy  string         `db:"auth_strategy"`
	EncryptedAuth sql.NullString `db:"encrypted_auth"`
	CreatedByID   string         `db:"created_by_id"`
	CreatedAt     string         `db:"created_at"`
}

func (r mcpRow) toDomain() domain.Mcp {
	return domain.Mcp{
		ID:            r.ID,
		Namespace:     r.Namespace,
		URL:           r.URL,
		Version:       r.Version,
		Stateless:     r.Stateless,
		AuthStrategy:  domain.AuthStrategy(r.AuthStrategy),
		EncryptedAuth: r.EncryptedAuth.String,
		CreatedByID:   r.CreatedByID,
		CreatedAt:     parseTime(r.CreatedAt),
	}
}

type mcpRepo struct{ s *Store }

func (r *mcpRepo) Create(ctx context.Context, m domain.Mcp) error {
	return wrapExec(r.s.db.ExecContext(ctx,
		`INSERT INTO mcps (id, namespace, url, version, stateless, auth_strategy, encrypted_auth, created_by_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Namespace, m.URL, m.Version, m.Stateless, string(m.AuthStrategy), nullable(m.EncryptedAuth), m.CreatedByID, formatTime(m.CreatedAt)))
}

func (r *mcpRepo) Update(ctx context.Context, m domain.Mcp) error {
	return wrapExec(r.s.db.ExecContext(ctx,
		`UPDATE mcps SET namespace = ?, url = ?, version = ?, stateless = ?, auth_strategy = ?, encrypted_auth = ? WHERE id = ?`,
		m.Namespace, m.URL, m.Version, m.Stateless, string(m.AuthStrategy), nullable(m.EncryptedAuth), m.ID))
}

func (r *mcpRepo) Delete(ctx context.Context, id string) error {
	return wrapExec(r.s.db.ExecContext(ctx, `DELETE FROM mcps WHERE id = ?`, id))
}

func (r *mcpRepo) FindByID(ctx context.Context, id string) (*domain.Mcp, error) {
	var row mcpRow
	if err := r.s.db.GetContext(ctx, &row, `SELECT * FROM mcps WHERE id = ?`, id); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find mcp: %w", err)
	}
	m := row.toDomain()
	return &m, nil
}

func (r *mcpRepo) FindFirst(ctx context.Context, field string, value any) (*domain.Mcp, error) {
	if field != "id" && field != "namespace" && field != "created_by_id" {
		return nil, fmt.Errorf("sqlite: unsupported field %q", field)
	}
	var row mcpRow
	q := fmt.Sprintf(`SELECT * FROM mcps WHERE %s = ? LIMIT 1`, field)
	if err := r.s.db.GetContext(ctx, &row, q, value); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find mcp: %w", err)
	}
	m := row.toDomain()
	return &m, nil
}

func (r *mcpRepo) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM mcps WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("sqlite: exists mcp: %w", err)
	}
	return n > 0, nil
}

func (r *mcpRepo) FindByNamespace(ctx context.Context, namespace string) (*domain.Mcp, error) {
	return r.FindFirst(ctx, "namespace", namespace)
}

func (r *mcpRepo) ListAll(ctx context.Context) ([]domain.Mcp, error) {
	var rows []mcpRow
	if err := r.s.db.SelectContext(ctx, &rows, `SELECT * FROM mcps ORDER BY namespace`); err != nil {
		return nil, fmt.Errorf("sqlite: list mcps: %w", err)
	}
	out := make([]domain.Mcp, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *mcpRepo) ListByCreators(ctx context.Context, creatorIDs []string) ([]domain.Mcp, error) {
	if len(creatorIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlxIn(`SELECT * FROM mcps WHERE created_by_id IN (?)`, creatorIDs)
	if err != nil {
		return nil, err
	}
	var rows []mcpRow
	if err := r.s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: list mcps by creators: %w", err)
	}
	out := make([]domain.Mcp, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *mcpRepo) DeleteByCreators(ctx context.Context, creatorIDs []string) error {
	if len(creatorIDs) == 0 {
		return nil
	}
	query, args, err := sqlxIn(`DELETE FROM mcps WHERE created_by_id IN (?)`, creatorIDs)
	if err != nil {
		return err
	}
	return wrapExec(r.s.db.ExecContext(ctx, query, args...))
}

func (r *mcpRepo) DecryptedAuth(_ context.Context, m domain.Mcp) domain.AuthConfig {
	if m.AuthStrategy != domain.AuthStrategyMaster {
		return domain.NoneAuth()
	}
	return decryptOrNone(r.s.creds, m.ID, m.EncryptedAuth)
}

func (r *mcpRepo) EncryptAuth(auth domain.AuthConfig) (string, error) {
	return r.s.creds.EncryptJSON(auth)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
