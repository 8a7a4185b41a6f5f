package sqlite

import (
	"context"
	"fmt"

	"github.com/mcpbundler/gateway/internal/domain"
)

type bundleRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	CreatedByID string `db:"created_by_id"`
	CreatedAt   string `db:"created_at"`
}

func (r bundleRow) toDomain() domain.Bundle {
	return domain.Bundle{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		CreatedByID: r.CreatedByID,
		CreatedAt:   parseTime(r.CreatedAt),
	}
}

type bundleRepo struct{ s *Store }

func (r *bundleRepo) Create(ctx context.Context, b domain.Bundle) error {
	return wrapExec(r.s.db.ExecContext(ctx,
		`INSERT INTO bundles (id, name, description, created_by_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Description, b.CreatedByID, formatTime(b.CreatedAt)))
}

func (r *bundleRepo) Update(ctx context.Context, b domain.Bundle) error {
	return wrapExec(r.s.db.ExecContext(ctx,
		`UPDATE bundles SET name = ?, description = ? WHERE id = ?`,
		b.Name, b.Description, b.ID))
}

func (r *bundleRepo) Delete(ctx context.Context, id string) error {
	return wrapExec(r.s.db.ExecContext(ctx, `DELETE FROM bundles WHERE id = ?`, id))
}

func (r *bundleRepo) FindByID(ctx context.Context, id string) (*domain.Bundle, error) {
	var row bundleRow
	if err := r.s.db.GetContext(ctx, &row, `SELECT * FROM bundles WHERE id = ?`, id); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find bundle: %w", err)
	}
	b := row.toDomain()
	return &b, nil
}

func (r *bundleRepo) FindFirst(ctx context.Context, field string, value any) (*domain.Bundle, error) {
	if !allowedBundleField(field) {
		return nil, fmt.Errorf("sqlite: unsupported field %q", field)
	}
	var row bundleRow
	q := fmt.Sprintf(`SELECT * FROM bundles WHERE %s = ? LIMIT 1`, field)
	if err := r.s.db.GetContext(ctx, &row, q, value); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find bundle: %w", err)
	}
	b := row.toDomain()
	return &b, nil
}

func (r *bundleRepo) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM bundles WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("sqlite: exists bundle: %w", err)
	}
	return n > 0, nil
}

func (r *bundleRepo) ListByCreators(ctx context.Context, creatorIDs []string) ([]domain.Bundle, error) {
	if len(creatorIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlxIn(`SELECT * FROM bundles WHERE created_by_id IN (?)`, creatorIDs)
	if err != nil {
		return nil, err
	}
	var rows []bundleRow
	if err := r.s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: list bundles by creators: %w", err)
	}
	out := make([]domain.Bundle, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func allowedBundleField(field string) bool {
	switch field {
	case "id", "name", "created_by_id":
		return true
	default:
		return false
	}
}
