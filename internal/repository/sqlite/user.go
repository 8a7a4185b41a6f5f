package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mcpbundler/gateway/internal/domain"
	"github.com/mcpbundler/gateway/internal/repository"
)

type userRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	CreatedByID sql.NullString `db:"created_by_id"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{ID: r.ID, Name: r.Name, CreatedByID: r.CreatedByID.String}
}

type userRepo struct{ s *Store }

func (r *userRepo) Create(ctx context.Context, u domain.User) error {
	return wrapExec(r.s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, created_by_id) VALUES (?, ?, ?)`,
		u.ID, u.Name, nullable(u.CreatedByID)))
}

func (r *userRepo) Update(ctx context.Context, u domain.User) error {
	return wrapExec(r.s.db.ExecContext(ctx,
		`UPDATE users SET name = ? WHERE id = ?`, u.Name, u.ID))
}

func (r *userRepo) Delete(ctx context.Context, id string) error {
	return wrapExec(r.s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id))
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var row userRow
	if err := r.s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find user: %w", err)
	}
	u := row.toDomain()
	return &u, nil
}

func (r *userRepo) FindFirst(ctx context.Context, field string, value any) (*domain.User, error) {
	if field != "id" && field != "name" && field != "created_by_id" {
		return nil, fmt.Errorf("sqlite: unsupported field %q", field)
	}
	var row userRow
	q := fmt.Sprintf(`SELECT * FROM users WHERE %s = ? LIMIT 1`, field)
	if err := r.s.db.GetContext(ctx, &row, q, value); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find user: %w", err)
	}
	u := row.toDomain()
	return &u, nil
}

func (r *userRepo) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM users WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("sqlite: exists user: %w", err)
	}
	return n > 0, nil
}

// ValidateAndUpdate rejects reassigning created_by_id to a user's own
// descendant, which would turn the creator chain into a cycle.
func (r *userRepo) ValidateAndUpdate(ctx context.Context, u domain.User) error {
	if u.CreatedByID != "" {
		descendants, err := r.CollectDescendantIds(ctx, u.ID)
		if err != nil {
			return err
		}
		for _, id := range descendants {
			if id == u.CreatedByID {
				return fmt.Errorf("sqlite: user %s cannot be created by its own descendant %s", u.ID, u.CreatedByID)
			}
		}
	}
	return wrapExec(r.s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, created_by_id = ? WHERE id = ?`,
		u.Name, nullable(u.CreatedByID), u.ID))
}

// CollectDescendantIds walks the creator chain with a recursive CTE: every
// user transitively created by userID, per spec §4.4.
func (r *userRepo) CollectDescendantIds(ctx context.Context, userID string) ([]string, error) {
	const q = `
WITH RECURSIVE descendants(id) AS (
	SELECT id FROM users WHERE created_by_id = ?
	UNION ALL
	SELECT u.id FROM users u JOIN descendants d ON u.created_by_id = d.id
)
SELECT id FROM descendants`
	var ids []string
	if err := r.s.db.SelectContext(ctx, &ids, q, userID); err != nil {
		return nil, fmt.Errorf("sqlite: collect descendant ids: %w", err)
	}
	return ids, nil
}

// IsAuthorized holds iff record was created by userID directly, or by a
// user transitively created by userID (spec §4.4).
func (r *userRepo) IsAuthorized(ctx context.Context, userID string, record repository.AuthoredRecord) (bool, error) {
	creator := record.Creator()
	if creator == userID {
		return true, nil
	}
	descendants, err := r.CollectDescendantIds(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, id := range descendants {
		if id == creator {
			return true, nil
		}
	}
	return false, nil
}
