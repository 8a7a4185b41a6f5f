package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcpbundler/gateway/internal/domain"
)

type bundleEntryRow struct {
	ID        string `db:"id"`
	BundleID  string `db:"bundle_id"`
	McpID     string `db:"mcp_id"`
	Tools     string `db:"tools"`
	Resources string `db:"resources"`
	Prompts   string `db:"prompts"`
}

func (r bundleEntryRow) toDomain() (domain.BundleEntry, error) {
	e := domain.BundleEntry{ID: r.ID, BundleID: r.BundleID, McpID: r.McpID}
	if err := json.Unmarshal([]byte(r.Tools), &e.Permissions.Tools); err != nil {
		return e, fmt.Errorf("sqlite: parse tools allow-list: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Resources), &e.Permissions.Resources); err != nil {
		return e, fmt.Errorf("sqlite: parse resources allow-list: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Prompts), &e.Permissions.Prompts); err != nil {
		return e, fmt.Errorf("sqlite: parse prompts allow-list: %w", err)
	}
	return e, nil
}

type bundleEntryRepo struct{ s *Store }

func marshalList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal allow-list: %w", err)
	}
	return string(b), nil
}

func (r *bundleEntryRepo) Create(ctx context.Context, e domain.BundleEntry) error {
	tools, err := marshalList(e.Permissions.Tools)
	if err != nil {
		return err
	}
	resources, err := marshalList(e.Permissions.Resources)
	if err != nil {
		return err
	}
	prompts, err := marshalList(e.Permissions.Prompts)
	if err != nil {
		return err
	}
	return wrapExec(r.s.db.ExecContext(ctx,
		`INSERT INTO bundle_entries (id, bundle_id, mcp_id, tools, resources, prompts) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.BundleID, e.McpID, tools, resources, prompts))
}

func (r *bundleEntryRepo) Update(ctx context.Context, e domain.BundleEntry) error {
	tools, err := marshalList(e.Permissions.Tools)
	if err != nil {
		return err
	}
	resources, err := marshalList(e.Permissions.Resources)
	if err != nil {
		return err
	}
	prompts, err := marshalList(e.Permissions.Prompts)
	if err != nil {
		return err
	}
	return wrapExec(r.s.db.ExecContext(ctx,
		`UPDATE bundle_entries SET tools = ?, resources = ?, prompts = ? WHERE id = ?`,
		tools, resources, prompts, e.ID))
}

func (r *bundleEntryRepo) Delete(ctx context.Context, id string) error {
	return wrapExec(r.s.db.ExecContext(ctx, `DELETE FROM bundle_entries WHERE id = ?`, id))
}

func (r *bundleEntryRepo) FindByID(ctx context.Context, id string) (*domain.BundleEntry, error) {
	var row bundleEntryRow
	if err := r.s.db.GetContext(ctx, &row, `SELECT * FROM bundle_entries WHERE id = ?`, id); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find bundle entry: %w", err)
	}
	e, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *bundleEntryRepo) FindFirst(ctx context.Context, field string, value any) (*domain.BundleEntry, error) {
	if field != "id" && field != "bundle_id" && field != "mcp_id" {
		return nil, fmt.Errorf("sqlite: unsupported field %q", field)
	}
	var row bundleEntryRow
	q := fmt.Sprintf(`SELECT * FROM bundle_entries WHERE %s = ? LIMIT 1`, field)
	if err := r.s.db.GetContext(ctx, &row, q, value); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: find bundle entry: %w", err)
	}
	e, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *bundleEntryRepo) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM bundle_entries WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("sqlite: exists bundle entry: %w", err)
	}
	return n > 0, nil
}

func (r *bundleEntryRepo) ListByBundle(ctx context.Context, bundleID string) ([]domain.BundleEntry, error) {
	var rows []bundleEntryRow
	if err := r.s.db.SelectContext(ctx, &rows, `SELECT * FROM bundle_entries WHERE bundle_id = ? ORDER BY rowid`, bundleID); err != nil {
		return nil, fmt.Errorf("sqlite: list bundle entries: %w", err)
	}
	out := make([]domain.BundleEntry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
