package repo

import (
	"context"
	"database/sql"
	"strings"

	"xynconsole/internal/domain"
)

// UpsertContextPack inserts or replaces a catalog entry.
func (r Repo) UpsertContextPack(ctx context.Context, tx *sql.Tx, p domain.ContextPackSummary) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO context_packs(id, name, purpose, scope, namespace, project_key, version)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, purpose=excluded.purpose, scope=excluded.scope,
namespace=excluded.namespace, project_key=excluded.project_key, version=excluded.version`,
		p.ID, p.Name, p.Purpose, p.Scope, nullable(p.Namespace), nullable(p.ProjectKey), p.Version)
	return err
}

// ListContextPacks returns catalog entries ordered by name.
func (r Repo) ListContextPacks(ctx context.Context, f domain.ContextPackFilter) ([]domain.ContextPackSummary, error) {
	var (
		where []string
		args  []any
	)
	for col, v := range map[string]string{"scope": f.Scope, "namespace": f.Namespace, "project_key": f.ProjectKey, "purpose": f.Purpose} {
		if v != "" {
			where = append(where, col+"=?")
			args = append(args, v)
		}
	}
	query := `SELECT id, name, purpose, scope, COALESCE(namespace,''), COALESCE(project_key,''), version FROM context_packs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.ContextPackSummary{}
	for rows.Next() {
		var p domain.ContextPackSummary
		if err := rows.Scan(&p.ID, &p.Name, &p.Purpose, &p.Scope, &p.Namespace, &p.ProjectKey, &p.Version); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
