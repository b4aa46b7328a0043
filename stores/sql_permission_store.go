package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/orchidsec/accessctl"
)

// SQLPermissionStore persists permissions in SQL (squealx). Conditions and
// metadata live in JSON columns so the schema survives condition evolution.
type SQLPermissionStore struct {
	db *squealx.DB
}

func NewSQLPermissionStore(db *squealx.DB) *SQLPermissionStore {
	return &SQLPermissionStore{db: db}
}

func (s *SQLPermissionStore) permissionParams(p *accessctl.Permission) map[string]any {
	conds, _ := json.Marshal(p.Conditions)
	meta, _ := json.Marshal(p.Metadata)
	return map[string]any{
		"id":              p.ID,
		"name":            p.Name,
		"description":     p.Description,
		"resource":        p.Resource,
		"action":          p.Action,
		"effect":          string(p.Effect),
		"conditions_json": string(conds),
		"metadata_json":   string(meta),
	}
}

func (s *SQLPermissionStore) CreatePermission(ctx context.Context, p *accessctl.Permission) error {
	q := `INSERT INTO permissions(id, name, description, resource, action, effect, conditions_json, metadata_json)
VALUES(:id, :name, :description, :resource, :action, :effect, :conditions_json, :metadata_json)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, resource=excluded.resource, action=excluded.action, effect=excluded.effect, conditions_json=excluded.conditions_json, metadata_json=excluded.metadata_json`
	_, err := s.db.NamedExecContext(ctx, q, s.permissionParams(p))
	return err
}

func (s *SQLPermissionStore) UpdatePermission(ctx context.Context, p *accessctl.Permission) error {
	q := `UPDATE permissions SET name=:name, description=:description, resource=:resource, action=:action, effect=:effect, conditions_json=:conditions_json, metadata_json=:metadata_json WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, s.permissionParams(p))
	return err
}

func (s *SQLPermissionStore) DeletePermission(ctx context.Context, id string) error {
	q := `DELETE FROM permissions WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

func (s *SQLPermissionStore) GetPermission(ctx context.Context, id string) (*accessctl.Permission, error) {
	q := `SELECT id, name, description, resource, action, effect, conditions_json, metadata_json FROM permissions WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("permission not found: %s", id)
	}
	return scanPermission(r)
}

func (s *SQLPermissionStore) ListPermissions(ctx context.Context) ([]*accessctl.Permission, error) {
	q := `SELECT id, name, description, resource, action, effect, conditions_json, metadata_json FROM permissions`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*accessctl.Permission, 0)
	for r.Next() {
		p, err := scanPermission(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermission(r rowScanner) (*accessctl.Permission, error) {
	var id, name, desc, resource, action, effect, condsJSON, metaJSON string
	if err := r.Scan(&id, &name, &desc, &resource, &action, &effect, &condsJSON, &metaJSON); err != nil {
		return nil, err
	}
	p := &accessctl.Permission{
		ID:          id,
		Name:        name,
		Description: desc,
		Resource:    resource,
		Action:      action,
		Effect:      accessctl.Effect(effect),
	}
	_ = json.Unmarshal([]byte(condsJSON), &p.Conditions)
	_ = json.Unmarshal([]byte(metaJSON), &p.Metadata)
	return p, nil
}
