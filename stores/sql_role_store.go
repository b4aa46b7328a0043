package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/orchidsec/accessctl"
)

// SQLRoleStore persists roles in SQL (squealx).
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) roleParams(r *accessctl.Role) map[string]any {
	parents, _ := json.Marshal(r.ParentRoles)
	perms, _ := json.Marshal(r.Permissions)
	return map[string]any{
		"id":                r.ID,
		"name":              r.Name,
		"description":       r.Description,
		"parent_roles_json": string(parents),
		"permissions_json":  string(perms),
		"is_system_role":    boolToInt(r.IsSystemRole),
		"is_active":         boolToInt(r.IsActive),
		"created_at":        r.CreatedAt,
		"updated_at":        r.UpdatedAt,
	}
}

func (s *SQLRoleStore) CreateRole(ctx context.Context, r *accessctl.Role) error {
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	q := `INSERT INTO roles(id, name, description, parent_roles_json, permissions_json, is_system_role, is_active, created_at, updated_at)
VALUES(:id, :name, :description, :parent_roles_json, :permissions_json, :is_system_role, :is_active, :created_at, :updated_at)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, parent_roles_json=excluded.parent_roles_json, permissions_json=excluded.permissions_json, is_system_role=excluded.is_system_role, is_active=excluded.is_active, updated_at=excluded.updated_at`
	_, err := s.db.NamedExecContext(ctx, q, s.roleParams(r))
	return err
}

func (s *SQLRoleStore) UpdateRole(ctx context.Context, r *accessctl.Role) error {
	r.UpdatedAt = time.Now()
	q := `UPDATE roles SET name=:name, description=:description, parent_roles_json=:parent_roles_json, permissions_json=:permissions_json, is_system_role=:is_system_role, is_active=:is_active, updated_at=:updated_at WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, s.roleParams(r))
	return err
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, id string) error {
	q := `DELETE FROM roles WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

func (s *SQLRoleStore) GetRole(ctx context.Context, id string) (*accessctl.Role, error) {
	q := `SELECT id, name, description, parent_roles_json, permissions_json, is_system_role, is_active, created_at, updated_at FROM roles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("role not found: %s", id)
	}
	return scanRole(r)
}

func (s *SQLRoleStore) ListRoles(ctx context.Context) ([]*accessctl.Role, error) {
	q := `SELECT id, name, description, parent_roles_json, permissions_json, is_system_role, is_active, created_at, updated_at FROM roles`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*accessctl.Role, 0)
	for r.Next() {
		role, err := scanRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func scanRole(r rowScanner) (*accessctl.Role, error) {
	var id, name, desc, parentsJSON, permsJSON string
	var systemInt, activeInt int
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&id, &name, &desc, &parentsJSON, &permsJSON, &systemInt, &activeInt, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	role := &accessctl.Role{
		ID:           id,
		Name:         name,
		Description:  desc,
		IsSystemRole: systemInt != 0,
		IsActive:     activeInt != 0,
		CreatedAt:    scanTime(createdRaw),
		UpdatedAt:    scanTime(updatedRaw),
	}
	_ = json.Unmarshal([]byte(parentsJSON), &role.ParentRoles)
	_ = json.Unmarshal([]byte(permsJSON), &role.Permissions)
	return role, nil
}
