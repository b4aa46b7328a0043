package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/orchidsec/accessctl"
)

// SQLResourceStore persists resource descriptors in SQL (squealx).
type SQLResourceStore struct {
	db *squealx.DB
}

func NewSQLResourceStore(db *squealx.DB) *SQLResourceStore {
	return &SQLResourceStore{db: db}
}

func (s *SQLResourceStore) resourceParams(r *accessctl.Resource) map[string]any {
	attrs, _ := json.Marshal(r.Attributes)
	meta, _ := json.Marshal(r.Metadata)
	return map[string]any{
		"id":              r.ID,
		"name":            r.Name,
		"type":            r.Type,
		"parent_resource": r.ParentResource,
		"attributes_json": string(attrs),
		"owner_id":        r.OwnerID,
		"organization_id": r.OrganizationID,
		"metadata_json":   string(meta),
	}
}

func (s *SQLResourceStore) CreateResource(ctx context.Context, r *accessctl.Resource) error {
	q := `INSERT INTO resources(id, name, type, parent_resource, attributes_json, owner_id, organization_id, metadata_json)
VALUES(:id, :name, :type, :parent_resource, :attributes_json, :owner_id, :organization_id, :metadata_json)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, parent_resource=excluded.parent_resource, attributes_json=excluded.attributes_json, owner_id=excluded.owner_id, organization_id=excluded.organization_id, metadata_json=excluded.metadata_json`
	_, err := s.db.NamedExecContext(ctx, q, s.resourceParams(r))
	return err
}

func (s *SQLResourceStore) UpdateResource(ctx context.Context, r *accessctl.Resource) error {
	q := `UPDATE resources SET name=:name, type=:type, parent_resource=:parent_resource, attributes_json=:attributes_json, owner_id=:owner_id, organization_id=:organization_id, metadata_json=:metadata_json WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, s.resourceParams(r))
	return err
}

func (s *SQLResourceStore) DeleteResource(ctx context.Context, id string) error {
	q := `DELETE FROM resources WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

func (s *SQLResourceStore) GetResource(ctx context.Context, id string) (*accessctl.Resource, error) {
	q := `SELECT id, name, type, parent_resource, attributes_json, owner_id, organization_id, metadata_json FROM resources WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("resource not found: %s", id)
	}
	return scanResource(r)
}

func (s *SQLResourceStore) ListResources(ctx context.Context) ([]*accessctl.Resource, error) {
	q := `SELECT id, name, type, parent_resource, attributes_json, owner_id, organization_id, metadata_json FROM resources`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*accessctl.Resource, 0)
	for r.Next() {
		res, err := scanResource(r)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func scanResource(r rowScanner) (*accessctl.Resource, error) {
	var id, name, typ, parent, attrsJSON, owner, org, metaJSON string
	if err := r.Scan(&id, &name, &typ, &parent, &attrsJSON, &owner, &org, &metaJSON); err != nil {
		return nil, err
	}
	res := &accessctl.Resource{
		ID:             id,
		Name:           name,
		Type:           typ,
		ParentResource: parent,
		OwnerID:        owner,
		OrganizationID: org,
	}
	_ = json.Unmarshal([]byte(attrsJSON), &res.Attributes)
	_ = json.Unmarshal([]byte(metaJSON), &res.Metadata)
	return res, nil
}
