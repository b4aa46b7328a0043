package accessctl

import (
	"context"
	"fmt"
	"testing"
)

// Map-backed fixture stores for exercising resolution without the stores package.
type fakeRoleStore struct {
	roles map[string]*Role
}

func (s *fakeRoleStore) CreateRole(ctx context.Context, r *Role) error {
	s.roles[r.ID] = r
	return nil
}

func (s *fakeRoleStore) UpdateRole(ctx context.Context, r *Role) error {
	s.roles[r.ID] = r
	return nil
}

func (s *fakeRoleStore) DeleteRole(ctx context.Context, id string) error {
	delete(s.roles, id)
	return nil
}

func (s *fakeRoleStore) GetRole(ctx context.Context, id string) (*Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("role not found: %s", id)
	}
	return r, nil
}

func (s *fakeRoleStore) ListRoles(ctx context.Context) ([]*Role, error) {
	out := make([]*Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	return out, nil
}

type fakePermStore struct {
	perms map[string]*Permission
}

func (s *fakePermStore) CreatePermission(ctx context.Context, p *Permission) error {
	s.perms[p.ID] = p
	return nil
}

func (s *fakePermStore) UpdatePermission(ctx context.Context, p *Permission) error {
	s.perms[p.ID] = p
	return nil
}

func (s *fakePermStore) DeletePermission(ctx context.Context, id string) error {
	delete(s.perms, id)
	return nil
}

func (s *fakePermStore) GetPermission(ctx context.Context, id string) (*Permission, error) {
	p, ok := s.perms[id]
	if !ok {
		return nil, fmt.Errorf("permission not found: %s", id)
	}
	return p, nil
}

func (s *fakePermStore) ListPermissions(ctx context.Context) ([]*Permission, error) {
	out := make([]*Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	return out, nil
}

func hierarchyFixture(t *testing.T) (*fakeRoleStore, *fakePermStore) {
	t.Helper()
	perms := &fakePermStore{perms: map[string]*Permission{
		"doc.read":   {ID: "doc.read", Resource: "doc", Action: "read", Effect: EffectAllow},
		"doc.update": {ID: "doc.update", Resource: "doc", Action: "update", Effect: EffectAllow},
		"doc.delete": {ID: "doc.delete", Resource: "doc", Action: "delete", Effect: EffectAllow},
	}}
	roles := &fakeRoleStore{roles: map[string]*Role{
		"viewer": {ID: "viewer", IsActive: true, Permissions: []string{"doc.read"}},
		"editor": {ID: "editor", IsActive: true, Permissions: []string{"doc.update"}, ParentRoles: []string{"viewer"}},
		"admin":  {ID: "admin", IsActive: true, Permissions: []string{"doc.delete"}, ParentRoles: []string{"editor"}},
	}}
	return roles, perms
}

func permIDs(perms []*Permission) map[string]bool {
	out := make(map[string]bool, len(perms))
	for _, p := range perms {
		out[p.ID] = true
	}
	return out
}

func TestHierarchyTransitiveInheritance(t *testing.T) {
	roles, perms := hierarchyFixture(t)
	h := NewHierarchyResolver(roles, perms, nil)

	got, err := h.ResolvePermissions(context.Background(), "admin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	ids := permIDs(got)
	for _, want := range []string{"doc.read", "doc.update", "doc.delete"} {
		if !ids[want] {
			t.Fatalf("expected %s in admin's flattened set, got %v", want, ids)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 permissions, got %d", len(got))
	}
}

func TestHierarchyCycleTerminates(t *testing.T) {
	roles, perms := hierarchyFixture(t)
	// a <-> b cycle; each contributes one permission.
	roles.roles["a"] = &Role{ID: "a", IsActive: true, Permissions: []string{"doc.read"}, ParentRoles: []string{"b"}}
	roles.roles["b"] = &Role{ID: "b", IsActive: true, Permissions: []string{"doc.update"}, ParentRoles: []string{"a"}}

	h := NewHierarchyResolver(roles, perms, nil)
	got, err := h.ResolvePermissions(context.Background(), "a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	ids := permIDs(got)
	if !ids["doc.read"] || !ids["doc.update"] {
		t.Fatalf("expected permissions from both cycle members, got %v", ids)
	}
}

func TestHierarchyWildcardShortCircuits(t *testing.T) {
	roles, perms := hierarchyFixture(t)
	roles.roles["super"] = &Role{ID: "super", IsActive: true, Permissions: []string{Wildcard}}

	h := NewHierarchyResolver(roles, perms, nil)
	got, err := h.ResolvePermissions(context.Background(), "super")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != len(perms.perms) {
		t.Fatalf("expected full registry (%d), got %d", len(perms.perms), len(got))
	}
}

func TestHierarchyInactiveRoleContributesNothing(t *testing.T) {
	roles, perms := hierarchyFixture(t)
	roles.roles["viewer"].IsActive = false

	h := NewHierarchyResolver(roles, perms, nil)
	got, err := h.ResolvePermissions(context.Background(), "editor")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	ids := permIDs(got)
	if ids["doc.read"] {
		t.Fatalf("inactive parent's permissions must not be inherited")
	}
	if !ids["doc.update"] {
		t.Fatalf("expected the role's own permission to remain")
	}
}

func TestHierarchyUnknownRoleResolvesEmpty(t *testing.T) {
	roles, perms := hierarchyFixture(t)
	h := NewHierarchyResolver(roles, perms, nil)
	got, err := h.ResolvePermissions(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty set for unknown role, got %d", len(got))
	}
}

func TestHierarchyMissingParentTolerated(t *testing.T) {
	roles, perms := hierarchyFixture(t)
	roles.roles["orphaned"] = &Role{ID: "orphaned", IsActive: true, Permissions: []string{"doc.read"}, ParentRoles: []string{"gone"}}

	h := NewHierarchyResolver(roles, perms, nil)
	got, err := h.ResolvePermissions(context.Background(), "orphaned")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !permIDs(got)["doc.read"] {
		t.Fatalf("expected direct permission despite a dangling parent id")
	}
}

func TestWouldCreateCycle(t *testing.T) {
	roles, perms := hierarchyFixture(t)
	h := NewHierarchyResolver(roles, perms, nil)
	ctx := context.Background()

	// viewer <- editor <- admin; making viewer inherit from admin closes the loop.
	if !h.wouldCreateCycle(ctx, "viewer", []string{"admin"}) {
		t.Fatalf("expected cycle detection for viewer -> admin")
	}
	if h.wouldCreateCycle(ctx, "viewer", []string{}) {
		t.Fatalf("no parents cannot form a cycle")
	}
	if h.wouldCreateCycle(ctx, "admin", []string{"editor"}) {
		t.Fatalf("existing acyclic chain must not be flagged")
	}
	if !h.wouldCreateCycle(ctx, "solo", []string{"solo"}) {
		t.Fatalf("self-parent is a cycle")
	}
}
