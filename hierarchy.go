package accessctl

import (
	"context"

	"github.com/dgraph-io/ristretto"

	"github.com/orchidsec/accessctl/logger"
)

// HierarchyResolver flattens a role's inheritance graph into the effective
// permission set. Traversal is depth-first over parent roles with a visited
// set, so cyclic graphs terminate without error: an already-visited role is
// simply not re-expanded, while every permission reachable along an acyclic
// path is still collected.
type HierarchyResolver struct {
	roles RoleStore
	perms PermissionStore
	cache *ristretto.Cache
	log   logger.Logger
}

func NewHierarchyResolver(roles RoleStore, perms PermissionStore, log logger.Logger) *HierarchyResolver {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &HierarchyResolver{roles: roles, perms: perms, log: log}
}

// SetCache installs a ristretto cache for resolved permission sets. The engine
// clears it on every registry mutation.
func (h *HierarchyResolver) SetCache(cache *ristretto.Cache) {
	h.cache = cache
}

// Invalidate drops all cached resolutions.
func (h *HierarchyResolver) Invalidate() {
	if h.cache != nil {
		h.cache.Clear()
	}
}

// ResolvePermissions returns the de-duplicated permissions reachable from
// roleID through its inheritance chain. A role carrying the wildcard
// permission short-circuits to the full registry contents. Unknown role ids
// resolve to an empty set rather than an error.
func (h *HierarchyResolver) ResolvePermissions(ctx context.Context, roleID string) ([]*Permission, error) {
	if h.cache != nil {
		if cached, ok := h.cache.Get(roleID); ok {
			if perms, ok2 := cached.([]*Permission); ok2 {
				return perms, nil
			}
		}
	}

	collected := make(map[string]*Permission)
	visited := make(map[string]bool)
	stack := []string{roleID}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true

		role, err := h.roles.GetRole(ctx, id)
		if err != nil || role == nil {
			// Missing parents are tolerated; the rest of the graph still counts.
			continue
		}
		if !role.IsActive {
			continue
		}

		if role.HasWildcard() {
			all, err := h.perms.ListPermissions(ctx)
			if err != nil {
				return nil, err
			}
			h.store(roleID, all)
			return all, nil
		}

		for _, permID := range role.Permissions {
			perm, err := h.perms.GetPermission(ctx, permID)
			if err != nil || perm == nil {
				h.log.Debug("role references unknown permission", "role", id, "permission", permID)
				continue
			}
			collected[perm.ID] = perm
		}

		stack = append(stack, role.ParentRoles...)
	}

	out := make([]*Permission, 0, len(collected))
	for _, p := range collected {
		out = append(out, p)
	}
	h.store(roleID, out)
	return out, nil
}

func (h *HierarchyResolver) store(roleID string, perms []*Permission) {
	if h.cache != nil {
		h.cache.Set(roleID, perms, int64(len(perms)+1))
	}
}

// wouldCreateCycle reports whether setting parentRoles on roleID would make
// roleID reachable from one of its own parents. Used by the engine to reject
// cycle-introducing writes; read-time traversal stays cycle-safe regardless,
// since stores can be populated out of band.
func (h *HierarchyResolver) wouldCreateCycle(ctx context.Context, roleID string, parentRoles []string) bool {
	visited := make(map[string]bool)
	stack := append([]string(nil), parentRoles...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == roleID {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		role, err := h.roles.GetRole(ctx, id)
		if err != nil || role == nil {
			continue
		}
		stack = append(stack, role.ParentRoles...)
	}
	return false
}
