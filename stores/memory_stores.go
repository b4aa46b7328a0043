package stores

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchidsec/accessctl"
)

// MemoryPermissionStore keeps the permission registry in memory. Create is an
// upsert so re-applying config is idempotent.
type MemoryPermissionStore struct {
	mu    sync.RWMutex
	perms map[string]*accessctl.Permission
}

func NewMemoryPermissionStore() *MemoryPermissionStore {
	return &MemoryPermissionStore{perms: make(map[string]*accessctl.Permission)}
}

func (s *MemoryPermissionStore) CreatePermission(ctx context.Context, p *accessctl.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[p.ID] = p
	return nil
}

func (s *MemoryPermissionStore) UpdatePermission(ctx context.Context, p *accessctl.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[p.ID]; !ok {
		return fmt.Errorf("permission not found: %s", p.ID)
	}
	s.perms[p.ID] = p
	return nil
}

func (s *MemoryPermissionStore) DeletePermission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.perms, id)
	return nil
}

func (s *MemoryPermissionStore) GetPermission(ctx context.Context, id string) (*accessctl.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[id]
	if !ok {
		return nil, fmt.Errorf("permission not found: %s", id)
	}
	return p, nil
}

func (s *MemoryPermissionStore) ListPermissions(ctx context.Context) ([]*accessctl.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*accessctl.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		result = append(result, p)
	}
	return result, nil
}

// MemoryRoleStore keeps the role registry in memory.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]*accessctl.Role
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]*accessctl.Role)}
}

func (s *MemoryRoleStore) CreateRole(ctx context.Context, r *accessctl.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	s.roles[r.ID] = r
	return nil
}

func (s *MemoryRoleStore) UpdateRole(ctx context.Context, r *accessctl.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.roles[r.ID]
	if !ok {
		return fmt.Errorf("role not found: %s", r.ID)
	}
	r.CreatedAt = old.CreatedAt
	r.UpdatedAt = time.Now()
	s.roles[r.ID] = r
	return nil
}

func (s *MemoryRoleStore) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, id)
	return nil
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, id string) (*accessctl.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("role not found: %s", id)
	}
	return r, nil
}

func (s *MemoryRoleStore) ListRoles(ctx context.Context) ([]*accessctl.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*accessctl.Role, 0, len(s.roles))
	for _, r := range s.roles {
		result = append(result, r)
	}
	return result, nil
}

// MemoryResourceStore keeps resource descriptors in memory. Reads return
// copies so callers cannot mutate the registry through a descriptor.
type MemoryResourceStore struct {
	mu        sync.RWMutex
	resources map[string]*accessctl.Resource
}

func NewMemoryResourceStore() *MemoryResourceStore {
	return &MemoryResourceStore{resources: make(map[string]*accessctl.Resource)}
}

func (s *MemoryResourceStore) CreateResource(ctx context.Context, r *accessctl.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.ID] = r
	return nil
}

func (s *MemoryResourceStore) UpdateResource(ctx context.Context, r *accessctl.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[r.ID]; !ok {
		return fmt.Errorf("resource not found: %s", r.ID)
	}
	s.resources[r.ID] = r
	return nil
}

func (s *MemoryResourceStore) DeleteResource(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, id)
	return nil
}

func (s *MemoryResourceStore) GetResource(ctx context.Context, id string) (*accessctl.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource not found: %s", id)
	}
	return cloneResource(r), nil
}

func (s *MemoryResourceStore) ListResources(ctx context.Context) ([]*accessctl.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*accessctl.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		result = append(result, cloneResource(r))
	}
	return result, nil
}

// MemoryAssignmentStore maps users to role ids. Reads serve from an immutable
// snapshot swapped atomically; the snapshot is rebuilt under the write lock
// before a mutation returns, so a caller never observes its own write missing.
type MemoryAssignmentStore struct {
	mu       sync.RWMutex
	store    map[string]map[string]bool
	snapshot atomic.Value
}

func NewMemoryAssignmentStore() *MemoryAssignmentStore {
	s := &MemoryAssignmentStore{store: make(map[string]map[string]bool)}
	s.snapshot.Store(map[string][]string{})
	return s
}

func (s *MemoryAssignmentStore) rebuildSnapshotLocked() {
	copyMap := make(map[string][]string, len(s.store))
	for userID, roles := range s.store {
		arr := make([]string, 0, len(roles))
		for roleID := range roles {
			arr = append(arr, roleID)
		}
		copyMap[userID] = arr
	}
	s.snapshot.Store(copyMap)
}

func (s *MemoryAssignmentStore) AssignRole(ctx context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.store[userID]; !ok {
		s.store[userID] = make(map[string]bool)
	}
	s.store[userID][roleID] = true
	s.rebuildSnapshotLocked()
	return nil
}

func (s *MemoryAssignmentStore) RevokeRole(ctx context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.store[userID]; !ok {
		return nil
	}
	delete(s.store[userID], roleID)
	s.rebuildSnapshotLocked()
	return nil
}

func (s *MemoryAssignmentStore) ListRoles(ctx context.Context, userID string) ([]string, error) {
	snap := s.snapshot.Load().(map[string][]string)
	roles, ok := snap[userID]
	if !ok {
		return []string{}, nil
	}
	out := make([]string, len(roles))
	copy(out, roles)
	return out, nil
}

// MemoryAuditSink retains decision records in memory for inspection.
type MemoryAuditSink struct {
	mu      sync.RWMutex
	entries []*accessctl.AuditEntry
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{entries: make([]*accessctl.AuditEntry, 0)}
}

func (s *MemoryAuditSink) LogResult(ctx context.Context, entry *accessctl.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditSink) GetAccessLog(ctx context.Context, filter accessctl.AuditFilter) ([]*accessctl.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*accessctl.AuditEntry, 0)
	for _, entry := range s.entries {
		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}
		if filter.Resource != "" && entry.Resource != filter.Resource {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}
