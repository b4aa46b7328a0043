package stores

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/orchidsec/accessctl"
)

func TestMemoryAssignmentStoreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAssignmentStore()

	if err := s.AssignRole(ctx, "u1", "reader"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := s.AssignRole(ctx, "u1", "reader"); err != nil {
		t.Fatalf("repeat assign: %v", err)
	}
	if err := s.AssignRole(ctx, "u1", "editor"); err != nil {
		t.Fatalf("assign second role: %v", err)
	}

	roles, err := s.ListRoles(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sort.Strings(roles)
	if len(roles) != 2 || roles[0] != "editor" || roles[1] != "reader" {
		t.Fatalf("unexpected roles: %v", roles)
	}

	if err := s.RevokeRole(ctx, "u1", "reader"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := s.RevokeRole(ctx, "u1", "reader"); err != nil {
		t.Fatalf("repeat revoke must be a no-op: %v", err)
	}
	if err := s.RevokeRole(ctx, "unknown", "reader"); err != nil {
		t.Fatalf("revoke for unknown user must be a no-op: %v", err)
	}

	roles, _ = s.ListRoles(ctx, "u1")
	if len(roles) != 1 || roles[0] != "editor" {
		t.Fatalf("unexpected roles after revoke: %v", roles)
	}

	roles, err = s.ListRoles(ctx, "nobody")
	if err != nil {
		t.Fatalf("list unknown user: %v", err)
	}
	if len(roles) != 0 {
		t.Fatalf("expected empty role list for unknown user, got %v", roles)
	}
}

func TestMemoryAssignmentStoreReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAssignmentStore()

	// The snapshot is rebuilt before AssignRole returns, so the write must be
	// visible immediately without waiting on any background refresh.
	for i := 0; i < 100; i++ {
		if err := s.AssignRole(ctx, "u1", "role"); err != nil {
			t.Fatalf("assign: %v", err)
		}
		roles, _ := s.ListRoles(ctx, "u1")
		if len(roles) != 1 {
			t.Fatalf("iteration %d: write not visible, got %v", i, roles)
		}
		if err := s.RevokeRole(ctx, "u1", "role"); err != nil {
			t.Fatalf("revoke: %v", err)
		}
		roles, _ = s.ListRoles(ctx, "u1")
		if len(roles) != 0 {
			t.Fatalf("iteration %d: revoke not visible, got %v", i, roles)
		}
	}
}

func TestMemoryPermissionStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryPermissionStore()

	p := &accessctl.Permission{ID: "document.read", Resource: "document", Action: "read", Effect: accessctl.EffectAllow}
	if err := s.CreatePermission(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetPermission(ctx, "document.read")
	if err != nil || got.Resource != "document" {
		t.Fatalf("get: %v %+v", err, got)
	}
	if err := s.UpdatePermission(ctx, &accessctl.Permission{ID: "document.read", Resource: "document", Action: "read", Effect: accessctl.EffectDeny}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = s.GetPermission(ctx, "document.read")
	if got.Effect != accessctl.EffectDeny {
		t.Fatalf("update not applied: %+v", got)
	}
	if err := s.UpdatePermission(ctx, &accessctl.Permission{ID: "missing", Resource: "x", Action: "y"}); err == nil {
		t.Fatalf("expected update of missing permission to fail")
	}
	if err := s.DeletePermission(ctx, "document.read"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetPermission(ctx, "document.read"); err == nil {
		t.Fatalf("expected not-found after delete")
	}
}

func TestMemoryAuditSinkFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditSink()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, userID := range []string{"u1", "u2", "u1", "u1"} {
		entry := &accessctl.AuditEntry{
			ID:        string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			UserID:    userID,
			Resource:  "document",
			Action:    "read",
			Result:    &accessctl.AccessResult{Granted: i%2 == 0},
		}
		if err := s.LogResult(ctx, entry); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	got, err := s.GetAccessLog(ctx, accessctl.AuditFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("filter by user: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries for u1, got %d", len(got))
	}

	got, _ = s.GetAccessLog(ctx, accessctl.AuditFilter{UserID: "u1", Limit: 2})
	if len(got) != 2 {
		t.Fatalf("expected limit to cap results, got %d", len(got))
	}

	got, _ = s.GetAccessLog(ctx, accessctl.AuditFilter{StartTime: base.Add(90 * time.Minute)})
	if len(got) != 2 {
		t.Fatalf("expected 2 entries after start time, got %d", len(got))
	}

	got, _ = s.GetAccessLog(ctx, accessctl.AuditFilter{Resource: "invoice"})
	if len(got) != 0 {
		t.Fatalf("expected no entries for other resource, got %d", len(got))
	}
}
