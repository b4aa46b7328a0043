package accessctl_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/orchidsec/accessctl"
	"github.com/orchidsec/accessctl/stores"
)

func newTestEngine(t *testing.T, opts ...accessctl.EngineOption) *accessctl.Engine {
	t.Helper()
	eng, err := accessctl.NewEngine(
		stores.NewMemoryPermissionStore(),
		stores.NewMemoryRoleStore(),
		stores.NewMemoryResourceStore(),
		stores.NewMemoryAssignmentStore(),
		opts...,
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func seedReader(t *testing.T, eng *accessctl.Engine, userID string) {
	t.Helper()
	ctx := context.Background()
	if err := eng.CreatePermission(ctx, &accessctl.Permission{Name: "read documents", Resource: "document", Action: "read"}); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := eng.CreateRole(ctx, &accessctl.Role{ID: "reader", Permissions: []string{"document.read"}}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := eng.AssignRole(ctx, userID, "reader"); err != nil {
		t.Fatalf("assign role: %v", err)
	}
}

func TestCheckAccessNoApplicablePermissions(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	result, err := eng.CheckAccess(ctx, &accessctl.AccessRequest{UserID: "nobody", Resource: "document", Action: "read"})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if result.Granted {
		t.Fatalf("expected denial for a user with no roles")
	}
	if result.Reason != accessctl.ReasonNoApplicable {
		t.Fatalf("expected reason %q, got %q", accessctl.ReasonNoApplicable, result.Reason)
	}
}

func TestCheckAccessAllowGranted(t *testing.T) {
	eng := newTestEngine(t)
	seedReader(t, eng, "u1")
	ctx := context.Background()

	result, err := eng.CheckAccess(ctx, &accessctl.AccessRequest{UserID: "u1", Resource: "document", Action: "read"})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !result.Granted {
		t.Fatalf("expected grant, got denial: %s", result.Reason)
	}
	if result.Reason != accessctl.ReasonAllowGranted {
		t.Fatalf("expected reason %q, got %q", accessctl.ReasonAllowGranted, result.Reason)
	}
	if len(result.AppliedPermissions) != 1 || result.AppliedPermissions[0].ID != "document.read" {
		t.Fatalf("expected the allow permission to be reported, got %+v", result.AppliedPermissions)
	}
}

func TestDenyOverridesAllow(t *testing.T) {
	eng := newTestEngine(t)
	seedReader(t, eng, "u1")
	ctx := context.Background()

	deny := &accessctl.Permission{ID: "document.read.blocked", Name: "block contractors", Resource: "document", Action: "read", Effect: accessctl.EffectDeny}
	if err := eng.CreatePermission(ctx, deny); err != nil {
		t.Fatalf("create deny permission: %v", err)
	}
	if err := eng.UpdateRole(ctx, &accessctl.Role{ID: "reader", IsActive: true, Permissions: []string{"document.read", "document.read.blocked"}}); err != nil {
		t.Fatalf("update role: %v", err)
	}

	result, err := eng.CheckAccess(ctx, &accessctl.AccessRequest{UserID: "u1", Resource: "document", Action: "read"})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if result.Granted {
		t.Fatalf("expected deny to override the allow")
	}
	if result.Reason != accessctl.ReasonExplicitDeny {
		t.Fatalf("expected reason %q, got %q", accessctl.ReasonExplicitDeny, result.Reason)
	}
	if len(result.DenyReasons) == 0 {
		t.Fatalf("expected deny reasons to be populated")
	}
}

func TestDenyWithFailedConditionDoesNotSuppressAllow(t *testing.T) {
	eng := newTestEngine(t)
	seedReader(t, eng, "u1")
	ctx := context.Background()

	deny := &accessctl.Permission{
		ID: "document.read.offhours", Name: "off-hours block", Resource: "document", Action: "read",
		Effect:     accessctl.EffectDeny,
		Conditions: []accessctl.Condition{{Field: "department", Operator: accessctl.OpEq, Value: "contractors"}},
	}
	if err := eng.CreatePermission(ctx, deny); err != nil {
		t.Fatalf("create deny permission: %v", err)
	}
	if err := eng.UpdateRole(ctx, &accessctl.Role{ID: "reader", IsActive: true, Permissions: []string{"document.read", "document.read.offhours"}}); err != nil {
		t.Fatalf("update role: %v", err)
	}

	actx := &accessctl.AccessContext{UserAttributes: map[string]any{"department": "engineering"}}
	result, err := eng.CheckAccess(ctx, &accessctl.AccessRequest{UserID: "u1", Resource: "document", Action: "read", Context: actx})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !result.Granted {
		t.Fatalf("deny with failed condition must not block the allow, got %s", result.Reason)
	}
	found := false
	for _, w := range result.Warnings {
		if w == "off-hours block conditions not met" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning for the filtered deny, got %v", result.Warnings)
	}
}

func TestNoMatchAfterConditionEvaluation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	perm := &accessctl.Permission{
		Name: "read own profile", Resource: "profile", Action: "read",
		Conditions: []accessctl.Condition{{Field: "userId", Operator: accessctl.OpEq, Value: "${user.id}"}},
	}
	if err := eng.CreatePermission(ctx, perm); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := eng.CreateRole(ctx, &accessctl.Role{ID: "member", Permissions: []string{"profile.read"}}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := eng.AssignRole(ctx, "u1", "member"); err != nil {
		t.Fatalf("assign role: %v", err)
	}

	// u1 reading u1's profile: condition holds.
	own := &accessctl.AccessContext{
		UserAttributes:     map[string]any{"id": "u1"},
		ResourceAttributes: map[string]any{"userId": "u1"},
	}
	result, err := eng.CheckAccess(ctx, &accessctl.AccessRequest{UserID: "u1", Resource: "profile", Action: "read", Context: own})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !result.Granted {
		t.Fatalf("expected self access to be granted, got %s", result.Reason)
	}

	// u1 reading u2's profile: the only applicable permission filters out.
	other := &accessctl.AccessContext{
		UserAttributes:     map[string]any{"id": "u1"},
		ResourceAttributes: map[string]any{"userId": "u2"},
	}
	result, err = eng.CheckAccess(ctx, &accessctl.AccessRequest{UserID: "u1", Resource: "profile", Action: "read", Context: other})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if result.Granted {
		t.Fatalf("expected denial when reading another user's profile")
	}
	if result.Reason != accessctl.ReasonNoMatch {
		t.Fatalf("expected reason %q, got %q", accessctl.ReasonNoMatch, result.Reason)
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a conditions-not-met warning")
	}
}

func TestWildcardResourcePermission(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.CreatePermission(ctx, &accessctl.Permission{ID: "any.read", Name: "read anything", Resource: "*", Action: "read"}); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := eng.CreateRole(ctx, &accessctl.Role{ID: "auditor", Permissions: []string{"any.read"}}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := eng.AssignRole(ctx, "aud", "auditor"); err != nil {
		t.Fatalf("assign role: %v", err)
	}

	for _, resource := range []string{"document", "invoice", "profile"} {
		result, err := eng.CheckAccess(ctx, &accessctl.AccessRequest{UserID: "aud", Resource: resource, Action: "read"})
		if err != nil {
			t.Fatalf("check access %s: %v", resource, err)
		}
		if !result.Granted {
			t.Fatalf("expected wildcard permission to cover %s", resource)
		}
	}
	result, _ := eng.CheckAccess(ctx, &accessctl.AccessRequest{UserID: "aud", Resource: "document", Action: "delete"})
	if result.Granted {
		t.Fatalf("wildcard resource must still respect the action")
	}
}

func TestWildcardRolePermissionList(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.CreatePermission(ctx, &accessctl.Permission{Resource: "document", Action: "delete"}); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := eng.CreateRole(ctx, &accessctl.Role{ID: "superadmin", Permissions: []string{"*"}}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := eng.AssignRole(ctx, "root", "superadmin"); err != nil {
		t.Fatalf("assign role: %v", err)
	}

	result, err := eng.CheckAccess(ctx, &accessctl.AccessRequest{UserID: "root", Resource: "document", Action: "delete"})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !result.Granted {
		t.Fatalf("expected wildcard role to grant every registered permission")
	}
}

func TestSystemRoleDeleteProtected(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.CreateRole(ctx, &accessctl.Role{ID: "root", IsSystemRole: true}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	ok, err := eng.DeleteRole(ctx, "root")
	if err != nil {
		t.Fatalf("delete role: %v", err)
	}
	if ok {
		t.Fatalf("expected system role delete to be refused")
	}
	if _, err := eng.GetRole(ctx, "root"); err != nil {
		t.Fatalf("system role must remain after refused delete: %v", err)
	}

	// Deleting a role that does not exist is a no-op success.
	ok, err = eng.DeleteRole(ctx, "ghost")
	if err != nil || !ok {
		t.Fatalf("expected no-op success for unknown role, got ok=%v err=%v", ok, err)
	}
}

func TestCreateRoleRejectsInheritanceCycle(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.CreateRole(ctx, &accessctl.Role{ID: "base"}); err != nil {
		t.Fatalf("create base: %v", err)
	}
	if err := eng.CreateRole(ctx, &accessctl.Role{ID: "child", ParentRoles: []string{"base"}}); err != nil {
		t.Fatalf("create child: %v", err)
	}
	err := eng.UpdateRole(ctx, &accessctl.Role{ID: "base", IsActive: true, ParentRoles: []string{"child"}})
	if err == nil {
		t.Fatalf("expected cycle-introducing update to be rejected")
	}
}

func TestRoleNameSlugified(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.CreateRole(ctx, &accessctl.Role{Name: "  Senior   Editor "}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if _, err := eng.GetRole(ctx, "senior-editor"); err != nil {
		t.Fatalf("expected slug id senior-editor: %v", err)
	}
}

func TestRevokeRoleRemovesAccess(t *testing.T) {
	eng := newTestEngine(t)
	seedReader(t, eng, "u1")
	ctx := context.Background()

	if !eng.CanRead(ctx, "u1", "document", nil) {
		t.Fatalf("expected read access before revoke")
	}
	if err := eng.RevokeRole(ctx, "u1", "reader"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if eng.CanRead(ctx, "u1", "document", nil) {
		t.Fatalf("expected access gone after revoke")
	}
	// Revoking again stays a no-op success.
	if err := eng.RevokeRole(ctx, "u1", "reader"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
}

func TestCheckBulkAccessPreservesOrder(t *testing.T) {
	eng := newTestEngine(t, accessctl.WithBatchWorkers(4))
	seedReader(t, eng, "u1")
	ctx := context.Background()

	reqs := make([]*accessctl.AccessRequest, 0, 40)
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			reqs = append(reqs, &accessctl.AccessRequest{UserID: "u1", Resource: "document", Action: "read"})
		} else {
			reqs = append(reqs, &accessctl.AccessRequest{UserID: fmt.Sprintf("stranger-%d", i), Resource: "document", Action: "read"})
		}
	}
	results := eng.CheckBulkAccess(ctx, reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	for i, r := range results {
		want := i%2 == 0
		if r.Granted != want {
			t.Fatalf("result %d: granted=%v, want %v", i, r.Granted, want)
		}
	}
}

func TestGetEffectivePermissions(t *testing.T) {
	eng := newTestEngine(t)
	seedReader(t, eng, "u1")
	ctx := context.Background()

	if err := eng.CreateResource(ctx, &accessctl.Resource{ID: "doc-1", Type: "document", OwnerID: "u1"}); err != nil {
		t.Fatalf("create resource: %v", err)
	}

	report, err := eng.GetEffectivePermissions(ctx, "u1")
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	if len(report.Permissions) != 1 || report.Permissions[0].ID != "document.read" {
		t.Fatalf("unexpected permissions: %+v", report.Permissions)
	}
	if len(report.Roles) != 1 || report.Roles[0].ID != "reader" {
		t.Fatalf("unexpected roles: %+v", report.Roles)
	}
	if len(report.Resources) != 1 || report.Resources[0].ID != "doc-1" {
		t.Fatalf("unexpected resources: %+v", report.Resources)
	}
}

func TestAuditSinkReceivesDecisions(t *testing.T) {
	sink := stores.NewMemoryAuditSink()
	eng := newTestEngine(t, accessctl.WithAuditSink(sink))
	seedReader(t, eng, "u1")
	ctx := context.Background()

	if _, err := eng.CheckAccess(ctx, &accessctl.AccessRequest{UserID: "u1", Resource: "document", Action: "read"}); err != nil {
		t.Fatalf("check access: %v", err)
	}
	if _, err := eng.CheckAccess(ctx, &accessctl.AccessRequest{UserID: "u2", Resource: "document", Action: "read"}); err != nil {
		t.Fatalf("check access: %v", err)
	}
	eng.Close()

	entries, err := sink.GetAccessLog(ctx, accessctl.AuditFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("get access log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry for u1, got %d", len(entries))
	}
	if !entries[0].Result.Granted {
		t.Fatalf("expected recorded grant for u1")
	}
}

func TestRoleCacheInvalidatedOnMutation(t *testing.T) {
	eng := newTestEngine(t, accessctl.WithRoleCache(1000, 10000, 64))
	seedReader(t, eng, "u1")
	ctx := context.Background()

	if !eng.CanRead(ctx, "u1", "document", nil) {
		t.Fatalf("expected initial read access")
	}
	// Ristretto admits asynchronously; give the cached entry a chance to land
	// so the mutation below actually exercises invalidation.
	time.Sleep(20 * time.Millisecond)
	eng.CanRead(ctx, "u1", "document", nil)

	if err := eng.UpdateRole(ctx, &accessctl.Role{ID: "reader", IsActive: true, Permissions: []string{}}); err != nil {
		t.Fatalf("update role: %v", err)
	}
	if eng.CanRead(ctx, "u1", "document", nil) {
		t.Fatalf("expected stripped role to lose access immediately")
	}
}
