package accessctl

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/orchidsec/accessctl/logger"
)

// Canonical actions used by the convenience predicates.
const (
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionCreate = "create"
	ActionDelete = "delete"
)

// ============================================================================
// ENGINE
// ============================================================================

// Engine answers access requests by combining role-derived permissions (RBAC)
// with attribute conditions (ABAC). Evaluation is a pure function of the
// registry contents and the request: the engine holds no per-request state and
// performs no I/O beyond registry reads, so one instance serves concurrent
// callers.
type Engine struct {
	perms       PermissionStore
	roles       RoleStore
	resources   ResourceStore
	assignments AssignmentStore

	hierarchy *HierarchyResolver
	evaluator *ConditionEvaluator

	log          logger.Logger
	traceIDFunc  logger.TraceIDFunc
	batchWorkers int
	roleCache    *ristretto.Cache

	auditSink AuditSink
	auditCh   chan AuditEntry
	auditWG   sync.WaitGroup
	closeOnce sync.Once
}

// EngineOption mutates the engine during construction.
type EngineOption func(e *Engine) error

func NewEngine(perms PermissionStore, roles RoleStore, resources ResourceStore, assignments AssignmentStore, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		perms:        perms,
		roles:        roles,
		resources:    resources,
		assignments:  assignments,
		log:          logger.NewNullLogger(),
		batchWorkers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.hierarchy = NewHierarchyResolver(roles, perms, e.log)
	if e.roleCache != nil {
		e.hierarchy.SetCache(e.roleCache)
	}
	e.evaluator = NewConditionEvaluator(e.log)
	if e.auditSink != nil {
		e.startAuditWorker()
	}
	return e, nil
}

// Close drains and stops the audit worker, if one is running.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.auditCh != nil {
			close(e.auditCh)
			e.auditWG.Wait()
		}
	})
}

// Hierarchy exposes the resolver for callers that need raw flattened
// permission sets (e.g. admin UIs).
func (e *Engine) Hierarchy() *HierarchyResolver {
	return e.hierarchy
}

// ============================================================================
// DECISION PROCEDURE
// ============================================================================

// CheckAccess decides whether the request's user may perform the action on the
// resource. Denial is a normal outcome carried in the result; the error is
// non-nil only for internal faults (registry failures), and even then the
// result is a denial with a distinguishable reason so the caller never fails open.
func (e *Engine) CheckAccess(ctx context.Context, req *AccessRequest) (*AccessResult, error) {
	if req == nil {
		return deny(fmt.Sprintf(reasonInternalErrorFmt, "nil request")), fmt.Errorf("nil access request")
	}

	userPerms, err := e.resolveUserPermissions(ctx, req.UserID)
	if err != nil {
		result := deny(fmt.Sprintf(reasonInternalErrorFmt, "resolving user permissions"))
		e.finish(ctx, req, result)
		return result, fmt.Errorf("resolve permissions for user %s: %w", req.UserID, err)
	}

	applicable := MatchPermissions(userPerms, req.Resource, req.Action)
	if len(applicable) == 0 {
		result := deny(ReasonNoApplicable)
		e.finish(ctx, req, result)
		return result, nil
	}

	// Conditions decide which permissions are in play; only the survivors are
	// partitioned into allow/deny. A deny whose condition fails must not
	// suppress an otherwise valid allow, so this order is load-bearing.
	var (
		allowSet    []*Permission
		denySet     []*Permission
		denyReasons []string
		warnings    []string
	)
	for _, perm := range applicable {
		if len(perm.Conditions) > 0 && !e.evaluator.Evaluate(perm.Conditions, req.Context) {
			warnings = append(warnings, permName(perm)+" conditions not met")
			continue
		}
		if perm.Effect == EffectDeny {
			denySet = append(denySet, perm)
			denyReasons = append(denyReasons, fmt.Sprintf("%s denies %s on %s", permName(perm), req.Action, req.Resource))
		} else {
			allowSet = append(allowSet, perm)
		}
	}

	var result *AccessResult
	switch {
	case len(denySet) > 0:
		// Deny always wins, no matter how many allows also matched.
		result = &AccessResult{
			Reason:             ReasonExplicitDeny,
			AppliedPermissions: denySet,
			DenyReasons:        denyReasons,
			Warnings:           warnings,
		}
	case len(allowSet) > 0:
		result = &AccessResult{
			Granted:            true,
			Reason:             ReasonAllowGranted,
			AppliedPermissions: allowSet,
			Warnings:           warnings,
		}
	default:
		result = &AccessResult{
			Reason:      ReasonNoMatch,
			DenyReasons: []string{denyReasonNoMatch},
			Warnings:    warnings,
		}
	}

	e.finish(ctx, req, result)
	return result, nil
}

// resolveUserPermissions unions the flattened permission sets of every role
// assigned to the user, de-duplicated by permission id. Users with no
// assignments resolve to an empty set, not an error.
func (e *Engine) resolveUserPermissions(ctx context.Context, userID string) ([]*Permission, error) {
	roleIDs, err := e.assignments.ListRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]*Permission)
	for _, roleID := range roleIDs {
		perms, err := e.hierarchy.ResolvePermissions(ctx, roleID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			merged[p.ID] = p
		}
	}
	out := make([]*Permission, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	return out, nil
}

// MatchPermissions filters permissions to those applying to the requested
// resource/action pair, honoring wildcards. Pure filter, no side effects.
func MatchPermissions(perms []*Permission, resource, action string) []*Permission {
	out := make([]*Permission, 0, len(perms))
	for _, p := range perms {
		if p.Matches(resource, action) {
			out = append(out, p)
		}
	}
	return out
}

func deny(reason string) *AccessResult {
	return &AccessResult{Reason: reason}
}

func permName(p *Permission) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// finish logs the decision and forwards it to the audit side channel.
func (e *Engine) finish(ctx context.Context, req *AccessRequest, result *AccessResult) {
	traceID := ""
	if e.traceIDFunc != nil {
		traceID = e.traceIDFunc()
	}
	e.log.Info("access decision",
		"user", req.UserID,
		"resource", req.Resource,
		"action", req.Action,
		"granted", result.Granted,
		"reason", result.Reason,
		"trace_id", traceID,
	)
	if e.auditCh == nil {
		return
	}
	entry := AuditEntry{
		ID:        strconv.FormatInt(time.Now().UnixNano(), 10),
		Timestamp: time.Now(),
		UserID:    req.UserID,
		Resource:  req.Resource,
		Action:    req.Action,
		Result:    result,
		TraceID:   traceID,
	}
	select {
	case e.auditCh <- entry:
	default:
		// Never block a decision on the audit sink; drop when the buffer is full.
	}
}

func (e *Engine) startAuditWorker() {
	e.auditCh = make(chan AuditEntry, 1024)
	e.auditWG.Add(1)
	go func() {
		defer e.auditWG.Done()
		bg := context.Background()
		for entry := range e.auditCh {
			if err := e.auditSink.LogResult(bg, &entry); err != nil {
				e.log.Error("audit sink write failed", "error", err.Error())
			}
		}
	}()
}

// ============================================================================
// CONVENIENCE SURFACE
// ============================================================================

func (e *Engine) check(ctx context.Context, userID, resource, action string, actx *AccessContext) bool {
	result, _ := e.CheckAccess(ctx, &AccessRequest{UserID: userID, Resource: resource, Action: action, Context: actx})
	return result.Granted
}

func (e *Engine) CanRead(ctx context.Context, userID, resource string, actx *AccessContext) bool {
	return e.check(ctx, userID, resource, ActionRead, actx)
}

func (e *Engine) CanWrite(ctx context.Context, userID, resource string, actx *AccessContext) bool {
	return e.check(ctx, userID, resource, ActionUpdate, actx)
}

func (e *Engine) CanCreate(ctx context.Context, userID, resource string, actx *AccessContext) bool {
	return e.check(ctx, userID, resource, ActionCreate, actx)
}

func (e *Engine) CanDelete(ctx context.Context, userID, resource string, actx *AccessContext) bool {
	return e.check(ctx, userID, resource, ActionDelete, actx)
}

// CheckBulkAccess evaluates each request independently and returns results in
// request order. Requests share no mutable state, so the batch fans out across
// a bounded worker pool.
func (e *Engine) CheckBulkAccess(ctx context.Context, reqs []*AccessRequest) []*AccessResult {
	results := make([]*AccessResult, len(reqs))
	workers := e.batchWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(reqs) {
		workers = len(reqs)
	}

	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], _ = e.CheckAccess(ctx, reqs[i])
			}
		}()
	}
	for i := range reqs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// EffectiveAccess is the report returned by GetEffectivePermissions.
type EffectiveAccess struct {
	Permissions []*Permission `json:"permissions"`
	Roles       []*Role       `json:"roles"`
	Resources   []*Resource   `json:"resources"`
}

// GetEffectivePermissions reports everything the user can currently reach:
// the flattened permission set, the assigned role records, and the resource
// descriptors those permissions reference.
func (e *Engine) GetEffectivePermissions(ctx context.Context, userID string) (*EffectiveAccess, error) {
	perms, err := e.resolveUserPermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions for user %s: %w", userID, err)
	}

	roleIDs, err := e.assignments.ListRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles for user %s: %w", userID, err)
	}
	roles := make([]*Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		if role, err := e.roles.GetRole(ctx, id); err == nil && role != nil {
			roles = append(roles, role)
		}
	}

	wantTypes := make(map[string]bool, len(perms))
	for _, p := range perms {
		wantTypes[p.Resource] = true
	}
	resources := make([]*Resource, 0)
	if all, err := e.resources.ListResources(ctx); err == nil {
		for _, res := range all {
			if wantTypes[Wildcard] || wantTypes[res.Type] || wantTypes[res.ID] {
				resources = append(resources, res)
			}
		}
	}

	return &EffectiveAccess{Permissions: perms, Roles: roles, Resources: resources}, nil
}

// ============================================================================
// PERMISSION OPERATIONS
// ============================================================================

func (e *Engine) CreatePermission(ctx context.Context, p *Permission) error {
	if err := validatePermission(p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = DeriveID(p.Resource, p.Action)
	}
	if p.Effect == "" {
		p.Effect = EffectAllow
	}
	if err := e.perms.CreatePermission(ctx, p); err != nil {
		return err
	}
	e.hierarchy.Invalidate()
	return nil
}

func (e *Engine) UpdatePermission(ctx context.Context, p *Permission) error {
	if err := validatePermission(p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = DeriveID(p.Resource, p.Action)
	}
	if err := e.perms.UpdatePermission(ctx, p); err != nil {
		return err
	}
	e.hierarchy.Invalidate()
	return nil
}

func (e *Engine) DeletePermission(ctx context.Context, id string) error {
	if err := e.perms.DeletePermission(ctx, id); err != nil {
		return err
	}
	e.hierarchy.Invalidate()
	return nil
}

func (e *Engine) GetPermission(ctx context.Context, id string) (*Permission, error) {
	return e.perms.GetPermission(ctx, id)
}

func (e *Engine) ListPermissions(ctx context.Context) ([]*Permission, error) {
	return e.perms.ListPermissions(ctx)
}

func validatePermission(p *Permission) error {
	if p == nil {
		return fmt.Errorf("permission is nil")
	}
	if p.Resource == "" {
		return fmt.Errorf("permission resource is required")
	}
	if p.Action == "" {
		return fmt.Errorf("permission action is required")
	}
	switch p.Effect {
	case "", EffectAllow, EffectDeny:
	default:
		return fmt.Errorf("unknown permission effect: %s", p.Effect)
	}
	return nil
}

// ============================================================================
// ROLE OPERATIONS
// ============================================================================

func (e *Engine) CreateRole(ctx context.Context, role *Role) error {
	if role == nil || (role.ID == "" && role.Name == "") {
		return fmt.Errorf("role requires an id or a name")
	}
	if role.ID == "" {
		role.ID = SlugifyRoleName(role.Name)
	}
	if e.hierarchy.wouldCreateCycle(ctx, role.ID, role.ParentRoles) {
		return fmt.Errorf("role %s: parent roles would introduce an inheritance cycle", role.ID)
	}
	role.IsActive = true
	if err := e.roles.CreateRole(ctx, role); err != nil {
		return err
	}
	e.hierarchy.Invalidate()
	return nil
}

func (e *Engine) UpdateRole(ctx context.Context, role *Role) error {
	if role == nil || role.ID == "" {
		return fmt.Errorf("role id is required")
	}
	if e.hierarchy.wouldCreateCycle(ctx, role.ID, role.ParentRoles) {
		return fmt.Errorf("role %s: parent roles would introduce an inheritance cycle", role.ID)
	}
	if err := e.roles.UpdateRole(ctx, role); err != nil {
		return err
	}
	e.hierarchy.Invalidate()
	return nil
}

// DeleteRole removes a role. System roles are protected: the call returns
// false and leaves the registry unchanged, which is an expected administrative
// outcome rather than an error.
func (e *Engine) DeleteRole(ctx context.Context, id string) (bool, error) {
	role, err := e.roles.GetRole(ctx, id)
	if err != nil || role == nil {
		// Deleting an unknown role is a no-op success.
		return true, nil
	}
	if role.IsSystemRole {
		return false, nil
	}
	if err := e.roles.DeleteRole(ctx, id); err != nil {
		return false, err
	}
	e.hierarchy.Invalidate()
	return true, nil
}

func (e *Engine) GetRole(ctx context.Context, id string) (*Role, error) {
	return e.roles.GetRole(ctx, id)
}

func (e *Engine) ListRoles(ctx context.Context) ([]*Role, error) {
	return e.roles.ListRoles(ctx)
}

// ============================================================================
// RESOURCE OPERATIONS
// ============================================================================

func (e *Engine) CreateResource(ctx context.Context, res *Resource) error {
	if res == nil || res.ID == "" {
		return fmt.Errorf("resource id is required")
	}
	return e.resources.CreateResource(ctx, res)
}

func (e *Engine) UpdateResource(ctx context.Context, res *Resource) error {
	if res == nil || res.ID == "" {
		return fmt.Errorf("resource id is required")
	}
	return e.resources.UpdateResource(ctx, res)
}

func (e *Engine) DeleteResource(ctx context.Context, id string) error {
	return e.resources.DeleteResource(ctx, id)
}

func (e *Engine) GetResource(ctx context.Context, id string) (*Resource, error) {
	return e.resources.GetResource(ctx, id)
}

func (e *Engine) ListResources(ctx context.Context) ([]*Resource, error) {
	return e.resources.ListResources(ctx)
}

// ============================================================================
// ASSIGNMENT OPERATIONS
// ============================================================================

func (e *Engine) AssignRole(ctx context.Context, userID, roleID string) error {
	return e.assignments.AssignRole(ctx, userID, roleID)
}

func (e *Engine) RevokeRole(ctx context.Context, userID, roleID string) error {
	return e.assignments.RevokeRole(ctx, userID, roleID)
}

// ListUserRoles returns the role records assigned to the user; ids pointing at
// roles that no longer exist are skipped.
func (e *Engine) ListUserRoles(ctx context.Context, userID string) ([]*Role, error) {
	ids, err := e.assignments.ListRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*Role, 0, len(ids))
	for _, id := range ids {
		if role, err := e.roles.GetRole(ctx, id); err == nil && role != nil {
			out = append(out, role)
		}
	}
	return out, nil
}
