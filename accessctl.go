package accessctl

import (
	"context"
	"strings"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Effect represents whether a matched permission grants or blocks access.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Wildcard matches any resource, action or permission id where it appears.
const Wildcard = "*"

// Operator is the comparison applied between a context field and a condition value.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpNin      Operator = "nin"
	OpContains Operator = "contains"
	OpRegex    Operator = "regex"
)

// ConditionType categorizes a condition for administrative purposes; it does
// not change evaluation semantics except for "time", which coerces both sides
// to timestamps before comparing.
type ConditionType string

const (
	ConditionAttribute ConditionType = "attribute"
	ConditionTime      ConditionType = "time"
	ConditionLocation  ConditionType = "location"
	ConditionCustom    ConditionType = "custom"
)

// Condition is a single attribute check. Conditions attached to one permission
// combine with AND semantics: all must hold for the permission's effect to apply.
//
// Value may be a literal, a ContextRef, or a string of the form
// "${namespace.path}" which is parsed into a ContextRef at evaluation time.
type Condition struct {
	Type        ConditionType `json:"type" yaml:"type"`
	Field       string        `json:"field" yaml:"field"`
	Operator    Operator      `json:"operator" yaml:"operator"`
	Value       any           `json:"value" yaml:"value"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
}

// Permission grants or denies an action on a resource, optionally gated by
// conditions. The id is derived as "<resource>.<action>" unless set explicitly.
type Permission struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Resource    string         `json:"resource" yaml:"resource"`
	Action      string         `json:"action" yaml:"action"`
	Effect      Effect         `json:"effect" yaml:"effect"`
	Conditions  []Condition    `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// DeriveID returns the deterministic permission id for a resource/action pair.
func DeriveID(resource, action string) string {
	return resource + "." + action
}

// Matches reports whether the permission applies to the requested
// resource/action pair, honoring the "*" wildcard on either side.
func (p *Permission) Matches(resource, action string) bool {
	if p.Resource != resource && p.Resource != Wildcard {
		return false
	}
	return p.Action == action || p.Action == Wildcard
}

// Role is a named bundle of permission ids with optional parent roles from
// which it inherits transitively. A permission list containing "*" grants
// every permission in the registry.
type Role struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	ParentRoles  []string  `json:"parent_roles,omitempty" yaml:"parent_roles,omitempty"`
	Permissions  []string  `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	IsSystemRole bool      `json:"is_system_role,omitempty" yaml:"is_system_role,omitempty"`
	IsActive     bool      `json:"is_active" yaml:"is_active"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
}

// HasWildcard reports whether the role's direct permission list grants everything.
func (r *Role) HasWildcard() bool {
	for _, id := range r.Permissions {
		if id == Wildcard {
			return true
		}
	}
	return false
}

// SlugifyRoleName derives a role id from its display name: lowercased, with
// whitespace runs collapsed to single hyphens.
func SlugifyRoleName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), "-")
}

// Resource is a descriptive record consumed as condition input; the engine
// never mutates it.
type Resource struct {
	ID             string         `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name"`
	Type           string         `json:"type" yaml:"type"`
	ParentResource string         `json:"parent_resource,omitempty" yaml:"parent_resource,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	OwnerID        string         `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty" yaml:"organization_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Environment carries per-request ambient data supplied by the caller.
type Environment struct {
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	IPAddress string         `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	Location  string         `json:"location,omitempty" yaml:"location,omitempty"`
	Extra     map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// AccessContext is an immutable per-request snapshot of attributes. The engine
// reads it through Lookup and never writes to it.
type AccessContext struct {
	UserAttributes     map[string]any `json:"user_attributes,omitempty" yaml:"user_attributes,omitempty"`
	ResourceAttributes map[string]any `json:"resource_attributes,omitempty" yaml:"resource_attributes,omitempty"`
	Environment        Environment    `json:"environment,omitempty" yaml:"environment,omitempty"`
	SessionAttributes  map[string]any `json:"session_attributes,omitempty" yaml:"session_attributes,omitempty"`
}

// Context namespaces accepted by Lookup and ContextRef.
const (
	NamespaceUser     = "user"
	NamespaceResource = "resource"
	NamespaceEnv      = "env"
	NamespaceSession  = "session"
)

// Lookup resolves a namespaced field from the context. The boolean result is
// false when the namespace is unknown or the field is absent; callers must
// treat a miss as "no value", never as a zero value.
func (c *AccessContext) Lookup(namespace, field string) (any, bool) {
	if c == nil {
		return nil, false
	}
	switch namespace {
	case NamespaceUser:
		v, ok := c.UserAttributes[field]
		return v, ok
	case NamespaceResource:
		v, ok := c.ResourceAttributes[field]
		return v, ok
	case NamespaceSession:
		v, ok := c.SessionAttributes[field]
		return v, ok
	case NamespaceEnv:
		return c.lookupEnv(field)
	}
	return nil, false
}

func (c *AccessContext) lookupEnv(field string) (any, bool) {
	switch field {
	case "timestamp", "time":
		if c.Environment.Timestamp.IsZero() {
			return nil, false
		}
		return c.Environment.Timestamp, true
	case "ip_address", "ipAddress", "ip":
		if c.Environment.IPAddress == "" {
			return nil, false
		}
		return c.Environment.IPAddress, true
	case "user_agent", "userAgent":
		if c.Environment.UserAgent == "" {
			return nil, false
		}
		return c.Environment.UserAgent, true
	case "location":
		if c.Environment.Location == "" {
			return nil, false
		}
		return c.Environment.Location, true
	}
	v, ok := c.Environment.Extra[field]
	return v, ok
}

// AccessRequest is the unit of work submitted to the engine.
type AccessRequest struct {
	UserID   string         `json:"user_id"`
	Resource string         `json:"resource"`
	Action   string         `json:"action"`
	Context  *AccessContext `json:"context,omitempty"`
}

// AccessResult is the engine's terminal output. Denial is a normal outcome,
// not an error: Granted is false with a human-readable Reason.
type AccessResult struct {
	Granted            bool          `json:"granted"`
	Reason             string        `json:"reason"`
	AppliedPermissions []*Permission `json:"applied_permissions,omitempty"`
	DenyReasons        []string      `json:"deny_reasons,omitempty"`
	Warnings           []string      `json:"warnings,omitempty"`
}

// Terminal reasons produced by CheckAccess.
const (
	ReasonNoApplicable     = "No applicable permissions found"
	ReasonExplicitDeny     = "Explicit deny permission found"
	ReasonAllowGranted     = "Allow permission granted"
	ReasonNoMatch          = "No matching permissions after condition evaluation"
	denyReasonNoMatch      = "No permissions matched conditions"
	reasonInternalErrorFmt = "internal error: %s"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// PermissionStore manages permission persistence. Create is an upsert: the
// registry invariant is unique ids with last write wins.
type PermissionStore interface {
	CreatePermission(ctx context.Context, p *Permission) error
	UpdatePermission(ctx context.Context, p *Permission) error
	DeletePermission(ctx context.Context, id string) error
	GetPermission(ctx context.Context, id string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]*Permission, error)
}

// RoleStore manages role persistence.
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, id string) error
	GetRole(ctx context.Context, id string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
}

// ResourceStore manages resource descriptor persistence.
type ResourceStore interface {
	CreateResource(ctx context.Context, r *Resource) error
	UpdateResource(ctx context.Context, r *Resource) error
	DeleteResource(ctx context.Context, id string) error
	GetResource(ctx context.Context, id string) (*Resource, error)
	ListResources(ctx context.Context) ([]*Resource, error)
}

// AssignmentStore maps user ids to role ids. Assign and Revoke are idempotent:
// assigning a held role or revoking an absent one is a no-op success.
type AssignmentStore interface {
	AssignRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
	ListRoles(ctx context.Context, userID string) ([]string, error)
}

// ============================================================================
// AUDIT
// ============================================================================

// AuditEntry records one access decision for the optional audit side channel.
type AuditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id"`
	Resource  string         `json:"resource"`
	Action    string         `json:"action"`
	Result    *AccessResult  `json:"result"`
	TraceID   string         `json:"trace_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditSink receives decision records. Implementations must tolerate loss: the
// engine forwards entries fire-and-forget and never blocks a decision on the sink.
type AuditSink interface {
	LogResult(ctx context.Context, entry *AuditEntry) error
}

// AuditFilter narrows GetAccessLog queries on sinks that retain entries.
type AuditFilter struct {
	UserID    string
	Resource  string
	Action    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}
