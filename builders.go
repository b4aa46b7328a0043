package accessctl

// Builders provide a fluent API for assembling permissions, roles and resources.

// PermissionBuilder builds a Permission.
type PermissionBuilder struct {
	p *Permission
}

func NewPermissionBuilder() *PermissionBuilder {
	return &PermissionBuilder{p: &Permission{Effect: EffectAllow}}
}

func (b *PermissionBuilder) ID(id string) *PermissionBuilder       { b.p.ID = id; return b }
func (b *PermissionBuilder) Name(n string) *PermissionBuilder      { b.p.Name = n; return b }
func (b *PermissionBuilder) Describe(d string) *PermissionBuilder  { b.p.Description = d; return b }
func (b *PermissionBuilder) Resource(r string) *PermissionBuilder  { b.p.Resource = r; return b }
func (b *PermissionBuilder) Action(a string) *PermissionBuilder    { b.p.Action = a; return b }
func (b *PermissionBuilder) Effect(e Effect) *PermissionBuilder    { b.p.Effect = e; return b }
func (b *PermissionBuilder) Condition(c Condition) *PermissionBuilder {
	b.p.Conditions = append(b.p.Conditions, c)
	return b
}

// WhenEquals adds an eq condition whose expected value may be a literal or a
// ContextRef for self-referencing checks.
func (b *PermissionBuilder) WhenEquals(field string, value any) *PermissionBuilder {
	return b.Condition(Condition{Type: ConditionAttribute, Field: field, Operator: OpEq, Value: value})
}

func (b *PermissionBuilder) Build() *Permission {
	if b.p.ID == "" && b.p.Resource != "" && b.p.Action != "" {
		b.p.ID = DeriveID(b.p.Resource, b.p.Action)
	}
	return b.p
}

// RoleBuilder builds a Role.
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder() *RoleBuilder {
	return &RoleBuilder{r: &Role{IsActive: true}}
}

func (b *RoleBuilder) ID(id string) *RoleBuilder      { b.r.ID = id; return b }
func (b *RoleBuilder) Name(n string) *RoleBuilder     { b.r.Name = n; return b }
func (b *RoleBuilder) Describe(d string) *RoleBuilder { b.r.Description = d; return b }
func (b *RoleBuilder) System() *RoleBuilder           { b.r.IsSystemRole = true; return b }
func (b *RoleBuilder) Permissions(ids ...string) *RoleBuilder {
	b.r.Permissions = append(b.r.Permissions, ids...)
	return b
}
func (b *RoleBuilder) Inherits(ids ...string) *RoleBuilder {
	b.r.ParentRoles = append(b.r.ParentRoles, ids...)
	return b
}

func (b *RoleBuilder) Build() *Role {
	if b.r.ID == "" && b.r.Name != "" {
		b.r.ID = SlugifyRoleName(b.r.Name)
	}
	return b.r
}

// ResourceBuilder builds a Resource descriptor.
type ResourceBuilder struct {
	res *Resource
}

func NewResourceBuilder() *ResourceBuilder {
	return &ResourceBuilder{res: &Resource{}}
}

func (b *ResourceBuilder) ID(id string) *ResourceBuilder       { b.res.ID = id; return b }
func (b *ResourceBuilder) Name(n string) *ResourceBuilder      { b.res.Name = n; return b }
func (b *ResourceBuilder) Type(t string) *ResourceBuilder      { b.res.Type = t; return b }
func (b *ResourceBuilder) Owner(id string) *ResourceBuilder    { b.res.OwnerID = id; return b }
func (b *ResourceBuilder) Parent(id string) *ResourceBuilder   { b.res.ParentResource = id; return b }
func (b *ResourceBuilder) Org(id string) *ResourceBuilder      { b.res.OrganizationID = id; return b }
func (b *ResourceBuilder) Attribute(k string, v any) *ResourceBuilder {
	if b.res.Attributes == nil {
		b.res.Attributes = make(map[string]any)
	}
	b.res.Attributes[k] = v
	return b
}

func (b *ResourceBuilder) Build() *Resource { return b.res }
