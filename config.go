package accessctl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the declarative form of an engine's registries plus tuning knobs,
// loadable from YAML or JSON.
type Config struct {
	Version     int           `json:"version" yaml:"version"`
	Permissions []*Permission `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Roles       []*Role       `json:"roles,omitempty" yaml:"roles,omitempty"`
	Resources   []*Resource   `json:"resources,omitempty" yaml:"resources,omitempty"`
	Assignments []Assignment  `json:"assignments,omitempty" yaml:"assignments,omitempty"`
	Engine      EngineConfig  `json:"engine,omitempty" yaml:"engine,omitempty"`
}

// Assignment binds a user to a role in config form.
type Assignment struct {
	UserID string `json:"user_id" yaml:"user_id"`
	RoleID string `json:"role_id" yaml:"role_id"`
}

// EngineConfig tunes runtime behavior; zero values keep engine defaults.
type EngineConfig struct {
	BatchWorkerCount     int   `json:"batch_worker_count,omitempty" yaml:"batch_worker_count,omitempty"`
	RoleCacheNumCounters int64 `json:"role_cache_num_counters,omitempty" yaml:"role_cache_num_counters,omitempty"`
	RoleCacheMaxCost     int64 `json:"role_cache_max_cost,omitempty" yaml:"role_cache_max_cost,omitempty"`
	RoleCacheBuffer      int64 `json:"role_cache_buffer,omitempty" yaml:"role_cache_buffer,omitempty"`
}

// Options converts the tuning section into engine construction options.
func (c EngineConfig) Options() []EngineOption {
	opts := make([]EngineOption, 0, 2)
	if c.BatchWorkerCount > 0 {
		opts = append(opts, WithBatchWorkers(c.BatchWorkerCount))
	}
	if c.RoleCacheNumCounters > 0 {
		buffer := c.RoleCacheBuffer
		if buffer <= 0 {
			buffer = 64
		}
		opts = append(opts, WithRoleCache(c.RoleCacheNumCounters, c.RoleCacheMaxCost, buffer))
	}
	return opts
}

// ConfigLoader loads configuration from the supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return cfg, nil
}

// LoadFile picks the format from the file extension (.yaml/.yml/.json).
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return l.LoadYAML(data)
	case strings.HasSuffix(path, ".json"):
		return l.LoadJSON(data)
	}
	return nil, fmt.Errorf("unsupported config format: %s", path)
}

func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks referential integrity: role permission ids and parents must
// exist (or be the wildcard), assignments must point at declared roles.
func (c *Config) Validate() error {
	permIDs := make(map[string]bool, len(c.Permissions))
	for _, p := range c.Permissions {
		if err := validatePermission(p); err != nil {
			return err
		}
		id := p.ID
		if id == "" {
			id = DeriveID(p.Resource, p.Action)
		}
		permIDs[id] = true
	}
	roleIDs := make(map[string]bool, len(c.Roles))
	for _, r := range c.Roles {
		id := r.ID
		if id == "" {
			id = SlugifyRoleName(r.Name)
		}
		if id == "" {
			return fmt.Errorf("role requires an id or a name")
		}
		roleIDs[id] = true
	}
	for _, r := range c.Roles {
		for _, pid := range r.Permissions {
			if pid != Wildcard && !permIDs[pid] {
				return fmt.Errorf("role %s references unknown permission %s", r.ID, pid)
			}
		}
		for _, parent := range r.ParentRoles {
			if !roleIDs[parent] {
				return fmt.Errorf("role %s references unknown parent role %s", r.ID, parent)
			}
		}
	}
	for _, a := range c.Assignments {
		if a.UserID == "" || a.RoleID == "" {
			return fmt.Errorf("assignment requires user_id and role_id")
		}
		if !roleIDs[a.RoleID] {
			return fmt.Errorf("assignment for user %s references unknown role %s", a.UserID, a.RoleID)
		}
	}
	return nil
}

// ApplyConfig upserts the config contents into the engine's registries.
// Roles are applied before their dependents so cycle validation sees parents.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Engine.BatchWorkerCount > 0 {
		e.batchWorkers = cfg.Engine.BatchWorkerCount
	}

	for _, p := range cfg.Permissions {
		if err := e.upsertPermission(ctx, p); err != nil {
			return fmt.Errorf("apply permission %s: %w", p.ID, err)
		}
	}
	for _, r := range cfg.Roles {
		if err := e.upsertRole(ctx, r); err != nil {
			return fmt.Errorf("apply role %s: %w", r.ID, err)
		}
	}
	for _, res := range cfg.Resources {
		if err := e.upsertResource(ctx, res); err != nil {
			return fmt.Errorf("apply resource %s: %w", res.ID, err)
		}
	}
	for _, a := range cfg.Assignments {
		if err := e.AssignRole(ctx, a.UserID, a.RoleID); err != nil {
			return fmt.Errorf("assign role %s to %s: %w", a.RoleID, a.UserID, err)
		}
	}
	return nil
}

func (e *Engine) upsertPermission(ctx context.Context, p *Permission) error {
	if p.ID == "" {
		p.ID = DeriveID(p.Resource, p.Action)
	}
	if _, err := e.perms.GetPermission(ctx, p.ID); err != nil {
		return e.CreatePermission(ctx, p)
	}
	return e.UpdatePermission(ctx, p)
}

func (e *Engine) upsertRole(ctx context.Context, r *Role) error {
	if r.ID == "" {
		r.ID = SlugifyRoleName(r.Name)
	}
	if _, err := e.roles.GetRole(ctx, r.ID); err != nil {
		return e.CreateRole(ctx, r)
	}
	return e.UpdateRole(ctx, r)
}

func (e *Engine) upsertResource(ctx context.Context, res *Resource) error {
	if _, err := e.resources.GetResource(ctx, res.ID); err != nil {
		return e.CreateResource(ctx, res)
	}
	return e.UpdateResource(ctx, res)
}
