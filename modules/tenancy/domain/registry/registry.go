package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
)

const (
	DefaultTenantColumn = "organizationId"
	DefaultColumnType   = "int"
)

// Registry is the ordered catalog of entity descriptors. The order is the
// dependency order: an entity only inherits from entities declared before it.
type Registry struct {
	TenantColumn string
	ColumnType   string

	descriptors []Descriptor
	index       map[EntityKey]int
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := New(DefaultTenantColumn, DefaultColumnType, builtin())
	if err != nil {
		panic(err)
	}
	return r
})

// Default returns the built-in registry.
func Default() *Registry {
	return defaultRegistry()
}

func New(tenantColumn, columnType string, descriptors []Descriptor) (*Registry, error) {
	r := &Registry{
		TenantColumn: tenantColumn,
		ColumnType:   columnType,
		descriptors:  descriptors,
		index:        make(map[EntityKey]int, len(descriptors)),
	}
	for i, d := range descriptors {
		if _, dup := r.index[d.Key]; dup {
			return nil, fmt.Errorf("duplicate entity %q", d.Key)
		}
		r.index[d.Key] = i
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks that every relation only points at entities declared
// earlier and that every hop is complete.
func (r *Registry) Validate() error {
	if strings.TrimSpace(r.TenantColumn) == "" {
		return fmt.Errorf("tenant column is required")
	}
	if strings.TrimSpace(r.ColumnType) == "" {
		return fmt.Errorf("tenant column type is required")
	}
	for pos, d := range r.descriptors {
		if d.Table == "" {
			return fmt.Errorf("entity %s: table is required", d.Key)
		}
		for _, rel := range d.Relations {
			if err := r.validatePath(d.Key, rel); err != nil {
				return err
			}
			for _, hop := range rel.Path {
				if hop.Entity == "" {
					continue
				}
				if r.index[hop.Entity] >= pos {
					return fmt.Errorf("entity %s: relation %s depends on %s which is not declared before it", d.Key, rel.Name, hop.Entity)
				}
			}
		}
		for _, rel := range d.Checks {
			if err := r.validatePath(d.Key, rel); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) validatePath(key EntityKey, rel Relation) error {
	if rel.Name == "" {
		return fmt.Errorf("entity %s: relation name is required", key)
	}
	if len(rel.Path) == 0 {
		return fmt.Errorf("entity %s: relation %s has no path", key, rel.Name)
	}
	for _, hop := range rel.Path {
		if hop.From == "" || hop.To == "" {
			return fmt.Errorf("entity %s: relation %s has an incomplete hop", key, rel.Name)
		}
		if hop.Entity == "" && hop.Table == "" {
			return fmt.Errorf("entity %s: relation %s hop has no target", key, rel.Name)
		}
		if hop.Entity != "" {
			if _, ok := r.index[hop.Entity]; !ok {
				return fmt.Errorf("entity %s: relation %s references unknown entity %s", key, rel.Name, hop.Entity)
			}
		}
	}
	return nil
}

func (r *Registry) Keys() []EntityKey {
	keys := make([]EntityKey, len(r.descriptors))
	for i, d := range r.descriptors {
		keys[i] = d.Key
	}
	return keys
}

func (r *Registry) Has(key EntityKey) bool {
	_, ok := r.index[key]
	return ok
}

func (r *Registry) Descriptor(key EntityKey) (Descriptor, bool) {
	i, ok := r.index[key]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// HopTable returns the physical table a hop points at.
func (r *Registry) HopTable(h Hop) string {
	if h.Entity != "" {
		if d, ok := r.Descriptor(h.Entity); ok {
			return d.Table
		}
	}
	return h.Table
}

// ParseKey validates a single entity key.
func (r *Registry) ParseKey(raw string) (EntityKey, error) {
	key := EntityKey(strings.TrimSpace(raw))
	if key == "" {
		return "", domain.NewConfigurationError("empty entity key")
	}
	if !r.Has(key) {
		return "", domain.NewConfigurationError("unknown entity %q (expected one of %s)", raw, r.keyList())
	}
	return key, nil
}

func (r *Registry) keyList() string {
	parts := make([]string, len(r.descriptors))
	for i, d := range r.descriptors {
		parts[i] = string(d.Key)
	}
	return strings.Join(parts, ", ")
}
