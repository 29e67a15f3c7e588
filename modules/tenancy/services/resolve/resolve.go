// Package resolve turns relation chains into tenant ids using batched lookups.
package resolve

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
)

type Lookuper interface {
	Lookup(ctx context.Context, q domain.LookupQuery) (map[int64]int64, error)
}

type Resolver struct {
	registry *registry.Registry
	lookups  Lookuper
}

func New(reg *registry.Registry, lookups Lookuper) *Resolver {
	return &Resolver{registry: reg, lookups: lookups}
}

// Follow resolves one relation for all rows. Each hop costs one lookup over
// the distinct keys reached so far. The result maps row id to tenant id and
// only holds rows for which every hop resolved.
func (r *Resolver) Follow(ctx context.Context, rel registry.Relation, rows []domain.Row) (map[int64]int64, error) {
	current := make(map[int64]int64, len(rows))
	if len(rel.Path) == 0 {
		return current, nil
	}
	first := rel.Path[0].From
	for _, row := range rows {
		if v := row.Ref(first); v != nil {
			current[row.ID] = *v
		}
	}

	for i, hop := range rel.Path {
		if len(current) == 0 {
			break
		}
		selectColumn := r.registry.TenantColumn
		if i+1 < len(rel.Path) {
			selectColumn = rel.Path[i+1].From
		}
		found, err := r.lookups.Lookup(ctx, domain.LookupQuery{
			Table:       r.registry.HopTable(hop),
			MatchColumn: hop.To,
			Keys:        distinctValues(current),
			Select:      selectColumn,
			RequireTrue: hop.RequireTrue,
			OrderBy:     hop.OrderBy,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to follow relation %s", rel.Name)
		}
		next := make(map[int64]int64, len(current))
		for rowID, key := range current {
			if v, ok := found[key]; ok {
				next[rowID] = v
			}
		}
		current = next
	}
	return current, nil
}

// Plan builds the update plan for rows lacking a tenant. Rules are evaluated
// in declared order and the first resolved relation wins; rows left over get
// the default tenant. Later relations are only looked up for rows that are
// still unresolved.
func (r *Resolver) Plan(ctx context.Context, d registry.Descriptor, rows []domain.Row, defaultTenantID int64) ([]domain.UpdatePlan, error) {
	byID := make(map[int64]domain.UpdatePlan, len(rows))
	pending := rows
	for _, rule := range d.Rules() {
		if len(pending) == 0 {
			break
		}
		if rule.Relation == nil {
			for _, row := range pending {
				byID[row.ID] = domain.UpdatePlan{
					RecordID:         row.ID,
					ResolvedTenantID: defaultTenantID,
					Reason:           rule.Tag,
				}
			}
			pending = nil
			break
		}
		resolved, err := r.Follow(ctx, *rule.Relation, pending)
		if err != nil {
			return nil, err
		}
		rest := pending[:0:0]
		for _, row := range pending {
			if tenantID, ok := resolved[row.ID]; ok {
				byID[row.ID] = domain.UpdatePlan{
					RecordID:         row.ID,
					ResolvedTenantID: tenantID,
					Reason:           rule.Tag,
				}
				continue
			}
			rest = append(rest, row)
		}
		pending = rest
	}

	plans := make([]domain.UpdatePlan, 0, len(rows))
	for _, row := range rows {
		plans = append(plans, byID[row.ID])
	}
	return plans, nil
}

// Reasons counts plans per reason tag.
func Reasons(plans []domain.UpdatePlan) map[string]int {
	out := make(map[string]int)
	for _, p := range plans {
		out[p.Reason]++
	}
	return out
}

func distinctValues(m map[int64]int64) []int64 {
	seen := make(map[int64]struct{}, len(m))
	out := make([]int64, 0, len(m))
	for _, v := range m {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
