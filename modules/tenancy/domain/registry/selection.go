package registry

import "github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"

// Filter is an include/exclude request. A nil Only selects every entity,
// an empty non-nil Only selects none.
type Filter struct {
	Only []EntityKey `json:"only,omitempty"`
	Skip []EntityKey `json:"skip,omitempty"`
}

func (f Filter) IsZero() bool {
	return f.Only == nil && f.Skip == nil
}

// Selection is the resolved set of entities to process.
type Selection struct {
	keys     []EntityKey
	included map[EntityKey]bool
}

// Select validates a filter and resolves it in registry order.
func (r *Registry) Select(f Filter) (Selection, error) {
	for _, list := range [][]EntityKey{f.Only, f.Skip} {
		for _, key := range list {
			if !r.Has(key) {
				return Selection{}, domain.NewConfigurationError("unknown entity %q (expected one of %s)", key, r.keyList())
			}
		}
	}
	skip := make(map[EntityKey]bool, len(f.Skip))
	for _, key := range f.Skip {
		skip[key] = true
	}
	var only map[EntityKey]bool
	if f.Only != nil {
		only = make(map[EntityKey]bool, len(f.Only))
		for _, key := range f.Only {
			only[key] = true
		}
	}

	sel := Selection{included: make(map[EntityKey]bool)}
	for _, d := range r.descriptors {
		if only != nil && !only[d.Key] {
			continue
		}
		if skip[d.Key] {
			continue
		}
		sel.keys = append(sel.keys, d.Key)
		sel.included[d.Key] = true
	}
	return sel, nil
}

func (s Selection) Includes(key EntityKey) bool {
	return s.included[key]
}

func (s Selection) Keys() []EntityKey {
	return append([]EntityKey(nil), s.keys...)
}

func (s Selection) Len() int {
	return len(s.keys)
}
