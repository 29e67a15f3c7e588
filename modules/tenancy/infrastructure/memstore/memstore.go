// Package memstore is an in-memory implementation of the tenancy data-access
// capability. Batches are applied atomically under one mutex.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
)

// Record is one row. Reference and tenant values are int64 or nil, flags are bool.
type Record map[string]any

type Store struct {
	mu      sync.Mutex
	tables  map[string][]Record
	tenants []domain.TenantRecord

	// Hooks let tests inject failures. They run before any mutation.
	FailBatch func(call int, ops []domain.Operation) error
	FailExec  func(stmt string) error

	Batches     [][]domain.Operation
	Statements  []string
	LookupCalls []domain.LookupQuery
	FindCalls   int
	CountCalls  int
}

func New() *Store {
	return &Store{tables: make(map[string][]Record)}
}

// Insert adds a record; it must carry an int64 "id".
func (s *Store) Insert(table string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(Record, len(rec))
	for k, v := range rec {
		cp[k] = normalize(v)
	}
	s.tables[table] = append(s.tables[table], cp)
}

func (s *Store) AddTenant(id int64, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants = append(s.tenants, domain.TenantRecord{ID: id, Code: code})
}

func (s *Store) Tenants() []domain.TenantRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TenantRecord(nil), s.tenants...)
}

// Value returns a column of the record with the given id.
func (s *Store) Value(table string, id int64, column string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.tables[table] {
		if asInt(rec["id"]) == id {
			return rec[column]
		}
	}
	return nil
}

func (s *Store) FindRows(_ context.Context, q domain.RowQuery) ([]domain.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FindCalls++

	recs := append([]Record(nil), s.tables[q.Table]...)
	sort.Slice(recs, func(i, j int) bool { return asInt(recs[i]["id"]) < asInt(recs[j]["id"]) })

	var rows []domain.Row
	for _, rec := range recs {
		id := asInt(rec["id"])
		if id <= q.AfterID {
			continue
		}
		tenant := ptr(rec[q.TenantColumn])
		if !matches(q.Filter, tenant) {
			continue
		}
		row := domain.Row{ID: id, Tenant: tenant, Refs: make(map[string]*int64, len(q.Columns))}
		for _, col := range q.Columns {
			row.Refs[col] = ptr(rec[col])
		}
		rows = append(rows, row)
		if q.Limit > 0 && len(rows) == q.Limit {
			break
		}
	}
	return rows, nil
}

func (s *Store) CountRows(_ context.Context, q domain.CountQuery) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CountCalls++

	var n int64
	for _, rec := range s.tables[q.Table] {
		tenant := ptr(rec[q.TenantColumn])
		if q.Filter == domain.TenantOther {
			if tenant != nil && *tenant != q.TenantID {
				n++
			}
			continue
		}
		if matches(q.Filter, tenant) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Lookup(_ context.Context, q domain.LookupQuery) (map[int64]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LookupCalls = append(s.LookupCalls, q)

	keys := make(map[int64]struct{}, len(q.Keys))
	for _, k := range q.Keys {
		keys[k] = struct{}{}
	}
	var candidates []Record
	for _, rec := range s.tables[q.Table] {
		match := ptr(rec[q.MatchColumn])
		if match == nil {
			continue
		}
		if _, ok := keys[*match]; !ok {
			continue
		}
		if ptr(rec[q.Select]) == nil {
			continue
		}
		if q.RequireTrue != "" {
			if b, _ := rec[q.RequireTrue].(bool); !b {
				continue
			}
		}
		candidates = append(candidates, rec)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		for _, o := range q.OrderBy {
			c := compare(candidates[i][o.Column], candidates[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	out := make(map[int64]int64)
	for _, rec := range candidates {
		key := *ptr(rec[q.MatchColumn])
		if _, ok := out[key]; ok {
			continue
		}
		out[key] = *ptr(rec[q.Select])
	}
	return out, nil
}

func (s *Store) RunBatch(_ context.Context, ops []domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.Batches)
	s.Batches = append(s.Batches, append([]domain.Operation(nil), ops...))
	if s.FailBatch != nil {
		if err := s.FailBatch(call, ops); err != nil {
			return err
		}
	}
	targets := make([]Record, len(ops))
	for i, op := range ops {
		rec := s.find(op.Table, op.ID)
		if rec == nil {
			return fmt.Errorf("%s: record %d not found", op.Table, op.ID)
		}
		targets[i] = rec
	}
	for i, op := range ops {
		targets[i][op.TenantColumn] = op.TenantID
	}
	return nil
}

func (s *Store) Exec(_ context.Context, stmt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailExec != nil {
		if err := s.FailExec(stmt); err != nil {
			return err
		}
	}
	s.Statements = append(s.Statements, stmt)
	return nil
}

func (s *Store) FindTenantByCode(_ context.Context, code string) (domain.TenantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Code == code {
			return t, nil
		}
	}
	return domain.TenantRecord{}, domain.ErrTenantNotFound
}

func (s *Store) FindOldestTenant(_ context.Context) (domain.TenantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tenants) == 0 {
		return domain.TenantRecord{}, domain.ErrTenantNotFound
	}
	oldest := s.tenants[0]
	for _, t := range s.tenants[1:] {
		if t.ID < oldest.ID {
			oldest = t
		}
	}
	return oldest, nil
}

func (s *Store) CreateTenant(_ context.Context, code, name string) (domain.TenantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return domain.TenantRecord{}, fmt.Errorf("tenant name is required")
	}
	var maxID int64
	for _, t := range s.tenants {
		if t.Code == code {
			return domain.TenantRecord{}, fmt.Errorf("tenant %q already exists", code)
		}
		if t.ID > maxID {
			maxID = t.ID
		}
	}
	t := domain.TenantRecord{ID: maxID + 1, Code: code}
	s.tenants = append(s.tenants, t)
	return t, nil
}

func (s *Store) find(table string, id int64) Record {
	for _, rec := range s.tables[table] {
		if asInt(rec["id"]) == id {
			return rec
		}
	}
	return nil
}

func matches(f domain.TenantFilter, tenant *int64) bool {
	switch f {
	case domain.TenantMissing:
		return tenant == nil
	case domain.TenantPresent:
		return tenant != nil
	default:
		return true
	}
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	default:
		return v
	}
}

func asInt(v any) int64 {
	if p := ptr(v); p != nil {
		return *p
	}
	return 0
}

func ptr(v any) *int64 {
	switch x := v.(type) {
	case int64:
		return &x
	case int:
		n := int64(x)
		return &n
	default:
		return nil
	}
}

func compare(a, b any) int {
	switch x := a.(type) {
	case bool:
		y, _ := b.(bool)
		switch {
		case x == y:
			return 0
		case x:
			return 1
		default:
			return -1
		}
	default:
		pa, pb := ptr(a), ptr(b)
		switch {
		case pa == nil && pb == nil:
			return 0
		case pa == nil:
			return -1
		case pb == nil:
			return 1
		case *pa < *pb:
			return -1
		case *pa > *pb:
			return 1
		default:
			return 0
		}
	}
}
