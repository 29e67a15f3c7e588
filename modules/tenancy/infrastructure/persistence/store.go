// Package persistence implements the tenancy data-access capability on a
// Postgres database/sql handle.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
	"github.com/iota-uz/tenancy-backfill/pkg/composables"
)

const DefaultSessionVariable = "app.current_organization_id"

type Option func(*Store)

// WithSessionVariable sets the tenant session variable cleared at the start
// of every write transaction. An empty name disables the reset.
func WithSessionVariable(name string) Option {
	return func(s *Store) {
		s.sessionVariable = name
	}
}

func WithTenantTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.tenantTable = table
		}
	}
}

type Store struct {
	db              *sql.DB
	sessionVariable string
	tenantTable     string
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:              db,
		sessionVariable: DefaultSessionVariable,
		tenantTable:     DefaultTenantTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ident(name string) string {
	return pq.QuoteIdentifier(name)
}

func filterClause(column string, f domain.TenantFilter) string {
	switch f {
	case domain.TenantMissing:
		return ident(column) + " IS NULL"
	case domain.TenantPresent, domain.TenantOther:
		return ident(column) + " IS NOT NULL"
	default:
		return ""
	}
}

func (s *Store) FindRows(ctx context.Context, q domain.RowQuery) ([]domain.Row, error) {
	cols := make([]string, 0, len(q.Columns)+2)
	cols = append(cols, ident("id"), ident(q.TenantColumn))
	for _, c := range q.Columns {
		cols = append(cols, ident(c))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE %s > $1", strings.Join(cols, ", "), ident(q.Table), ident("id"))
	if clause := filterClause(q.TenantColumn, q.Filter); clause != "" {
		sb.WriteString(" AND " + clause)
	}
	sb.WriteString(" ORDER BY " + ident("id"))
	args := []any{q.AfterID}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT $2")
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", q.Table)
	}
	defer rows.Close()

	var out []domain.Row
	for rows.Next() {
		var id int64
		var tenant sql.NullInt64
		refs := make([]sql.NullInt64, len(q.Columns))
		dest := make([]any, 0, len(q.Columns)+2)
		dest = append(dest, &id, &tenant)
		for i := range refs {
			dest = append(dest, &refs[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s row", q.Table)
		}
		row := domain.Row{ID: id, Tenant: nullable(tenant), Refs: make(map[string]*int64, len(q.Columns))}
		for i, c := range q.Columns {
			row.Refs[c] = nullable(refs[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s rows", q.Table)
	}
	return out, nil
}

func (s *Store) CountRows(ctx context.Context, q domain.CountQuery) (int64, error) {
	query := "SELECT COUNT(*) FROM " + ident(q.Table)
	if clause := filterClause(q.TenantColumn, q.Filter); clause != "" {
		query += " WHERE " + clause
	}
	var args []any
	if q.Filter == domain.TenantOther {
		query += " AND " + ident(q.TenantColumn) + " <> $1"
		args = append(args, q.TenantID)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "failed to count %s", q.Table)
	}
	return n, nil
}

// Lookup reads one value per key with DISTINCT ON, so the first row by the
// requested order wins for every key.
func (s *Store) Lookup(ctx context.Context, q domain.LookupQuery) (map[int64]int64, error) {
	out := make(map[int64]int64)
	if len(q.Keys) == 0 {
		return out, nil
	}

	match, sel := ident(q.MatchColumn), ident(q.Select)
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT DISTINCT ON (%s) %s, %s FROM %s WHERE %s = ANY($1) AND %s IS NOT NULL",
		match, match, sel, ident(q.Table), match, sel)
	if q.RequireTrue != "" {
		sb.WriteString(" AND " + ident(q.RequireTrue) + " IS TRUE")
	}
	sb.WriteString(" ORDER BY " + match)
	for _, o := range q.OrderBy {
		if o.Desc {
			sb.WriteString(", " + ident(o.Column) + " DESC NULLS LAST")
		} else {
			sb.WriteString(", " + ident(o.Column) + " ASC")
		}
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), pq.Array(q.Keys))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up %s.%s", q.Table, q.Select)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value int64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s lookup", q.Table)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s lookup", q.Table)
	}
	return out, nil
}

// RunBatch applies every operation in one transaction. A row that no longer
// exists fails the whole batch.
func (s *Store) RunBatch(ctx context.Context, ops []domain.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	return composables.InTx(ctx, s.db, s.sessionVariable, func(ctx context.Context) error {
		tx, err := composables.UseTx(ctx)
		if err != nil {
			return err
		}
		for _, op := range ops {
			query := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s = $2",
				ident(op.Table), ident(op.TenantColumn), ident("id"))
			res, err := tx.ExecContext(ctx, query, op.TenantID, op.ID)
			if err != nil {
				return errors.Wrapf(err, "failed to update %s %d", op.Table, op.ID)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return errors.Wrapf(err, "failed to update %s %d", op.Table, op.ID)
			}
			if n == 0 {
				return errors.Errorf("%s: record %d not found", op.Table, op.ID)
			}
		}
		return nil
	})
}

func (s *Store) Exec(ctx context.Context, stmt string) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, "failed to execute statement")
	}
	return nil
}

func nullable(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
