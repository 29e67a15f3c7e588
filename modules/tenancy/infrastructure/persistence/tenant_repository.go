package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
)

const (
	DefaultTenantTable = "Organization"
	tenantStatusActive = "ACTIVE"
)

func (s *Store) FindTenantByCode(ctx context.Context, code string) (domain.TenantRecord, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = $1 ORDER BY %s LIMIT 1",
		ident("id"), ident("code"), ident(s.tenantTable), ident("code"), ident("id"))
	return s.scanTenant(s.db.QueryRowContext(ctx, query, code))
}

func (s *Store) FindOldestTenant(ctx context.Context) (domain.TenantRecord, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s ASC LIMIT 1",
		ident("id"), ident("code"), ident(s.tenantTable), ident("id"))
	return s.scanTenant(s.db.QueryRowContext(ctx, query))
}

func (s *Store) CreateTenant(ctx context.Context, code, name string) (domain.TenantRecord, error) {
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s) VALUES ($1, $2, $3, NOW(), NOW()) RETURNING %s, %s",
		ident(s.tenantTable), ident("code"), ident("name"), ident("status"), ident("createdAt"), ident("updatedAt"),
		ident("id"), ident("code"),
	)
	rec, err := s.scanTenant(s.db.QueryRowContext(ctx, query, code, name, tenantStatusActive))
	if err != nil {
		return domain.TenantRecord{}, errors.Wrapf(err, "failed to create tenant %q", code)
	}
	return rec, nil
}

func (s *Store) scanTenant(row *sql.Row) (domain.TenantRecord, error) {
	var rec domain.TenantRecord
	var code sql.NullString
	if err := row.Scan(&rec.ID, &code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TenantRecord{}, domain.ErrTenantNotFound
		}
		return domain.TenantRecord{}, errors.Wrap(err, "failed to read tenant")
	}
	rec.Code = code.String
	return rec, nil
}
