package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/infrastructure/memstore"
	"github.com/iota-uz/tenancy-backfill/pkg/summary"
)

func seeded() *memstore.Store {
	s := memstore.New()
	s.Insert("Store", memstore.Record{"id": 1, "organizationId": 1})
	s.Insert("Store", memstore.Record{"id": 2, "organizationId": 2})
	s.Insert("Store", memstore.Record{"id": 3, "organizationId": nil})
	s.Insert("cash_registers", memstore.Record{"id": 1, "storeId": 1, "organizationId": 1})
	s.Insert("cash_registers", memstore.Record{"id": 2, "storeId": 2, "organizationId": 1})
	return s
}

func TestAuditArithmetic(t *testing.T) {
	t.Parallel()

	s := seeded()
	logger, _ := logtest.NewNullLogger()
	sum, err := NewAuditor(registry.Default(), s, logger).Run(context.Background(), Options{})
	require.NoError(t, err)

	for key, es := range sum.Processed {
		assert.Equal(t, es.Total-es.Missing, es.Present, key)
		assert.GreaterOrEqual(t, es.Present, int64(0), key)
	}
	store := sum.Processed[registry.Store]
	assert.Equal(t, EntitySummary{Total: 3, Missing: 1, Present: 2, MismatchSample: []string{}, DurationMs: store.DurationMs}, store)

	assert.True(t, sum.HasMissing)
	assert.Equal(t, []registry.EntityKey{registry.Store}, sum.MissingEntities)
	assert.Equal(t, int64(5), sum.Overall.Total)
	assert.Equal(t, int64(1), sum.Overall.Missing)
	assert.Len(t, sum.Processed, len(registry.Default().Keys()))
}

func TestAuditHasMissingFalseWhenClean(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	s.Insert("Store", memstore.Record{"id": 1, "organizationId": 1})
	sum, err := NewAuditor(registry.Default(), s, nil).Run(context.Background(), Options{FailOnMissing: true})
	require.NoError(t, err)
	assert.False(t, sum.HasMissing)
	assert.Empty(t, sum.MissingEntities)
}

func TestAuditDetectsMismatches(t *testing.T) {
	t.Parallel()

	s := seeded()
	sum, err := NewAuditor(registry.Default(), s, nil).Run(context.Background(), Options{
		Filter: registry.Filter{Only: []registry.EntityKey{registry.CashRegister}},
	})
	require.NoError(t, err)

	cr := sum.Processed[registry.CashRegister]
	assert.Equal(t, int64(1), cr.Mismatched)
	assert.Equal(t, []string{"id=2 organizationId=1 store=2"}, cr.MismatchSample)
	assert.True(t, sum.HasMismatched)
	assert.Equal(t, []registry.EntityKey{registry.CashRegister}, sum.MismatchedEntities)
	assert.Len(t, sum.Processed, 1)
}

func TestAuditPagesAndCapsSample(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	s.Insert("Store", memstore.Record{"id": 1, "organizationId": 1})
	for i := 1; i <= 7; i++ {
		s.Insert("Inventory", memstore.Record{"id": i, "storeId": 1, "organizationId": 9})
	}

	a := NewAuditor(registry.Default(), s, nil)
	d, _ := registry.Default().Descriptor(registry.Inventory)
	es, err := a.AuditEntity(context.Background(), d, Options{PageSize: 3, MismatchSampleSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(7), es.Mismatched)
	assert.Len(t, es.MismatchSample, 2)
	// pages of 3, 3, 1
	assert.Equal(t, 3, s.FindCalls)
	assert.Equal(t, 2, s.CountCalls)
}

func TestAuditSkipMismatchCheck(t *testing.T) {
	t.Parallel()

	s := seeded()
	a := NewAuditor(registry.Default(), s, nil)
	d, _ := registry.Default().Descriptor(registry.CashRegister)
	es, err := a.AuditEntity(context.Background(), d, Options{SkipMismatchCheck: true})
	require.NoError(t, err)
	assert.Zero(t, es.Mismatched)
	assert.Zero(t, s.FindCalls)
}

func TestAuditFailOnMissingAfterPersist(t *testing.T) {
	t.Parallel()

	s := seeded()
	path := filepath.Join(t.TempDir(), "validate.json")
	logger, hook := logtest.NewNullLogger()

	sum, err := NewAuditor(registry.Default(), s, logger).Run(context.Background(), Options{
		FailOnMissing: true,
		SummaryPath:   path,
		SummaryStdout: true,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrValidationFailed)
	require.NotNil(t, sum)
	assert.Equal(t, path, sum.SummaryFilePath)

	var vf *domain.ValidationFailure
	require.True(t, errors.As(err, &vf))
	assert.Equal(t, []string{"store"}, vf.MissingEntities)
	assert.Empty(t, vf.MismatchedEntities)

	var persisted Summary
	require.NoError(t, summary.ReadJSONFile(path, &persisted))
	assert.True(t, persisted.HasMissing)
	assert.Empty(t, persisted.SummaryFilePath)

	entries := hook.AllEntries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "[validate-org] Validation failed.", entries[len(entries)-1].Message)
}

func TestAuditFailOnMismatch(t *testing.T) {
	t.Parallel()

	s := seeded()
	_, err := NewAuditor(registry.Default(), s, nil).Run(context.Background(), Options{
		Filter:         registry.Filter{Only: []registry.EntityKey{registry.CashRegister}},
		FailOnMismatch: true,
	})
	var vf *domain.ValidationFailure
	require.True(t, errors.As(err, &vf))
	assert.Equal(t, []string{"cash-register"}, vf.MismatchedEntities)
}

func TestAuditPersistFailureKeepsResult(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	sum, err := NewAuditor(registry.Default(), seeded(), nil).Run(context.Background(), Options{
		SummaryPath: filepath.Join(blocker, "validate.json"),
	})
	require.NoError(t, err)
	assert.Empty(t, sum.SummaryFilePath)
}

type failingCounter struct {
	*memstore.Store
}

func (failingCounter) CountRows(context.Context, domain.CountQuery) (int64, error) {
	return 0, errors.New("relation does not exist")
}

func TestAuditCountErrorIsExecutionError(t *testing.T) {
	t.Parallel()

	_, err := NewAuditor(registry.Default(), failingCounter{memstore.New()}, nil).Run(context.Background(), Options{})
	require.ErrorIs(t, err, domain.ErrExecution)
	var execErr *domain.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "store", execErr.Entity)
}

func TestAuditScopedToOrganization(t *testing.T) {
	t.Parallel()

	s := seeded()
	s.AddTenant(1, "MAIN")
	s.AddTenant(2, "OTHER")
	path := filepath.Join(t.TempDir(), "validate.json")

	sum, err := NewAuditor(registry.Default(), s, nil).Run(context.Background(), Options{
		Filter:            registry.Filter{Only: []registry.EntityKey{registry.Store, registry.CashRegister}},
		SkipMismatchCheck: true,
		OrganizationCode:  " MAIN ",
		SummaryPath:       path,
	})
	require.ErrorIs(t, err, domain.ErrValidationFailed)
	require.NotNil(t, sum)
	assert.Equal(t, path, sum.SummaryFilePath)

	require.NotNil(t, sum.Organization)
	assert.Equal(t, int64(1), sum.Organization.ID)
	require.NotNil(t, sum.Processed[registry.Store].WrongOrganization)
	assert.Equal(t, int64(1), *sum.Processed[registry.Store].WrongOrganization)
	require.NotNil(t, sum.Processed[registry.CashRegister].WrongOrganization)
	assert.Zero(t, *sum.Processed[registry.CashRegister].WrongOrganization)
	assert.Equal(t, []registry.EntityKey{registry.Store}, sum.WrongOrganizationEntities)
	assert.True(t, sum.HasWrongOrganization)
	assert.Equal(t, int64(1), sum.Overall.WrongOrganization)

	var vf *domain.ValidationFailure
	require.True(t, errors.As(err, &vf))
	assert.Equal(t, []string{"store"}, vf.WrongOrganizationEntities)
	assert.Empty(t, vf.MissingEntities)
}

func TestAuditScopedByIDPassesWhenClean(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	s.Insert("Store", memstore.Record{"id": 1, "organizationId": 4})
	s.Insert("Store", memstore.Record{"id": 2, "organizationId": nil})

	sum, err := NewAuditor(registry.Default(), s, nil).Run(context.Background(), Options{
		Filter:         registry.Filter{Only: []registry.EntityKey{registry.Store}},
		OrganizationID: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), sum.Organization.ID)
	assert.Zero(t, *sum.Processed[registry.Store].WrongOrganization)
	assert.False(t, sum.HasWrongOrganization)
	assert.Equal(t, int64(1), sum.Processed[registry.Store].Missing)
}

func TestAuditUnscopedLeavesWrongOrganizationUnset(t *testing.T) {
	t.Parallel()

	sum, err := NewAuditor(registry.Default(), seeded(), nil).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Nil(t, sum.Organization)
	assert.Nil(t, sum.Processed[registry.Store].WrongOrganization)
	assert.Empty(t, sum.WrongOrganizationEntities)
}

func TestAuditScopeErrors(t *testing.T) {
	t.Parallel()

	for name, opts := range map[string]Options{
		"unknown code": {OrganizationCode: "NOPE"},
		"both set":     {OrganizationCode: "MAIN", OrganizationID: 1},
		"negative id":  {OrganizationID: -1},
	} {
		s := seeded()
		s.AddTenant(1, "MAIN")
		_, err := NewAuditor(registry.Default(), s, nil).Run(context.Background(), opts)
		require.ErrorIs(t, err, domain.ErrConfiguration, name)
		assert.Zero(t, s.CountCalls, name)
	}
}
