package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/infrastructure/memstore"
)

func TestResolveDefaultByCode(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	s.AddTenant(1, "OTHER")
	s.AddTenant(2, "DEFAULT")

	got, err := NewResolver(s, nil, "").ResolveDefault(context.Background(), "DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, domain.TenantRecord{ID: 2, Code: "DEFAULT"}, got)
}

func TestResolveDefaultFallsBackToOldest(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	s.AddTenant(5, "B")
	s.AddTenant(3, "A")
	logger, hook := logtest.NewNullLogger()

	got, err := NewResolver(s, logger, "").ResolveDefault(context.Background(), "DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	assert.False(t, got.CreatedByResolver)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "using existing organization 3")
}

func TestResolveDefaultCreatesOnce(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	r := NewResolver(s, nil, "")

	first, err := r.ResolveDefault(context.Background(), "DEFAULT")
	require.NoError(t, err)
	assert.True(t, first.CreatedByResolver)

	second, err := r.ResolveDefault(context.Background(), "DEFAULT")
	require.NoError(t, err)
	assert.False(t, second.CreatedByResolver)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, s.Tenants(), 1)
}

func TestResolveDefaultRejectsEmptyCode(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(memstore.New(), nil, "").ResolveDefault(context.Background(), "  ")
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

type brokenRepo struct{}

func (brokenRepo) FindTenantByCode(context.Context, string) (domain.TenantRecord, error) {
	return domain.TenantRecord{}, errors.New("connection reset")
}

func (brokenRepo) FindOldestTenant(context.Context) (domain.TenantRecord, error) {
	return domain.TenantRecord{}, domain.ErrTenantNotFound
}

func (brokenRepo) CreateTenant(context.Context, string, string) (domain.TenantRecord, error) {
	return domain.TenantRecord{}, nil
}

func TestResolveDefaultPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(brokenRepo{}, nil, "").ResolveDefault(context.Background(), "DEFAULT")
	require.ErrorIs(t, err, domain.ErrExecution)
	assert.Contains(t, err.Error(), "connection reset")
}
