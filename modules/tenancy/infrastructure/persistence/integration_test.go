package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/infrastructure/persistence"
	"github.com/iota-uz/tenancy-backfill/pkg/itf"
)

func TestStoreAgainstPostgres(t *testing.T) {
	db := itf.NewDatabase(t)
	ctx := context.Background()
	store := persistence.New(db)

	_, err := store.FindOldestTenant(ctx)
	require.ErrorIs(t, err, domain.ErrTenantNotFound)

	org, err := store.CreateTenant(ctx, "DEFAULT", "Default organization")
	require.NoError(t, err)
	found, err := store.FindTenantByCode(ctx, "DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, org.ID, found.ID)

	_, err = db.ExecContext(ctx, `INSERT INTO "Store" ("organizationId") VALUES (NULL), (NULL), ($1)`, org.ID)
	require.NoError(t, err)

	missing, err := store.FindRows(ctx, domain.RowQuery{
		Table: "Store", TenantColumn: "organizationId", Filter: domain.TenantMissing, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, missing, 2)

	ops := make([]domain.Operation, 0, len(missing))
	for _, row := range missing {
		ops = append(ops, domain.Operation{Table: "Store", TenantColumn: "organizationId", ID: row.ID, TenantID: org.ID})
	}
	require.NoError(t, store.RunBatch(ctx, ops))

	n, err := store.CountRows(ctx, domain.CountQuery{
		Table: "Store", TenantColumn: "organizationId", Filter: domain.TenantMissing,
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	err = store.RunBatch(ctx, []domain.Operation{{Table: "Store", TenantColumn: "organizationId", ID: 999, TenantID: org.ID}})
	require.Error(t, err)
}

func TestLookupPrefersDefaultMembership(t *testing.T) {
	db := itf.NewDatabase(t)
	ctx := context.Background()
	store := persistence.New(db)

	_, err := db.ExecContext(ctx, `INSERT INTO "OrganizationMembership" ("userId", "organizationId", "isDefault")
		VALUES (1, 10, false), (1, 11, true), (2, NULL, true), (2, 12, false)`)
	require.NoError(t, err)

	got, err := store.Lookup(ctx, domain.LookupQuery{
		Table:       "OrganizationMembership",
		MatchColumn: "userId",
		Keys:        []int64{1, 2, 3},
		Select:      "organizationId",
		OrderBy:     []domain.Order{{Column: "isDefault", Desc: true}, {Column: "id"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 11, 2: 12}, got)
}
