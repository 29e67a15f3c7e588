package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/infrastructure/memstore"
)

const appTenantCondition = `(NULLIF(current_setting('app.tenant', true), '') IS NULL OR "organizationId" IS NULL OR "organizationId" = (NULLIF(current_setting('app.tenant', true), ''))::int)`

func storeMapping() Mapping {
	return Mapping{Entity: "store", Table: "Store", Column: "organizationId", ColumnType: "int"}
}

func TestStatementsDeterministic(t *testing.T) {
	t.Parallel()

	opts := Options{Prefix: "rls_demo", Roles: []string{"app_user"}, SessionVariable: "app.tenant"}
	first := Statements(storeMapping(), opts)
	second := Statements(storeMapping(), opts)
	require.Equal(t, first, second)
	require.Equal(t, []string{
		`DROP POLICY IF EXISTS "rls_demo_store" ON "Store"`,
		`ALTER TABLE "Store" ENABLE ROW LEVEL SECURITY`,
		`ALTER TABLE "Store" NO FORCE ROW LEVEL SECURITY`,
		`CREATE POLICY "rls_demo_store" ON "Store" FOR ALL TO app_user USING ` + appTenantCondition + ` WITH CHECK ` + appTenantCondition,
	}, first)
}

func TestStatementsForce(t *testing.T) {
	t.Parallel()

	stmts := Statements(storeMapping(), Options{Prefix: "p", Roles: []string{"a", "b"}, SessionVariable: "app.tenant", Force: true})
	assert.Equal(t, `ALTER TABLE "Store" FORCE ROW LEVEL SECURITY`, stmts[2])
	assert.Contains(t, stmts[3], "FOR ALL TO a, b USING")
}

func TestStatementsDisable(t *testing.T) {
	t.Parallel()

	m := Mapping{Entity: "client", Table: "Client", Column: "organizationId", ColumnType: "int"}
	opts := Options{Disable: true}.WithDefaults()
	stmts := Statements(m, opts)
	require.Equal(t, `DROP POLICY IF EXISTS "rls_org_client" ON "Client"`, stmts[0])
	require.Equal(t, `ALTER TABLE "Client" DISABLE ROW LEVEL SECURITY`, stmts[len(stmts)-1])
	for _, stmt := range stmts {
		assert.NotContains(t, stmt, "CREATE POLICY")
		assert.NotContains(t, stmt, "ENABLE")
	}
}

func TestSanitizeSuffix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "cash-register", want: "cash_register"},
		{in: "Inventory History", want: "inventory_history"},
		{in: "--store--", want: "store"},
		{in: strings.Repeat("a", 70), want: strings.Repeat("a", 60)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeSuffix(tc.in), tc.in)
	}
	assert.Equal(t, "rls_org_cash_transaction", PolicyName("rls_org", "cash-transaction"))
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Options{}.WithDefaults().Validate())

	bad := []Options{
		{Prefix: "rls-org", Roles: []string{"x"}, SessionVariable: "app.tenant"},
		{Prefix: "rls", Roles: []string{"x"}, SessionVariable: "tenant"},
		{Prefix: "rls", Roles: []string{"x"}, SessionVariable: "app.tenant'; DROP"},
		{Prefix: "rls", Roles: []string{"app user"}, SessionVariable: "app.tenant"},
		{Prefix: "rls", SessionVariable: "app.tenant"},
	}
	for _, o := range bad {
		assert.ErrorIs(t, o.Validate(), domain.ErrConfiguration, "%+v", o)
	}

	withBlank := Options{Roles: []string{" app_user ", ""}}.WithDefaults()
	assert.Equal(t, []string{"app_user", "PUBLIC"}, withBlank.Roles)
}

func TestApplyDryRunDoesNotExecute(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	logger, hook := logtest.NewNullLogger()
	a := NewApplier(registry.Default(), s, logger)

	sum, err := a.Apply(context.Background(), Request{
		Filter:  registry.Filter{Only: []registry.EntityKey{registry.Store, registry.Client}},
		Options: Options{DryRun: true},
	})
	require.NoError(t, err)
	assert.Empty(t, s.Statements)
	require.Len(t, sum.Entries, 2)
	assert.Equal(t, 8, sum.TotalStatements)
	assert.Equal(t, "rls_org", sum.PolicyPrefix)
	assert.Equal(t, []string{"PUBLIC"}, sum.PolicyRoles)
	assert.Equal(t, "app.current_organization_id", sum.SessionVariable)

	var dry int
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "[apply-rls] (dry-run) ") {
			dry++
		}
	}
	assert.Equal(t, 8, dry)
}

func TestApplyExecutesInOrder(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	a := NewApplier(registry.Default(), s, nil)
	sum, err := a.Apply(context.Background(), Request{
		Filter:  registry.Filter{Only: []registry.EntityKey{registry.CashClosure}},
		Options: Options{Disable: true},
	})
	require.NoError(t, err)
	assert.Equal(t, sum.Entries[0].Statements, s.Statements)
	assert.Equal(t, `DROP POLICY IF EXISTS "rls_org_cash_closure" ON "cash_closures"`, s.Statements[0])
}

func TestApplyFailureCarriesDirection(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	s.FailExec = func(stmt string) error {
		if strings.HasPrefix(stmt, "CREATE POLICY") {
			return &pgconn.PgError{Code: "42501", Message: "must be owner of table Client"}
		}
		return nil
	}
	logger, hook := logtest.NewNullLogger()
	a := NewApplier(registry.Default(), s, logger)

	sum, err := a.Apply(context.Background(), Request{
		Filter: registry.Filter{Only: []registry.EntityKey{registry.Client, registry.Inventory}},
	})
	require.Error(t, err)

	var execErr *domain.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "enable", execErr.Direction)
	assert.Equal(t, "client", execErr.Entity)
	assert.Len(t, s.Statements, 3)
	assert.Len(t, sum.Entries, 1)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Data["sqlstate"] == "42501" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestApplyRejectsInvalidOptionsBeforeExecuting(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	_, err := NewApplier(registry.Default(), s, nil).Apply(context.Background(), Request{
		Options: Options{SessionVariable: "bad"},
	})
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Empty(t, s.Statements)
}

func TestMappingUsesRegistryOverrides(t *testing.T) {
	t.Parallel()

	reg, err := registry.Default().WithOverrides(registry.Overrides{ColumnType: "bigint", Tables: map[registry.EntityKey]string{registry.Store: "shops"}})
	require.NoError(t, err)
	m, err := NewApplier(reg, memstore.New(), nil).Mapping(registry.Store)
	require.NoError(t, err)
	assert.Equal(t, Mapping{Entity: "store", Table: "shops", Column: "organizationId", ColumnType: "bigint"}, m)
	assert.True(t, strings.HasSuffix(Statements(m, Options{}.WithDefaults())[3], "::bigint)"))
}
