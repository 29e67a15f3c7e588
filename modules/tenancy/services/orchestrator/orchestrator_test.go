package orchestrator

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
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/audit"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/backfill"
	"github.com/iota-uz/tenancy-backfill/pkg/summary"
)

func boolPtr(v bool) *bool { return &v }

func TestMergeSharedFillsUnsetPhases(t *testing.T) {
	t.Parallel()

	p, v := Merge(Config{
		Populate: backfill.Options{Filter: registry.Filter{Only: []registry.EntityKey{registry.Store}}},
		Shared: Shared{
			Only:               []registry.EntityKey{registry.User},
			Skip:               []registry.EntityKey{registry.Client},
			SummaryStdout:      boolPtr(true),
			MismatchSampleSize: 9,
		},
		ValidateSummaryStdout: boolPtr(false),
		SummaryDir:            "out",
	})

	assert.Equal(t, []registry.EntityKey{registry.Store}, p.Filter.Only)
	assert.Equal(t, []registry.EntityKey{registry.Client}, p.Filter.Skip)
	assert.Equal(t, []registry.EntityKey{registry.User}, v.Filter.Only)
	assert.Equal(t, []registry.EntityKey{registry.Client}, v.Filter.Skip)
	assert.True(t, p.SummaryStdout)
	assert.False(t, v.SummaryStdout)
	assert.Equal(t, 9, v.MismatchSampleSize)
	assert.Equal(t, filepath.Join("out", PopulateSummaryFile), p.SummaryPath)
	assert.Equal(t, filepath.Join("out", ValidateSummaryFile), v.SummaryPath)
}

func TestMergePopulateFilterPropagatesToValidate(t *testing.T) {
	t.Parallel()

	p, v := Merge(Config{
		Populate: backfill.Options{
			Filter:      registry.Filter{Only: []registry.EntityKey{registry.Store}, Skip: []registry.EntityKey{registry.User}},
			SummaryPath: "p.json",
		},
		Validate:   audit.Options{MismatchSampleSize: 2},
		Shared:     Shared{MismatchSampleSize: 7},
		SummaryDir: "out",
	})

	assert.Equal(t, "p.json", p.SummaryPath)
	assert.Equal(t, []registry.EntityKey{registry.Store}, v.Filter.Only)
	assert.Equal(t, []registry.EntityKey{registry.User}, v.Filter.Skip)
	assert.Equal(t, 2, v.MismatchSampleSize)
	assert.False(t, p.SummaryStdout)
}

func TestRunBothPhases(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	s.AddTenant(1, "DEFAULT")
	s.Insert("Store", memstore.Record{"id": 1, "organizationId": nil})
	s.Insert("cash_registers", memstore.Record{"id": 1, "storeId": 1, "organizationId": nil})

	logger, hook := logtest.NewNullLogger()
	dir := t.TempDir()
	report, err := Run(context.Background(), Config{
		Store:      s,
		Logger:     logger,
		SummaryDir: dir,
		Validate:   audit.Options{FailOnMissing: true},
	})
	require.NoError(t, err)

	require.NotNil(t, report.Populate)
	require.NotNil(t, report.Validate)
	assert.Equal(t, []registry.EntityKey{registry.Store, registry.CashRegister}, report.UpdatedEntities)
	assert.Equal(t, 2, report.TotalUpdated)
	assert.Empty(t, report.MissingEntities)
	assert.Equal(t, int64(1), s.Value("cash_registers", 1, "organizationId"))
	assert.Equal(t, filepath.Join(dir, ReportFile), report.SummaryFilePath)

	for _, name := range []string{PopulateSummaryFile, ValidateSummaryFile, ReportFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}
	var onDisk Report
	require.NoError(t, summary.ReadJSONFile(filepath.Join(dir, ReportFile), &onDisk))
	assert.Equal(t, report.RunID, onDisk.RunID)
	assert.Empty(t, onDisk.SummaryFilePath)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "[populate-and-validate] populate -> defaultOrganizationId=1 updated=2." {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunSkipsPhases(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	s.Insert("Store", memstore.Record{"id": 1, "organizationId": nil})

	logger, hook := logtest.NewNullLogger()
	report, err := Run(context.Background(), Config{
		Store:        s,
		Logger:       logger,
		SkipPopulate: true,
	})
	require.NoError(t, err)
	assert.Nil(t, report.Populate)
	require.NotNil(t, report.Validate)
	assert.Equal(t, []registry.EntityKey{registry.Store}, report.MissingEntities)
	assert.Empty(t, s.Batches)
	assert.Contains(t, report.Warnings, "population phase skipped by configuration")

	var msgs []string
	for _, e := range hook.AllEntries() {
		msgs = append(msgs, e.Message)
	}
	assert.Contains(t, msgs, "[populate-and-validate] Population skipped by configuration.")
}

func TestRunValidationFailureAfterReport(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	s.Insert("Store", memstore.Record{"id": 1, "organizationId": nil})

	path := filepath.Join(t.TempDir(), "report.json")
	report, err := Run(context.Background(), Config{
		Store:        s,
		SkipPopulate: true,
		Validate:     audit.Options{FailOnMissing: true},
		ReportPath:   path,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidationFailed))
	require.NotNil(t, report)
	assert.Equal(t, path, report.SummaryFilePath)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestRunPopulateFailureStopsBeforeValidate(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	s.AddTenant(1, "DEFAULT")
	s.Insert("Store", memstore.Record{"id": 1, "organizationId": nil})
	s.FailBatch = func(int, []domain.Operation) error { return errors.New("deadlock") }

	report, err := Run(context.Background(), Config{Store: s})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExecution))
	require.NotNil(t, report)
	assert.Nil(t, report.Validate)
	assert.Zero(t, s.CountCalls)
}

func TestRunRejectsUnknownEntityBeforeDataAccess(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	_, err := Run(context.Background(), Config{
		Store:  s,
		Shared: Shared{Only: []registry.EntityKey{"nope"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Zero(t, s.FindCalls)
	assert.Zero(t, s.CountCalls)
}
