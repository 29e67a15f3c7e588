package main

import (
	"github.com/spf13/cobra"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/audit"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/backfill"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/orchestrator"
	"github.com/iota-uz/tenancy-backfill/pkg/cliflags"
	"github.com/iota-uz/tenancy-backfill/pkg/configuration"
)

func newRunCmd(rt *runtime) *cobra.Command {
	var flags *cliflags.Values

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backfill, then validate, and write a combined report",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := rt.config()
			if err != nil {
				return err
			}
			reg, err := rt.registry(conf, flags.String(flagTableMap))
			if err != nil {
				return err
			}
			cfg := runConfig(conf, reg, flags)
			populate, validate := orchestrator.Merge(cfg)
			if err := checkFilters(reg, populate.Filter, validate.Filter); err != nil {
				return err
			}

			store, cleanup, err := rt.session(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg.Store = store
			cfg.Logger = rt.logger
			_, err = orchestrator.Run(cmd.Context(), cfg)
			return err
		},
	}
	flags = withEntities(runSchema(), registry.Default()).Bind(cmd.Flags())
	return cmd
}

func runConfig(conf *configuration.Configuration, reg *registry.Registry, v *cliflags.Values) orchestrator.Config {
	chunkSize := conf.Tenancy.ChunkSize
	if v.Changed(flagPopulateChunkSize) {
		chunkSize = v.Int(flagPopulateChunkSize)
	}
	sharedSample := conf.Tenancy.MismatchSampleSize
	if v.Changed(flagMismatchSampleSize) {
		sharedSample = v.Int(flagMismatchSampleSize)
	}
	return orchestrator.Config{
		Registry:       reg,
		DefaultOrgName: conf.Tenancy.DefaultOrgName,
		Populate: backfill.Options{
			DryRun:    v.Bool(flagPopulateDryRun),
			ChunkSize: chunkSize,
			Filter: registry.Filter{
				Only: entityKeys(reg, v.List(flagPopulateOnly)),
				Skip: entityKeys(reg, v.List(flagPopulateSkip)),
			},
			DefaultOrgCode: firstNonEmpty(v.String(flagPopulateOrgCode), conf.Tenancy.DefaultOrgCode),
			SummaryPath:    v.String(flagPopulateSummaryPath),
		},
		PopulateSummaryStdout: v.BoolPtr(flagPopulateSummaryStdout),
		Validate: audit.Options{
			Filter: registry.Filter{
				Only: entityKeys(reg, v.List(flagValidateOnly)),
				Skip: entityKeys(reg, v.List(flagValidateSkip)),
			},
			SummaryPath:        v.String(flagValidateSummaryPath),
			FailOnMissing:      v.Bool(flagValidateFailOnMissing),
			FailOnMismatch:     v.Bool(flagValidateFailMismatch),
			MismatchSampleSize: v.Int(flagValidateSampleSize),
			PageSize:           conf.Tenancy.AuditPageSize,
		},
		ValidateSummaryStdout: v.BoolPtr(flagValidateSummaryStdout),
		Shared: orchestrator.Shared{
			Only:               entityKeys(reg, v.List(flagOnly)),
			Skip:               entityKeys(reg, v.List(flagSkip)),
			SummaryStdout:      v.BoolPtr(flagSummaryStdout),
			MismatchSampleSize: sharedSample,
		},
		SkipPopulate: v.Bool(flagSkipPopulate),
		SkipValidate: v.Bool(flagSkipValidate),
		SummaryDir:   v.String(flagSummaryDir),
		ReportPath:   v.String(flagReportPath),
		ReportStdout: v.Bool(flagSummaryStdout),
	}
}
