package main

import (
	"github.com/spf13/cobra"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/backfill"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/tenant"
	"github.com/iota-uz/tenancy-backfill/pkg/cliflags"
	"github.com/iota-uz/tenancy-backfill/pkg/configuration"
)

func newBackfillCmd(rt *runtime) *cobra.Command {
	var flags *cliflags.Values

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Populate missing organization ids from related records",
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
			opts := backfillOptions(conf, reg, flags)
			if err := checkFilters(reg, opts.Filter); err != nil {
				return err
			}

			store, cleanup, err := rt.session(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer cleanup()

			resolver := tenant.NewResolver(store, rt.logger, firstNonEmpty(flags.String(flagDefaultOrgName), conf.Tenancy.DefaultOrgName))
			_, err = backfill.NewExecutor(reg, store, resolver, rt.logger).Run(cmd.Context(), opts)
			return err
		},
	}
	flags = withEntities(backfillSchema(), registry.Default()).Bind(cmd.Flags())
	return cmd
}

func backfillOptions(conf *configuration.Configuration, reg *registry.Registry, v *cliflags.Values) backfill.Options {
	chunkSize := conf.Tenancy.ChunkSize
	if v.Changed(flagChunkSize) {
		chunkSize = v.Int(flagChunkSize)
	}
	return backfill.Options{
		DryRun:    v.Bool(flagDryRun),
		ChunkSize: chunkSize,
		Filter: registry.Filter{
			Only: entityKeys(reg, v.List(flagOnly)),
			Skip: entityKeys(reg, v.List(flagSkip)),
		},
		DefaultOrgCode: firstNonEmpty(v.String(flagDefaultOrgCode), conf.Tenancy.DefaultOrgCode),
		SummaryPath:    v.String(flagSummaryPath),
		SummaryStdout:  v.Bool(flagSummaryStdout),
	}
}

// checkFilters rejects unknown entities before any connection is opened.
func checkFilters(reg *registry.Registry, filters ...registry.Filter) error {
	for _, f := range filters {
		if _, err := reg.Select(f); err != nil {
			return err
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
