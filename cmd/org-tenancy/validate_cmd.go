package main

import (
	"github.com/spf13/cobra"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/audit"
	"github.com/iota-uz/tenancy-backfill/pkg/cliflags"
	"github.com/iota-uz/tenancy-backfill/pkg/configuration"
)

func newValidateCmd(rt *runtime) *cobra.Command {
	var flags *cliflags.Values

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Report rows without an organization id and inconsistent references",
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
			opts := validateOptions(conf, reg, flags)
			if err := checkFilters(reg, opts.Filter); err != nil {
				return err
			}

			store, cleanup, err := rt.session(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer cleanup()

			_, err = audit.NewAuditor(reg, store, rt.logger).Run(cmd.Context(), opts)
			return err
		},
	}
	flags = withEntities(validateSchema(), registry.Default()).Bind(cmd.Flags())
	return cmd
}

func validateOptions(conf *configuration.Configuration, reg *registry.Registry, v *cliflags.Values) audit.Options {
	sampleSize := conf.Tenancy.MismatchSampleSize
	if v.Changed(flagMismatchSampleSize) {
		sampleSize = v.Int(flagMismatchSampleSize)
	}
	return audit.Options{
		Filter: registry.Filter{
			Only: entityKeys(reg, v.List(flagOnly)),
			Skip: entityKeys(reg, v.List(flagSkip)),
		},
		SummaryPath:        v.String(flagSummaryPath),
		SummaryStdout:      v.Bool(flagSummaryStdout),
		FailOnMissing:      v.Bool(flagFailOnMissing),
		FailOnMismatch:     v.Bool(flagFailOnMismatch),
		SkipMismatchCheck:  v.Bool(flagSkipMismatchCheck),
		MismatchSampleSize: sampleSize,
		PageSize:           conf.Tenancy.AuditPageSize,
		OrganizationID:     int64(v.Int(flagOrganizationID)),
		OrganizationCode:   v.String(flagOrganizationCode),
	}
}
