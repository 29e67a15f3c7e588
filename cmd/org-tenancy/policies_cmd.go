package main

import (
	"github.com/spf13/cobra"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/policy"
	"github.com/iota-uz/tenancy-backfill/pkg/cliflags"
	"github.com/iota-uz/tenancy-backfill/pkg/configuration"
)

func newPoliciesCmd(rt *runtime) *cobra.Command {
	var flags *cliflags.Values

	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Enable or disable organization row level security policies",
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
			req := policyRequest(conf, reg, flags)
			if err := checkFilters(reg, req.Filter); err != nil {
				return err
			}
			opts := req.Options.WithDefaults()
			if err := opts.Validate(); err != nil {
				return err
			}

			// A dry run only prints statements and never needs the database.
			var exec policy.Executor
			if !opts.DryRun {
				store, cleanup, err := rt.session(cmd.Context(), conf)
				if err != nil {
					return err
				}
				defer cleanup()
				exec = store
			}

			_, err = policy.NewApplier(reg, exec, rt.logger).Apply(cmd.Context(), req)
			return err
		},
	}
	flags = withEntities(policiesSchema(), registry.Default()).Bind(cmd.Flags())
	return cmd
}

func policyRequest(conf *configuration.Configuration, reg *registry.Registry, v *cliflags.Values) policy.Request {
	roles := v.List(flagRoles)
	if roles == nil {
		roles = conf.Policy.Roles
	}
	return policy.Request{
		Filter: registry.Filter{
			Only: entityKeys(reg, v.List(flagOnly)),
			Skip: entityKeys(reg, v.List(flagSkip)),
		},
		Options: policy.Options{
			DryRun:          v.Bool(flagDryRun),
			Disable:         v.Bool(flagDisable),
			Force:           v.Bool(flagForce),
			Prefix:          firstNonEmpty(v.String(flagPolicyPrefix), conf.Policy.Prefix),
			Roles:           roles,
			SessionVariable: firstNonEmpty(v.String(flagSessionVariable), conf.Policy.SessionVariable),
		},
		SummaryPath:   v.String(flagSummaryPath),
		SummaryStdout: v.Bool(flagSummaryStdout),
	}
}
