package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "org-tenancy",
		Short:         "Organization tenancy backfill, validation and row level security tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withCode(exitUsage, err)
	})

	cmd.AddCommand(newBackfillCmd(rt))
	cmd.AddCommand(newValidateCmd(rt))
	cmd.AddCommand(newPoliciesCmd(rt))
	cmd.AddCommand(newRunCmd(rt))
	return cmd
}

func noArgs(cmd *cobra.Command, args []string) error {
	return withCode(exitUsage, cobra.NoArgs(cmd, args))
}

// Execute runs the CLI and returns the process exit code.
func Execute(args []string) int {
	rt := defaultRuntime()
	defer rt.close()
	return execute(rt, args)
}

func execute(rt *runtime, args []string) int {
	cmd := newRootCmd(rt)
	cmd.SetArgs(allSchemas().NormalizeArgs(args))
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return exitCode(err)
	}
	return exitOK
}
