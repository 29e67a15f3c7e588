package main

import (
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
	"github.com/iota-uz/tenancy-backfill/pkg/cliflags"
)

const (
	flagDryRun             = "dry-run"
	flagChunkSize          = "chunk-size"
	flagOnly               = "only"
	flagSkip               = "skip"
	flagDefaultOrgCode     = "default-org-code"
	flagDefaultOrgName     = "default-org-name"
	flagSummaryPath        = "summary-path"
	flagSummaryStdout      = "summary-stdout"
	flagTableMap           = "table-map"
	flagFailOnMissing      = "fail-on-missing"
	flagFailOnMismatch     = "fail-on-mismatch"
	flagMismatchSampleSize = "mismatch-sample-size"
	flagSkipMismatchCheck  = "skip-mismatch-check"
	flagOrganizationID     = "organization-id"
	flagOrganizationCode   = "organization-code"
	flagDisable            = "disable"
	flagForce              = "force"
	flagPolicyPrefix       = "policy-prefix"
	flagSessionVariable    = "session-variable"
	flagRoles              = "roles"

	flagSkipPopulate          = "skip-populate"
	flagSkipValidate          = "skip-validate"
	flagPopulateDryRun        = "populate-dry-run"
	flagPopulateChunkSize     = "populate-chunk-size"
	flagPopulateOnly          = "populate-only"
	flagPopulateSkip          = "populate-skip"
	flagPopulateOrgCode       = "populate-default-org-code"
	flagPopulateSummaryPath   = "populate-summary-path"
	flagPopulateSummaryStdout = "populate-summary-stdout"
	flagValidateOnly          = "validate-only"
	flagValidateSkip          = "validate-skip"
	flagValidateSummaryPath   = "validate-summary-path"
	flagValidateSummaryStdout = "validate-summary-stdout"
	flagValidateFailOnMissing = "validate-fail-on-missing"
	flagValidateFailMismatch  = "validate-fail-on-mismatch"
	flagValidateSampleSize    = "validate-mismatch-sample-size"
	flagSummaryDir            = "summary-dir"
	flagReportPath            = "report-path"
)

var (
	onlySpec = cliflags.Spec{Name: flagOnly, Aliases: []string{"only-entities", "onlyEntities", "entities"}, Kind: cliflags.EntityList,
		Usage: "Comma-separated entities to process"}
	skipSpec = cliflags.Spec{Name: flagSkip, Aliases: []string{"skip-entities", "skipEntities"}, Kind: cliflags.EntityList,
		Usage: "Comma-separated entities to leave out"}
	summaryPathSpec = cliflags.Spec{Name: flagSummaryPath, Aliases: []string{"summaryPath", "summaryFile"}, Kind: cliflags.String,
		Usage: "Write the JSON summary to this file"}
	summaryStdoutSpec = cliflags.Spec{Name: flagSummaryStdout, Aliases: []string{"summaryStdout", "summary-json", "summaryJson"}, Kind: cliflags.Bool,
		Usage: "Log the JSON summary"}
	tableMapSpec = cliflags.Spec{Name: flagTableMap, Aliases: []string{"tableMap"}, Kind: cliflags.String,
		Usage: "YAML or TOML file renaming tables and the tenant column (default: TENANCY_TABLE_MAP)"}
	dryRunSpec = cliflags.Spec{Name: flagDryRun, Aliases: []string{"dryRun"}, Kind: cliflags.Bool,
		Usage: "Plan only, write nothing"}
)

func withEntities(s *cliflags.Schema, reg *registry.Registry) *cliflags.Schema {
	s.Entities = func(item string) error {
		_, err := reg.ParseKey(item)
		return err
	}
	return s
}

func backfillSchema() *cliflags.Schema {
	return cliflags.New(
		dryRunSpec,
		cliflags.Spec{Name: flagChunkSize, Aliases: []string{"chunkSize"}, Kind: cliflags.Int, Usage: "Records per transaction (default: TENANCY_CHUNK_SIZE)"},
		onlySpec,
		skipSpec,
		cliflags.Spec{Name: flagDefaultOrgCode, Aliases: []string{"defaultOrgCode", "default-organization-code"}, Kind: cliflags.String,
			Usage: "Code of the fallback organization (default: TENANCY_DEFAULT_ORG_CODE)"},
		cliflags.Spec{Name: flagDefaultOrgName, Aliases: []string{"defaultOrgName"}, Kind: cliflags.String,
			Usage: "Name used when the fallback organization has to be created"},
		summaryPathSpec,
		summaryStdoutSpec,
		tableMapSpec,
	)
}

func validateSchema() *cliflags.Schema {
	return cliflags.New(
		onlySpec,
		skipSpec,
		summaryPathSpec,
		summaryStdoutSpec,
		cliflags.Spec{Name: flagFailOnMissing, Aliases: []string{"failOnMissing"}, Kind: cliflags.Bool, Usage: "Exit non-zero when rows lack a tenant"},
		cliflags.Spec{Name: flagFailOnMismatch, Aliases: []string{"failOnMismatch"}, Kind: cliflags.Bool, Usage: "Exit non-zero when references disagree"},
		cliflags.Spec{Name: flagMismatchSampleSize, Aliases: []string{"mismatchSampleSize"}, Kind: cliflags.Int, Usage: "Mismatch samples per entity (default: TENANCY_MISMATCH_SAMPLE_SIZE)"},
		cliflags.Spec{Name: flagSkipMismatchCheck, Aliases: []string{"skipMismatchCheck"}, Kind: cliflags.Bool, Usage: "Only count missing tenants"},
		cliflags.Spec{Name: flagOrganizationID, Aliases: []string{"organizationId"}, Kind: cliflags.Int,
			Usage: "Fail on rows assigned to any organization but this id"},
		cliflags.Spec{Name: flagOrganizationCode, Aliases: []string{"organizationCode"}, Kind: cliflags.String,
			Usage: "Fail on rows assigned to any organization but the one with this code"},
		tableMapSpec,
	)
}

func policiesSchema() *cliflags.Schema {
	return cliflags.New(
		dryRunSpec,
		cliflags.Spec{Name: flagDisable, Kind: cliflags.Bool, Usage: "Drop the policies and disable row level security"},
		cliflags.Spec{Name: flagForce, Kind: cliflags.Bool, Usage: "Also FORCE row level security for table owners"},
		onlySpec,
		skipSpec,
		cliflags.Spec{Name: flagPolicyPrefix, Aliases: []string{"policyPrefix"}, Kind: cliflags.String, Usage: "Policy name prefix (default: RLS_POLICY_PREFIX)"},
		cliflags.Spec{Name: flagSessionVariable, Aliases: []string{"sessionVariable"}, Kind: cliflags.String, Usage: "Session variable holding the tenant (default: RLS_SESSION_VARIABLE)"},
		cliflags.Spec{Name: flagRoles, Aliases: []string{"policy-roles", "policyRoles"}, Kind: cliflags.List, Usage: "Comma-separated roles the policy applies to (default: RLS_POLICY_ROLES)"},
		summaryPathSpec,
		summaryStdoutSpec,
		tableMapSpec,
	)
}

func runSchema() *cliflags.Schema {
	return cliflags.New(
		cliflags.Spec{Name: flagSkipPopulate, Aliases: []string{"skipPopulate"}, Kind: cliflags.Bool, Usage: "Do not run the backfill phase"},
		cliflags.Spec{Name: flagSkipValidate, Aliases: []string{"skipValidate"}, Kind: cliflags.Bool, Usage: "Do not run the validation phase"},
		cliflags.Spec{Name: flagPopulateDryRun, Aliases: []string{"populateDryRun"}, Kind: cliflags.Bool, Usage: "Plan the backfill only"},
		cliflags.Spec{Name: flagPopulateChunkSize, Aliases: []string{"populateChunkSize"}, Kind: cliflags.Int, Usage: "Backfill records per transaction"},
		cliflags.Spec{Name: flagPopulateOnly, Aliases: []string{"populateOnly"}, Kind: cliflags.EntityList, Usage: "Entities to backfill"},
		cliflags.Spec{Name: flagPopulateSkip, Aliases: []string{"populateSkip"}, Kind: cliflags.EntityList, Usage: "Entities to leave out of the backfill"},
		cliflags.Spec{Name: flagPopulateOrgCode, Aliases: []string{"populate-default-organization-code", "populateDefaultOrgCode"}, Kind: cliflags.String,
			Usage: "Code of the fallback organization"},
		cliflags.Spec{Name: flagPopulateSummaryPath, Aliases: []string{"populateSummaryPath"}, Kind: cliflags.String, Usage: "Backfill summary file"},
		cliflags.Spec{Name: flagPopulateSummaryStdout, Aliases: []string{"populateSummaryStdout"}, Kind: cliflags.Bool, Usage: "Log the backfill summary"},
		cliflags.Spec{Name: flagValidateOnly, Aliases: []string{"validateOnly"}, Kind: cliflags.EntityList, Usage: "Entities to validate"},
		cliflags.Spec{Name: flagValidateSkip, Aliases: []string{"validateSkip"}, Kind: cliflags.EntityList, Usage: "Entities to leave out of validation"},
		cliflags.Spec{Name: flagValidateSummaryPath, Aliases: []string{"validateSummaryPath"}, Kind: cliflags.String, Usage: "Validation summary file"},
		cliflags.Spec{Name: flagValidateSummaryStdout, Aliases: []string{"validateSummaryStdout"}, Kind: cliflags.Bool, Usage: "Log the validation summary"},
		cliflags.Spec{Name: flagValidateFailOnMissing, Aliases: []string{"validateFailOnMissing", "fail-on-missing", "failOnMissing"}, Kind: cliflags.Bool,
			Usage: "Exit non-zero when rows lack a tenant"},
		cliflags.Spec{Name: flagValidateFailMismatch, Aliases: []string{"validateFailOnMismatch", "fail-on-mismatch", "failOnMismatch"}, Kind: cliflags.Bool,
			Usage: "Exit non-zero when references disagree"},
		cliflags.Spec{Name: flagValidateSampleSize, Aliases: []string{"validateMismatchSampleSize"}, Kind: cliflags.Int, Usage: "Validation mismatch samples per entity"},
		onlySpec,
		skipSpec,
		cliflags.Spec{Name: flagMismatchSampleSize, Aliases: []string{"mismatchSampleSize"}, Kind: cliflags.Int, Usage: "Shared mismatch sample size"},
		cliflags.Spec{Name: flagSummaryDir, Aliases: []string{"summaryDir"}, Kind: cliflags.String,
			Usage: "Directory for populate-summary.json, validate-summary.json and report.json"},
		summaryStdoutSpec,
		cliflags.Spec{Name: flagReportPath, Aliases: []string{"reportPath"}, Kind: cliflags.String, Usage: "Combined report file"},
		tableMapSpec,
	)
}

// allSchemas feeds argument normalization before cobra picks the subcommand.
func allSchemas() *cliflags.Schema {
	all := cliflags.New()
	for _, s := range []*cliflags.Schema{backfillSchema(), validateSchema(), policiesSchema(), runSchema()} {
		all = all.Extend(s.Specs...)
	}
	return all
}

func entityKeys(reg *registry.Registry, items []string) []registry.EntityKey {
	if items == nil {
		return nil
	}
	out := make([]registry.EntityKey, 0, len(items))
	for _, item := range items {
		key, _ := reg.ParseKey(item)
		out = append(out, key)
	}
	return out
}
