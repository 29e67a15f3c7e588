// Package orchestrator runs the backfill and the audit behind one
// configuration and folds both summaries into a single report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/audit"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/backfill"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/tenant"
	"github.com/iota-uz/tenancy-backfill/pkg/summary"
	"github.com/iota-uz/tenancy-backfill/pkg/tracing"
)

const (
	PopulateSummaryFile = "populate-summary.json"
	ValidateSummaryFile = "validate-summary.json"
	ReportFile          = "report.json"

	logPrefix = "[populate-and-validate]"
)

type PopulateStore interface {
	backfill.Store
	tenant.Repository
}

type Store interface {
	PopulateStore
	audit.Store
}

// Shared holds the options that fill either phase when the phase does not
// set them itself.
type Shared struct {
	Only               []registry.EntityKey
	Skip               []registry.EntityKey
	SummaryStdout      *bool
	MismatchSampleSize int
}

type Config struct {
	Registry *registry.Registry
	Store    Store
	Logger   logrus.FieldLogger

	// Optional per-phase handles; the shared Store and Logger are used otherwise.
	PopulateStore  PopulateStore
	ValidateStore  audit.Store
	PopulateLogger logrus.FieldLogger
	ValidateLogger logrus.FieldLogger

	DefaultOrgName string

	Populate              backfill.Options
	PopulateSummaryStdout *bool
	Validate              audit.Options
	ValidateSummaryStdout *bool
	Shared                Shared

	SkipPopulate bool
	SkipValidate bool

	SummaryDir   string
	ReportPath   string
	ReportStdout bool
}

type Report struct {
	RunID              uuid.UUID            `json:"runId"`
	GeneratedAt        time.Time            `json:"generatedAt"`
	Populate           *backfill.Summary    `json:"populate,omitempty"`
	Validate           *audit.Summary       `json:"validate,omitempty"`
	UpdatedEntities    []registry.EntityKey `json:"updatedEntities"`
	TotalPlanned       int                  `json:"totalPlanned"`
	TotalUpdated       int                  `json:"totalUpdated"`
	MissingEntities    []registry.EntityKey `json:"missingEntities"`
	MismatchedEntities []registry.EntityKey `json:"mismatchedEntities"`
	Warnings           []string             `json:"warnings"`
	SummaryFilePath    string               `json:"summaryFilePath,omitempty"`
}

// Merge resolves the effective phase options. Phase values win; shared
// values fill the gaps; the populate filter is copied to validation when
// validation has none; SummaryDir derives the summary paths that are unset.
func Merge(cfg Config) (backfill.Options, audit.Options) {
	p := cfg.Populate
	v := cfg.Validate

	if cfg.SummaryDir != "" {
		if p.SummaryPath == "" {
			p.SummaryPath = filepath.Join(cfg.SummaryDir, PopulateSummaryFile)
		}
		if v.SummaryPath == "" {
			v.SummaryPath = filepath.Join(cfg.SummaryDir, ValidateSummaryFile)
		}
	}

	if len(cfg.Shared.Only) > 0 {
		if p.Filter.Only == nil {
			p.Filter.Only = clone(cfg.Shared.Only)
		}
		if v.Filter.Only == nil {
			v.Filter.Only = clone(cfg.Shared.Only)
		}
	}
	if len(cfg.Shared.Skip) > 0 {
		if p.Filter.Skip == nil {
			p.Filter.Skip = clone(cfg.Shared.Skip)
		}
		if v.Filter.Skip == nil {
			v.Filter.Skip = clone(cfg.Shared.Skip)
		}
	}
	if len(p.Filter.Only) > 0 && v.Filter.Only == nil {
		v.Filter.Only = clone(p.Filter.Only)
	}
	if len(p.Filter.Skip) > 0 && v.Filter.Skip == nil {
		v.Filter.Skip = clone(p.Filter.Skip)
	}

	p.SummaryStdout = pick(cfg.PopulateSummaryStdout, cfg.Shared.SummaryStdout, p.SummaryStdout)
	v.SummaryStdout = pick(cfg.ValidateSummaryStdout, cfg.Shared.SummaryStdout, v.SummaryStdout)

	if v.MismatchSampleSize == 0 && cfg.Shared.MismatchSampleSize > 0 {
		v.MismatchSampleSize = cfg.Shared.MismatchSampleSize
	}
	return p, v
}

// Run executes PLAN/EXECUTE for the backfill, then the audit, then builds,
// persists and emits the report. A validation failure is returned only
// after the report is out.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	popOpts, valOpts := Merge(cfg)

	if !cfg.SkipPopulate {
		if _, err := cfg.Registry.Select(popOpts.Filter); err != nil {
			return nil, err
		}
	}
	if !cfg.SkipValidate {
		if _, err := cfg.Registry.Select(valOpts.Filter); err != nil {
			return nil, err
		}
	}

	ctx, span := tracing.Tracer().Start(ctx, "orchestrator.run")
	defer span.End()

	report := &Report{
		RunID:              uuid.New(),
		UpdatedEntities:    []registry.EntityKey{},
		MissingEntities:    []registry.EntityKey{},
		MismatchedEntities: []registry.EntityKey{},
		Warnings:           []string{},
	}
	var failure error

	if cfg.SkipPopulate {
		logger.Infof("%s Population skipped by configuration.", logPrefix)
		report.Warnings = append(report.Warnings, "population phase skipped by configuration")
	} else {
		store := cfg.PopulateStore
		if store == nil {
			store = cfg.Store
		}
		plog := firstLogger(cfg.PopulateLogger, logger)
		exec := backfill.NewExecutor(cfg.Registry, store, tenant.NewResolver(store, plog, cfg.DefaultOrgName), plog)
		s, err := exec.Run(ctx, popOpts)
		report.Populate = s
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("population failed: %v", err))
			finish(cfg, logger, report)
			return report, err
		}
	}

	if cfg.SkipValidate {
		logger.Infof("%s Validation skipped by configuration.", logPrefix)
		report.Warnings = append(report.Warnings, "validation phase skipped by configuration")
	} else {
		var store audit.Store = cfg.ValidateStore
		if store == nil {
			store = cfg.Store
		}
		s, err := audit.NewAuditor(cfg.Registry, store, firstLogger(cfg.ValidateLogger, logger)).Run(ctx, valOpts)
		report.Validate = s
		if err != nil {
			if !errors.Is(err, domain.ErrValidationFailed) {
				report.Warnings = append(report.Warnings, fmt.Sprintf("validation failed: %v", err))
				finish(cfg, logger, report)
				return report, err
			}
			failure = err
		}
	}

	finish(cfg, logger, report)
	return report, failure
}

func finish(cfg Config, logger logrus.FieldLogger, r *Report) {
	reg := cfg.Registry
	if p := r.Populate; p != nil {
		r.UpdatedEntities = append(r.UpdatedEntities[:0], p.UpdatedEntities(reg)...)
		r.TotalPlanned = p.Overall.Planned
		r.TotalUpdated = p.Overall.Updated
		if p.DryRun {
			r.Warnings = append(r.Warnings, fmt.Sprintf("dry-run: %d records planned, none written", p.Overall.Planned))
		}
		logger.Infof("%s populate -> defaultOrganizationId=%d updated=%d.", logPrefix, p.DefaultOrganizationID, p.Overall.Updated)
	}
	if v := r.Validate; v != nil {
		r.MissingEntities = append(r.MissingEntities, v.MissingEntities...)
		r.MismatchedEntities = append(r.MismatchedEntities, v.MismatchedEntities...)
		if v.HasMissing {
			r.Warnings = append(r.Warnings, fmt.Sprintf("missing tenant ids remain in %d entities", len(v.MissingEntities)))
		}
		if v.HasMismatched {
			r.Warnings = append(r.Warnings, fmt.Sprintf("tenant id mismatches found in %d entities", len(v.MismatchedEntities)))
		}
		if v.HasWrongOrganization {
			r.Warnings = append(r.Warnings, fmt.Sprintf("rows of another organization found in %d entities", len(v.WrongOrganizationEntities)))
		}
		logger.Infof("%s validate -> entities=%d missing=%s mismatched=%s.", logPrefix,
			len(v.Processed), describe(v.MissingEntities), describe(v.MismatchedEntities))
	}
	for _, w := range r.Warnings {
		logger.Warnf("%s %s", logPrefix, w)
	}
	r.GeneratedAt = time.Now().UTC()

	path := cfg.ReportPath
	if path == "" && cfg.SummaryDir != "" {
		path = filepath.Join(cfg.SummaryDir, ReportFile)
	}
	if summary.Persist(logger, logPrefix, path, r) {
		r.SummaryFilePath = path
	}
	if cfg.ReportStdout {
		summary.Emit(logger, logPrefix, r)
	}
}

func describe(keys []registry.EntityKey) string {
	if len(keys) == 0 {
		return "none"
	}
	out := string(keys[0])
	for _, k := range keys[1:] {
		out += ", " + string(k)
	}
	return out
}

func pick(phase, shared *bool, fallback bool) bool {
	if phase != nil {
		return *phase
	}
	if shared != nil {
		return *shared
	}
	return fallback
}

func firstLogger(override, fallback logrus.FieldLogger) logrus.FieldLogger {
	if override != nil {
		return override
	}
	return fallback
}

func clone(keys []registry.EntityKey) []registry.EntityKey {
	return append([]registry.EntityKey{}, keys...)
}
