package policy

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
	"github.com/iota-uz/tenancy-backfill/pkg/metrics"
	"github.com/iota-uz/tenancy-backfill/pkg/summary"
	"github.com/iota-uz/tenancy-backfill/pkg/tracing"
)

const logPrefix = "[apply-rls]"

type Executor interface {
	Exec(ctx context.Context, stmt string) error
}

type Entry struct {
	Entity         registry.EntityKey `json:"entity"`
	Statements     []string           `json:"statements"`
	StatementCount int                `json:"statementCount"`
}

type Summary struct {
	DryRun          bool      `json:"dryRun"`
	Disable         bool      `json:"disable"`
	Force           bool      `json:"force"`
	PolicyPrefix    string    `json:"policyPrefix"`
	PolicyRoles     []string  `json:"policyRoles"`
	SessionVariable string    `json:"sessionVariable"`
	GeneratedAt     time.Time `json:"generatedAt"`
	TotalStatements int       `json:"totalStatements"`
	Entries         []Entry   `json:"entries"`
	SummaryFilePath string    `json:"summaryFilePath,omitempty"`
}

type Request struct {
	Filter        registry.Filter
	Options       Options
	SummaryPath   string
	SummaryStdout bool
}

type Applier struct {
	registry *registry.Registry
	exec     Executor
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewApplier(reg *registry.Registry, exec Executor, logger logrus.FieldLogger) *Applier {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &Applier{registry: reg, exec: exec, logger: logger, now: time.Now}
}

// Mapping resolves the table/column mapping of an entity.
func (a *Applier) Mapping(key registry.EntityKey) (Mapping, error) {
	d, ok := a.registry.Descriptor(key)
	if !ok {
		return Mapping{}, domain.NewConfigurationError("no table mapping for entity %q", key)
	}
	m := Mapping{
		Entity:     string(key),
		Table:      d.Table,
		Column:     a.registry.TenantColumn,
		ColumnType: a.registry.ColumnType,
	}
	return m, m.Validate()
}

// Apply generates the statements for every selected entity and executes
// them one by one unless DryRun is set. The first failing statement stops
// the run.
func (a *Applier) Apply(ctx context.Context, req Request) (*Summary, error) {
	opts := req.Options.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	sel, err := a.registry.Select(req.Filter)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.Tracer().Start(ctx, "policy.apply", trace.WithAttributes(
		attribute.String("tenancy.direction", opts.direction()),
		attribute.Bool("tenancy.dry_run", opts.DryRun),
	))
	defer span.End()

	mode := "execute"
	if opts.DryRun {
		mode = "dry-run"
	}
	counter := metrics.Use().PolicyStatements.WithLabelValues(opts.direction(), mode)

	s := &Summary{
		DryRun:          opts.DryRun,
		Disable:         opts.Disable,
		Force:           opts.Force,
		PolicyPrefix:    opts.Prefix,
		PolicyRoles:     opts.Roles,
		SessionVariable: opts.SessionVariable,
		Entries:         []Entry{},
	}
	if sel.Len() == 0 {
		a.logger.Warnf("%s No entities matched the provided filters.", logPrefix)
	}

	var runErr error
	for _, key := range sel.Keys() {
		m, err := a.Mapping(key)
		if err != nil {
			return nil, err
		}
		stmts := Statements(m, opts)
		s.Entries = append(s.Entries, Entry{Entity: key, Statements: stmts, StatementCount: len(stmts)})
		if runErr = a.run(ctx, key, stmts, opts); runErr != nil {
			break
		}
		counter.Add(float64(len(stmts)))
	}

	a.finalize(s, req)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, opts.direction()+" failed")
		return s, runErr
	}
	return s, nil
}

func (a *Applier) run(ctx context.Context, key registry.EntityKey, stmts []string, opts Options) error {
	log := a.logger.WithFields(logrus.Fields{"entity": key, "direction": opts.direction()})
	for _, stmt := range stmts {
		if opts.DryRun {
			log.Infof("%s (dry-run) %s", logPrefix, stmt)
			continue
		}
		log.Infof("%s Executing: %s", logPrefix, stmt)
		if err := a.exec.Exec(ctx, stmt); err != nil {
			fields := logrus.Fields{"statement": stmt}
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				fields["sqlstate"] = pgErr.Code
			}
			log.WithFields(fields).WithError(err).Errorf("%s Failed to %s row level security for %s.", logPrefix, opts.direction(), key)
			return &domain.ExecutionError{Entity: string(key), Direction: opts.direction(), Err: err}
		}
	}
	return nil
}

func (a *Applier) finalize(s *Summary, req Request) {
	for _, e := range s.Entries {
		s.TotalStatements += e.StatementCount
		a.logger.Infof("%s Summary %s: statements=%d.", logPrefix, e.Entity, e.StatementCount)
	}
	if len(s.Entries) == 0 {
		a.logger.Infof("%s No statements were generated for the selected entities.", logPrefix)
	}
	a.logger.Infof("%s Summary overall: statements=%d.", logPrefix, s.TotalStatements)
	s.GeneratedAt = a.now().UTC()

	if summary.Persist(a.logger, logPrefix, req.SummaryPath, s) {
		s.SummaryFilePath = req.SummaryPath
	}
	if req.SummaryStdout {
		summary.Emit(a.logger, logPrefix, s)
	}
}
