package backfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/resolve"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/tenant"
	"github.com/iota-uz/tenancy-backfill/pkg/metrics"
	"github.com/iota-uz/tenancy-backfill/pkg/summary"
	"github.com/iota-uz/tenancy-backfill/pkg/tracing"
)

type Store interface {
	resolve.Lookuper
	FindRows(ctx context.Context, q domain.RowQuery) ([]domain.Row, error)
	RunBatch(ctx context.Context, ops []domain.Operation) error
}

type Executor struct {
	registry *registry.Registry
	store    Store
	resolver *resolve.Resolver
	tenants  *tenant.Resolver
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewExecutor(reg *registry.Registry, store Store, tenants *tenant.Resolver, logger logrus.FieldLogger) *Executor {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &Executor{
		registry: reg,
		store:    store,
		resolver: resolve.New(reg, store),
		tenants:  tenants,
		logger:   logger,
		now:      time.Now,
	}
}

// RunEntity plans the backfill of one entity and, unless dry-run is set,
// writes it in chunks. Each chunk is one atomic batch; a failing chunk stops
// the entity and leaves earlier chunks committed.
func (e *Executor) RunEntity(ctx context.Context, d registry.Descriptor, defaultTenantID int64, opts Options) (EntitySummary, error) {
	started := e.now()
	ctx, span := tracing.Tracer().Start(ctx, "backfill.entity", trace.WithAttributes(
		attribute.String("tenancy.entity", string(d.Key)),
		attribute.Bool("tenancy.dry_run", opts.DryRun),
	))
	defer span.End()

	log := e.logger.WithField("entity", d.Key)
	sum := EntitySummary{Reasons: map[string]int{}}
	finish := func() EntitySummary {
		sum.DurationMs = e.now().Sub(started).Milliseconds()
		return sum
	}
	fail := func(direction string, err error) (EntitySummary, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, direction)
		entry := log.WithError(err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			entry = entry.WithField("sqlstate", pgErr.Code)
		}
		entry.Errorf("%s %s: failed to %s.", logPrefix, d.Key, direction)
		return finish(), &domain.ExecutionError{Entity: string(d.Key), Direction: direction, Err: err}
	}

	rows, err := e.store.FindRows(ctx, domain.RowQuery{
		Table:        d.Table,
		TenantColumn: e.registry.TenantColumn,
		Filter:       domain.TenantMissing,
		Columns:      registry.ReferenceColumns(d.Relations),
	})
	if err != nil {
		return fail("plan", err)
	}
	plans, err := e.resolver.Plan(ctx, d, rows, defaultTenantID)
	if err != nil {
		return fail("plan", err)
	}

	sum.Planned = len(plans)
	sum.Reasons = resolve.Reasons(plans)
	span.SetAttributes(attribute.Int("tenancy.planned", sum.Planned))
	m := metrics.Use()
	for reason, n := range sum.Reasons {
		m.BackfillPlanned.WithLabelValues(string(d.Key), reason).Add(float64(n))
	}

	if len(plans) == 0 {
		log.Infof("%s %s: no pending records.", logPrefix, d.Key)
		return finish(), nil
	}
	reasons := FormatReasons(sum.Reasons)
	if opts.DryRun {
		log.Infof("%s %s: dry-run active, %d records would be updated (%s).", logPrefix, d.Key, len(plans), reasons)
		return finish(), nil
	}

	for i, chunk := range domain.Chunk(plans, opts.chunkSize()) {
		ops := make([]domain.Operation, len(chunk))
		for j, p := range chunk {
			ops[j] = domain.Operation{
				Table:        d.Table,
				TenantColumn: e.registry.TenantColumn,
				ID:           p.RecordID,
				TenantID:     p.ResolvedTenantID,
			}
		}
		chunkStarted := time.Now()
		if err := e.store.RunBatch(ctx, ops); err != nil {
			log = log.WithField("chunk", i+1)
			return fail("update", fmt.Errorf("chunk %d: %w", i+1, err))
		}
		m.ChunkDuration.WithLabelValues(string(d.Key)).Observe(time.Since(chunkStarted).Seconds())
		m.BackfillUpdated.WithLabelValues(string(d.Key)).Add(float64(len(chunk)))
		sum.Updated += len(chunk)
		sum.Chunks++
		log.WithField("chunk", i+1).Debugf("%s %s: chunk %d committed (%d records).", logPrefix, d.Key, i+1, len(chunk))
	}

	log.Infof("%s %s: updated %d records in %d chunks (%s).", logPrefix, d.Key, sum.Updated, sum.Chunks, reasons)
	return finish(), nil
}

// Run resolves the default tenant and backfills every selected entity in
// registry order. Entities left out by the filter are reported with zero
// counters. The summary is persisted and emitted even when an entity fails.
func (e *Executor) Run(ctx context.Context, opts Options) (*Summary, error) {
	sel, err := e.registry.Select(opts.Filter)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.Tracer().Start(ctx, "backfill.run")
	defer span.End()

	def := domain.TenantRecord{ID: opts.DefaultTenantID, Code: opts.orgCode()}
	if def.ID <= 0 {
		def, err = e.tenants.ResolveDefault(ctx, opts.orgCode())
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	s := &Summary{
		RunID:                      uuid.New(),
		DryRun:                     opts.DryRun,
		ChunkSize:                  opts.chunkSize(),
		DefaultOrganizationID:      def.ID,
		DefaultOrganizationCode:    def.Code,
		DefaultOrganizationCreated: def.CreatedByResolver,
		Processed:                  make(map[registry.EntityKey]EntitySummary),
		Skipped:                    []registry.EntityKey{},
		Aborted:                    []registry.EntityKey{},
	}
	if sel.Len() == 0 {
		e.logger.Warnf("%s No entities selected for population.", logPrefix)
	}

	var runErr error
	var ran []registry.EntityKey
	for _, key := range e.registry.Keys() {
		if !sel.Includes(key) {
			s.Processed[key] = EntitySummary{Reasons: map[string]int{}}
			s.Skipped = append(s.Skipped, key)
			e.logger.WithField("entity", key).Infof("%s %s: skipped by configuration.", logPrefix, key)
			continue
		}
		if runErr != nil {
			s.Processed[key] = EntitySummary{Reasons: map[string]int{}}
			s.Aborted = append(s.Aborted, key)
			continue
		}
		d, _ := e.registry.Descriptor(key)
		es, err := e.RunEntity(ctx, d, def.ID, opts)
		s.Processed[key] = es
		ran = append(ran, key)
		if err != nil {
			runErr = err
		}
	}
	if len(s.Aborted) > 0 {
		e.logger.Warnf("%s Not processed after failure: %s.", logPrefix, joinKeys(s.Aborted))
	}

	s.Overall = aggregate(s.Processed, ran)
	s.GeneratedAt = e.now().UTC()
	e.logger.Infof("%s Summary overall: planned=%d, updated=%d, chunks=%d.", logPrefix, s.Overall.Planned, s.Overall.Updated, s.Overall.Chunks)

	if summary.Persist(e.logger, logPrefix, opts.SummaryPath, s) {
		s.SummaryFilePath = opts.SummaryPath
	}
	if opts.SummaryStdout {
		summary.Emit(e.logger, logPrefix, s)
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "backfill failed")
		return s, runErr
	}
	return s, nil
}

func joinKeys(keys []registry.EntityKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

// FormatReasons renders a reason histogram as "tag=n, tag=n" sorted by tag.
func FormatReasons(reasons map[string]int) string {
	if len(reasons) == 0 {
		return "no-updates"
	}
	tags := make([]string, 0, len(reasons))
	for tag := range reasons {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = fmt.Sprintf("%s=%d", tag, reasons[tag])
	}
	return strings.Join(parts, ", ")
}
