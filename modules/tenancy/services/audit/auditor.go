package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/services/resolve"
	"github.com/iota-uz/tenancy-backfill/pkg/metrics"
	"github.com/iota-uz/tenancy-backfill/pkg/summary"
	"github.com/iota-uz/tenancy-backfill/pkg/tracing"
)

type Store interface {
	resolve.Lookuper
	CountRows(ctx context.Context, q domain.CountQuery) (int64, error)
	FindRows(ctx context.Context, q domain.RowQuery) ([]domain.Row, error)
	FindTenantByCode(ctx context.Context, code string) (domain.TenantRecord, error)
}

type Auditor struct {
	registry *registry.Registry
	store    Store
	resolver *resolve.Resolver
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewAuditor(reg *registry.Registry, store Store, logger logrus.FieldLogger) *Auditor {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &Auditor{
		registry: reg,
		store:    store,
		resolver: resolve.New(reg, store),
		logger:   logger,
		now:      time.Now,
	}
}

// AuditEntity counts all rows and rows without a tenant with two separate
// queries, derives present, and checks tenant consistency against direct
// references.
func (a *Auditor) AuditEntity(ctx context.Context, d registry.Descriptor, opts Options) (EntitySummary, error) {
	started := a.now()
	ctx, span := tracing.Tracer().Start(ctx, "audit.entity", trace.WithAttributes(
		attribute.String("tenancy.entity", string(d.Key)),
	))
	defer span.End()

	sum := EntitySummary{MismatchSample: []string{}}
	fail := func(err error) (EntitySummary, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit failed")
		a.logger.WithField("entity", d.Key).WithError(err).Errorf("%s %s: failed to audit.", logPrefix, d.Key)
		return sum, &domain.ExecutionError{Entity: string(d.Key), Direction: "audit", Err: err}
	}

	total, err := a.store.CountRows(ctx, domain.CountQuery{
		Table:        d.Table,
		TenantColumn: a.registry.TenantColumn,
		Filter:       domain.TenantAny,
	})
	if err != nil {
		return fail(err)
	}
	missing, err := a.store.CountRows(ctx, domain.CountQuery{
		Table:        d.Table,
		TenantColumn: a.registry.TenantColumn,
		Filter:       domain.TenantMissing,
	})
	if err != nil {
		return fail(err)
	}
	sum.Total = total
	sum.Missing = missing
	sum.Present = total - missing
	if sum.Present < 0 {
		sum.Present = 0
	}
	if opts.OrganizationID > 0 {
		wrong, err := a.store.CountRows(ctx, domain.CountQuery{
			Table:        d.Table,
			TenantColumn: a.registry.TenantColumn,
			Filter:       domain.TenantOther,
			TenantID:     opts.OrganizationID,
		})
		if err != nil {
			return fail(err)
		}
		sum.WrongOrganization = &wrong
	}

	if !opts.SkipMismatchCheck && len(d.Checks) > 0 {
		if err := a.checkMismatches(ctx, d, opts, &sum); err != nil {
			return fail(err)
		}
	}

	sum.DurationMs = a.now().Sub(started).Milliseconds()
	m := metrics.Use()
	m.AuditMissing.WithLabelValues(string(d.Key)).Set(float64(sum.Missing))
	m.AuditMismatched.WithLabelValues(string(d.Key)).Set(float64(sum.Mismatched))
	if sum.WrongOrganization != nil {
		m.AuditWrongOrganization.WithLabelValues(string(d.Key)).Set(float64(*sum.WrongOrganization))
	}
	return sum, nil
}

// target resolves the organization a scoped audit checks against.
func (a *Auditor) target(ctx context.Context, opts Options) (*domain.TenantRecord, error) {
	code := strings.TrimSpace(opts.OrganizationCode)
	switch {
	case opts.OrganizationID > 0 && code != "":
		return nil, domain.NewConfigurationError("organization id and organization code are mutually exclusive")
	case opts.OrganizationID < 0:
		return nil, domain.NewConfigurationError("organization id must be a positive integer")
	case opts.OrganizationID > 0:
		return &domain.TenantRecord{ID: opts.OrganizationID}, nil
	case code != "":
		rec, err := a.store.FindTenantByCode(ctx, code)
		if errors.Is(err, domain.ErrTenantNotFound) {
			return nil, domain.NewConfigurationError("organization %q not found", code)
		}
		if err != nil {
			return nil, &domain.ExecutionError{Direction: "audit", Err: err}
		}
		return &rec, nil
	}
	return nil, nil
}

// checkMismatches scans rows that carry a tenant in id-ordered pages and
// resolves every check relation for the page with batched lookups.
func (a *Auditor) checkMismatches(ctx context.Context, d registry.Descriptor, opts Options, sum *EntitySummary) error {
	columns := registry.ReferenceColumns(d.Checks)
	var after int64
	for {
		rows, err := a.store.FindRows(ctx, domain.RowQuery{
			Table:        d.Table,
			TenantColumn: a.registry.TenantColumn,
			Filter:       domain.TenantPresent,
			Columns:      columns,
			AfterID:      after,
			Limit:        opts.pageSize(),
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		resolved := make([]map[int64]int64, len(d.Checks))
		for i, rel := range d.Checks {
			m, err := a.resolver.Follow(ctx, rel, rows)
			if err != nil {
				return err
			}
			resolved[i] = m
		}

		for _, row := range rows {
			var conflicts []string
			for i, rel := range d.Checks {
				ref, ok := resolved[i][row.ID]
				if ok && row.Tenant != nil && ref != *row.Tenant {
					conflicts = append(conflicts, fmt.Sprintf("%s=%d", rel.Name, ref))
				}
			}
			if len(conflicts) == 0 {
				continue
			}
			sum.Mismatched++
			if len(sum.MismatchSample) < opts.sampleSize() {
				sum.MismatchSample = append(sum.MismatchSample, fmt.Sprintf("id=%d %s=%d %s",
					row.ID, a.registry.TenantColumn, *row.Tenant, strings.Join(conflicts, " ")))
			}
		}

		after = rows[len(rows)-1].ID
		if len(rows) < opts.pageSize() {
			return nil
		}
	}
}

// Run audits every selected entity. When FailOnMissing or FailOnMismatch
// trips, the summary is logged, persisted and emitted first and a
// ValidationFailure is returned afterwards.
func (a *Auditor) Run(ctx context.Context, opts Options) (*Summary, error) {
	sel, err := a.registry.Select(opts.Filter)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.Tracer().Start(ctx, "audit.run")
	defer span.End()

	org, err := a.target(ctx, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s := &Summary{
		RunID:                     uuid.New(),
		Processed:                 make(map[registry.EntityKey]EntitySummary),
		MissingEntities:           []registry.EntityKey{},
		MismatchedEntities:        []registry.EntityKey{},
		Organization:              org,
		WrongOrganizationEntities: []registry.EntityKey{},
	}
	if org != nil {
		opts.OrganizationID = org.ID
		a.logger.Infof("%s Auditing against organization %d.", logPrefix, org.ID)
	}
	if sel.Len() == 0 {
		a.logger.Warnf("%s No entities selected for validation.", logPrefix)
	}

	for _, key := range a.registry.Keys() {
		if !sel.Includes(key) {
			a.logger.WithField("entity", key).Infof("%s %s: skipped by configuration.", logPrefix, key)
			continue
		}
		d, _ := a.registry.Descriptor(key)
		es, err := a.AuditEntity(ctx, d, opts)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		s.Processed[key] = es

		log := a.logger.WithField("entity", key)
		msg := fmt.Sprintf("%s %s: total=%d, missing=%d, present=%d, mismatched=%d.",
			logPrefix, key, es.Total, es.Missing, es.Present, es.Mismatched)
		if es.Missing > 0 {
			log.Warn(msg)
			s.MissingEntities = append(s.MissingEntities, key)
		} else {
			log.Info(msg)
		}
		if es.Mismatched > 0 {
			s.MismatchedEntities = append(s.MismatchedEntities, key)
			sample := ""
			if len(es.MismatchSample) > 0 {
				sample = " Sample: " + strings.Join(es.MismatchSample, "; ")
			}
			log.Warnf("%s %s: detected %d records with inconsistent %s references.%s",
				logPrefix, key, es.Mismatched, a.registry.TenantColumn, sample)
		}
		if es.WrongOrganization != nil && *es.WrongOrganization > 0 {
			s.WrongOrganizationEntities = append(s.WrongOrganizationEntities, key)
			log.Warnf("%s %s: %d records belong to another organization.", logPrefix, key, *es.WrongOrganization)
		}
	}

	s.HasMissing = len(s.MissingEntities) > 0
	s.HasMismatched = len(s.MismatchedEntities) > 0
	s.HasWrongOrganization = len(s.WrongOrganizationEntities) > 0
	s.Overall = aggregate(s.Processed)
	s.GeneratedAt = a.now().UTC()

	if s.HasMissing {
		a.logger.Warnf("%s Missing %s detected in %s.", logPrefix, a.registry.TenantColumn, strings.Join(keyStrings(s.MissingEntities), ", "))
	} else {
		a.logger.Infof("%s All processed entities have %s populated.", logPrefix, a.registry.TenantColumn)
	}
	if s.HasMismatched {
		a.logger.Warnf("%s %s mismatches detected in %s.", logPrefix, a.registry.TenantColumn, strings.Join(keyStrings(s.MismatchedEntities), ", "))
	}
	if s.HasWrongOrganization {
		a.logger.Warnf("%s Rows outside organization %d found in %s.", logPrefix, org.ID, strings.Join(keyStrings(s.WrongOrganizationEntities), ", "))
	}

	if summary.Persist(a.logger, logPrefix, opts.SummaryPath, s) {
		s.SummaryFilePath = opts.SummaryPath
	}
	if opts.SummaryStdout {
		summary.Emit(a.logger, logPrefix, s)
	}

	if failure := Failure(s, opts); failure != nil {
		a.logger.WithError(failure).Errorf("%s Validation failed.", logPrefix)
		span.SetStatus(codes.Error, "validation failed")
		return s, failure
	}
	return s, nil
}

// Failure returns the ValidationFailure the options ask for, or nil. Rows
// assigned to another organization always fail a scoped audit.
func Failure(s *Summary, opts Options) error {
	var vf domain.ValidationFailure
	if opts.FailOnMissing && s.HasMissing {
		vf.MissingEntities = keyStrings(s.MissingEntities)
	}
	if opts.FailOnMismatch && s.HasMismatched {
		vf.MismatchedEntities = keyStrings(s.MismatchedEntities)
	}
	if s.HasWrongOrganization {
		vf.WrongOrganizationEntities = keyStrings(s.WrongOrganizationEntities)
	}
	if len(vf.MissingEntities) == 0 && len(vf.MismatchedEntities) == 0 && len(vf.WrongOrganizationEntities) == 0 {
		return nil
	}
	return &vf
}
