package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

type Metrics struct {
	BackfillPlanned *prometheus.CounterVec
	BackfillUpdated *prometheus.CounterVec
	ChunkDuration   *prometheus.HistogramVec

	AuditMissing           *prometheus.GaugeVec
	AuditMismatched        *prometheus.GaugeVec
	AuditWrongOrganization *prometheus.GaugeVec

	PolicyStatements *prometheus.CounterVec
}

var singleton = sync.OnceValue(func() *Metrics {
	return &Metrics{
		BackfillPlanned: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenancy",
			Name:      "backfill_planned_total",
			Help:      "Rows planned for a tenant id backfill, by reason tag.",
		}, []string{"entity", "reason"}),
		BackfillUpdated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenancy",
			Name:      "backfill_updated_total",
			Help:      "Rows whose tenant id was written by the backfill.",
		}, []string{"entity"}),
		ChunkDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tenancy",
			Name:      "backfill_chunk_duration_seconds",
			Help:      "Latency distribution of one backfill chunk transaction.",
			Buckets: []float64{
				0.005, 0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		}, []string{"entity"}),
		AuditMissing: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tenancy",
			Name:      "audit_missing_rows",
			Help:      "Rows without a tenant id seen by the last audit.",
		}, []string{"entity"}),
		AuditMismatched: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tenancy",
			Name:      "audit_mismatched_rows",
			Help:      "Rows whose tenant id disagrees with a referenced row, seen by the last audit.",
		}, []string{"entity"}),
		AuditWrongOrganization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tenancy",
			Name:      "audit_wrong_organization_rows",
			Help:      "Rows assigned to an organization other than the audit target, seen by the last scoped audit.",
		}, []string{"entity"}),
		PolicyStatements: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenancy",
			Name:      "policy_statements_total",
			Help:      "Row-level security statements generated, by direction and mode.",
		}, []string{"direction", "mode"}),
	}
})

func Use() *Metrics {
	return singleton()
}

// Push sends the default registry to a Prometheus Pushgateway.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if job == "" {
		job = "tenancy"
	}
	if err := push.New(url, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
