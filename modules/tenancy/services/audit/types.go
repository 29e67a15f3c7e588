package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
)

const (
	DefaultMismatchSampleSize = 5
	DefaultPageSize           = 500
	logPrefix                 = "[validate-org]"
)

type Options struct {
	Filter        registry.Filter
	SummaryPath   string
	SummaryStdout bool
	FailOnMissing bool
	// FailOnMismatch additionally fails the run when references disagree.
	FailOnMismatch     bool
	SkipMismatchCheck  bool
	MismatchSampleSize int
	PageSize           int
	// OrganizationID or OrganizationCode scope the audit to one organization:
	// rows assigned to any other organization are counted and fail the run.
	OrganizationID   int64
	OrganizationCode string
}

func (o Options) sampleSize() int {
	if o.MismatchSampleSize <= 0 {
		return DefaultMismatchSampleSize
	}
	return o.MismatchSampleSize
}

func (o Options) pageSize() int {
	if o.PageSize <= 0 {
		return DefaultPageSize
	}
	return o.PageSize
}

type EntitySummary struct {
	Total          int64    `json:"total"`
	Missing        int64    `json:"missing"`
	Present        int64    `json:"present"`
	Mismatched     int64    `json:"mismatched"`
	MismatchSample []string `json:"mismatchSample"`
	// WrongOrganization is set only for an organization-scoped audit.
	WrongOrganization *int64 `json:"wrongOrganization,omitempty"`
	DurationMs        int64  `json:"durationMs"`
}

type Overall struct {
	Entities   int   `json:"entities"`
	Total      int64 `json:"total"`
	Missing    int64 `json:"missing"`
	Present    int64 `json:"present"`
	Mismatched int64 `json:"mismatched"`
	// WrongOrganization sums the scoped counts.
	WrongOrganization int64 `json:"wrongOrganization"`
	DurationMs        int64 `json:"durationMs"`
}

type Summary struct {
	RunID              uuid.UUID                            `json:"runId"`
	GeneratedAt        time.Time                            `json:"generatedAt"`
	Processed          map[registry.EntityKey]EntitySummary `json:"processed"`
	Overall            Overall                              `json:"overall"`
	MissingEntities    []registry.EntityKey                 `json:"missingEntities"`
	MismatchedEntities []registry.EntityKey                 `json:"mismatchedEntities"`
	HasMissing         bool                                 `json:"hasMissing"`
	HasMismatched      bool                                 `json:"hasMismatched"`
	// Organization is the audit target when the run is scoped.
	Organization              *domain.TenantRecord `json:"organization,omitempty"`
	WrongOrganizationEntities []registry.EntityKey `json:"wrongOrganizationEntities"`
	HasWrongOrganization      bool                 `json:"hasWrongOrganization"`
	SummaryFilePath           string               `json:"summaryFilePath,omitempty"`
}

func aggregate(processed map[registry.EntityKey]EntitySummary) Overall {
	var o Overall
	for _, s := range processed {
		o.Entities++
		o.Total += s.Total
		o.Missing += s.Missing
		o.Present += s.Present
		o.Mismatched += s.Mismatched
		if s.WrongOrganization != nil {
			o.WrongOrganization += *s.WrongOrganization
		}
		o.DurationMs += s.DurationMs
	}
	return o
}

func keyStrings(keys []registry.EntityKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
