package backfill

import (
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain/registry"
)

const (
	DefaultChunkSize = 25
	DefaultOrgCode   = "DEFAULT"
	logPrefix        = "[populate-org]"
)

type Options struct {
	DryRun         bool
	ChunkSize      int
	Filter         registry.Filter
	DefaultOrgCode string
	// DefaultTenantID skips tenant resolution when positive.
	DefaultTenantID int64
	SummaryPath     string
	SummaryStdout   bool
}

func (o Options) chunkSize() int {
	if o.ChunkSize < 1 {
		if o.ChunkSize == 0 {
			return DefaultChunkSize
		}
		return 1
	}
	return o.ChunkSize
}

func (o Options) orgCode() string {
	if o.DefaultOrgCode == "" {
		return DefaultOrgCode
	}
	return o.DefaultOrgCode
}

type EntitySummary struct {
	Planned    int            `json:"planned"`
	Updated    int            `json:"updated"`
	Reasons    map[string]int `json:"reasons"`
	DurationMs int64          `json:"durationMs"`
	Chunks     int            `json:"chunks"`
}

type Overall struct {
	Entities   int            `json:"entities"`
	Planned    int            `json:"planned"`
	Updated    int            `json:"updated"`
	Chunks     int            `json:"chunks"`
	DurationMs int64          `json:"durationMs"`
	Reasons    map[string]int `json:"reasons"`
}

type Summary struct {
	RunID                      uuid.UUID                            `json:"runId"`
	GeneratedAt                time.Time                            `json:"generatedAt"`
	DryRun                     bool                                 `json:"dryRun"`
	ChunkSize                  int                                  `json:"chunkSize"`
	DefaultOrganizationID      int64                                `json:"defaultOrganizationId"`
	DefaultOrganizationCode    string                               `json:"defaultOrganizationCode"`
	DefaultOrganizationCreated bool                                 `json:"defaultOrganizationCreated"`
	Processed                  map[registry.EntityKey]EntitySummary `json:"processed"`
	Skipped                    []registry.EntityKey                 `json:"skipped"`
	// Aborted lists selected entities left untouched because an earlier
	// entity failed.
	Aborted         []registry.EntityKey `json:"aborted"`
	Overall         Overall              `json:"overall"`
	SummaryFilePath string               `json:"summaryFilePath,omitempty"`
}

// UpdatedEntities lists entities with at least one written row, in registry order.
func (s *Summary) UpdatedEntities(reg *registry.Registry) []registry.EntityKey {
	var out []registry.EntityKey
	for _, key := range reg.Keys() {
		if s.Processed[key].Updated > 0 {
			out = append(out, key)
		}
	}
	return out
}

// aggregate sums the entities that ran; skipped and aborted ones only carry
// zero counters.
func aggregate(processed map[registry.EntityKey]EntitySummary, ran []registry.EntityKey) Overall {
	o := Overall{Reasons: make(map[string]int)}
	for _, key := range ran {
		s := processed[key]
		o.Entities++
		o.Planned += s.Planned
		o.Updated += s.Updated
		o.Chunks += s.Chunks
		o.DurationMs += s.DurationMs
		for reason, n := range s.Reasons {
			o.Reasons[reason] += n
		}
	}
	return o
}
