package domain

const (
	ReasonFallback      = "fallback:default-tenant"
	reasonInheritPrefix = "inherit:"
)

func InheritReason(relation string) string {
	return reasonInheritPrefix + relation
}

// UpdatePlan is the resolved tenant for one row lacking it.
type UpdatePlan struct {
	RecordID         int64  `json:"recordId"`
	ResolvedTenantID int64  `json:"resolvedTenantId"`
	Reason           string `json:"reasonTag"`
}

// Chunk splits plans into consecutive slices of at most size elements.
// size is coerced to at least 1.
func Chunk(plans []UpdatePlan, size int) [][]UpdatePlan {
	if size < 1 {
		size = 1
	}
	if len(plans) == 0 {
		return nil
	}
	chunks := make([][]UpdatePlan, 0, (len(plans)+size-1)/size)
	for start := 0; start < len(plans); start += size {
		end := start + size
		if end > len(plans) {
			end = len(plans)
		}
		chunks = append(chunks, plans[start:end])
	}
	return chunks
}

func ChunkCount(planned, size int) int {
	if size < 1 {
		size = 1
	}
	if planned <= 0 {
		return 0
	}
	return (planned + size - 1) / size
}
