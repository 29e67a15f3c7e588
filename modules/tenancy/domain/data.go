package domain

import "errors"

var ErrTenantNotFound = errors.New("tenant not found")

// TenantRecord is the fallback tenant found or created by the default tenant resolver.
type TenantRecord struct {
	ID                int64  `json:"id"`
	Code              string `json:"code"`
	CreatedByResolver bool   `json:"createdByResolver"`
}

// TenantFilter restricts a row query by the state of the tenant column.
type TenantFilter int

const (
	TenantAny TenantFilter = iota
	TenantMissing
	TenantPresent
	// TenantOther matches rows whose tenant is set to anything but
	// CountQuery.TenantID. Row queries do not accept it.
	TenantOther
)

func (f TenantFilter) String() string {
	switch f {
	case TenantMissing:
		return "missing"
	case TenantPresent:
		return "present"
	case TenantOther:
		return "other"
	default:
		return "all"
	}
}

// Row is one record read for resolution or audit. Refs holds the selected
// reference columns keyed by column name; a nil value is a NULL reference.
type Row struct {
	ID     int64
	Tenant *int64
	Refs   map[string]*int64
}

func (r Row) Ref(column string) *int64 {
	if column == "id" {
		id := r.ID
		return &id
	}
	return r.Refs[column]
}

type RowQuery struct {
	Table        string
	TenantColumn string
	Filter       TenantFilter
	Columns      []string
	// AfterID and Limit page by primary key. Limit 0 reads every row.
	AfterID int64
	Limit   int
}

type CountQuery struct {
	Table        string
	TenantColumn string
	Filter       TenantFilter
	TenantID     int64
}

type Order struct {
	Column string
	Desc   bool
}

// LookupQuery fetches Select for every row of Table whose MatchColumn is in Keys.
// Rows with a NULL Select value are ignored. When several rows share a key the
// first one by OrderBy wins.
type LookupQuery struct {
	Table       string
	MatchColumn string
	Keys        []int64
	Select      string
	RequireTrue string
	OrderBy     []Order
}

// Operation sets the tenant column of one row. A batch of operations is atomic.
type Operation struct {
	Table        string
	TenantColumn string
	ID           int64
	TenantID     int64
}
