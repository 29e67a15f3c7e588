// Package policy generates and applies row-level security policies gated on a
// session variable.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
)

const (
	DefaultPrefix          = "rls_org"
	DefaultSessionVariable = "app.current_organization_id"
	DefaultRole            = "PUBLIC"

	maxSuffixLen = 60
)

var (
	validIdent      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	validSessionVar = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)+$`)
	validColumnType = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]*$`)
	nonAlnum        = regexp.MustCompile(`[^a-z0-9]+`)
)

// Mapping is the physical location of one entity's tenant column.
type Mapping struct {
	Entity     string
	Table      string
	Column     string
	ColumnType string
}

type Options struct {
	DryRun          bool
	Disable         bool
	Force           bool
	Prefix          string
	Roles           []string
	SessionVariable string
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.SessionVariable == "" {
		o.SessionVariable = DefaultSessionVariable
	}
	roles := make([]string, 0, len(o.Roles))
	for _, role := range o.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			role = DefaultRole
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		roles = []string{DefaultRole}
	}
	o.Roles = roles
	return o
}

func (o Options) Validate() error {
	if !validIdent.MatchString(o.Prefix) {
		return domain.NewConfigurationError("invalid policy prefix %q", o.Prefix)
	}
	if !validSessionVar.MatchString(o.SessionVariable) {
		return domain.NewConfigurationError("invalid session variable %q (expected a dotted name such as app.tenant)", o.SessionVariable)
	}
	if len(o.Roles) == 0 {
		return domain.NewConfigurationError("at least one policy role is required")
	}
	for _, role := range o.Roles {
		if !validIdent.MatchString(role) {
			return domain.NewConfigurationError("invalid policy role %q", role)
		}
	}
	return nil
}

func (m Mapping) Validate() error {
	if m.Table == "" || m.Column == "" {
		return domain.NewConfigurationError("entity %s: table and column are required", m.Entity)
	}
	if !validColumnType.MatchString(m.ColumnType) {
		return domain.NewConfigurationError("entity %s: invalid column type %q", m.Entity, m.ColumnType)
	}
	return nil
}

func (o Options) direction() string {
	if o.Disable {
		return "disable"
	}
	return "enable"
}

// SanitizeSuffix lowercases value, collapses non-alphanumeric runs to "_",
// trims underscores and caps the result at 60 characters.
func SanitizeSuffix(value string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(value), "_")
	s = strings.Trim(s, "_")
	if len(s) > maxSuffixLen {
		s = s[:maxSuffixLen]
	}
	return s
}

func PolicyName(prefix, entity string) string {
	return prefix + "_" + SanitizeSuffix(entity)
}

// Condition treats an unset session value and a NULL tenant column as
// visible; otherwise the column must equal the session value.
func Condition(column, columnType, sessionVariable string) string {
	col := pq.QuoteIdentifier(column)
	session := fmt.Sprintf("NULLIF(current_setting(%s, true), '')", pq.QuoteLiteral(sessionVariable))
	return fmt.Sprintf("(%s IS NULL OR %s IS NULL OR %s = (%s)::%s)", session, col, col, session, columnType)
}

// Statements returns the ordered DDL for one mapping. Output depends only
// on its inputs.
func Statements(m Mapping, opts Options) []string {
	table := pq.QuoteIdentifier(m.Table)
	name := pq.QuoteIdentifier(PolicyName(opts.Prefix, m.Entity))
	drop := fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", name, table)

	if opts.Disable {
		return []string{
			drop,
			fmt.Sprintf("ALTER TABLE %s NO FORCE ROW LEVEL SECURITY", table),
			fmt.Sprintf("ALTER TABLE %s DISABLE ROW LEVEL SECURITY", table),
		}
	}

	force := "NO FORCE"
	if opts.Force {
		force = "FORCE"
	}
	cond := Condition(m.Column, m.ColumnType, opts.SessionVariable)
	return []string{
		drop,
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table),
		fmt.Sprintf("ALTER TABLE %s %s ROW LEVEL SECURITY", table, force),
		fmt.Sprintf("CREATE POLICY %s ON %s FOR ALL TO %s USING %s WITH CHECK %s",
			name, table, strings.Join(opts.Roles, ", "), cond, cond),
	}
}
