package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Overrides remaps physical names without touching relation chains. Files
// ending in .toml are read as TOML, anything else as YAML.
//
//	tenantColumn: organizationId
//	columnType: int
//	tables:
//	  cash-register: cash_registers
type Overrides struct {
	TenantColumn string               `yaml:"tenantColumn" toml:"tenantColumn"`
	ColumnType   string               `yaml:"columnType" toml:"columnType"`
	Tables       map[EntityKey]string `yaml:"tables" toml:"tables"`
}

func LoadOverrides(path string) (Overrides, error) {
	var o Overrides
	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("read table map %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.Decode(string(data), &o)
		if err != nil {
			return o, fmt.Errorf("parse table map %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return o, fmt.Errorf("parse table map %s: unknown field %s", path, undecoded[0])
		}
		return o, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return o, fmt.Errorf("parse table map %s: %w", path, err)
	}
	return o, nil
}

// WithOverrides returns a copy of the registry with the overrides applied.
func (r *Registry) WithOverrides(o Overrides) (*Registry, error) {
	column := r.TenantColumn
	if o.TenantColumn != "" {
		column = o.TenantColumn
	}
	columnType := r.ColumnType
	if o.ColumnType != "" {
		columnType = o.ColumnType
	}
	descriptors := make([]Descriptor, len(r.descriptors))
	copy(descriptors, r.descriptors)
	for key, table := range o.Tables {
		i, ok := r.index[key]
		if !ok {
			return nil, fmt.Errorf("table map: unknown entity %q", key)
		}
		if table == "" {
			return nil, fmt.Errorf("table map: empty table for %s", key)
		}
		descriptors[i].Table = table
	}
	return New(column, columnType, descriptors)
}
