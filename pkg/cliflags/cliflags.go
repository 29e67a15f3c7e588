// Package cliflags declares command flags once and binds them to a pflag set
// with aliases, tri-state booleans and list values.
package cliflags

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// Kind selects the value type of a flag. A String flag rejects a blank
// value and an Int flag accepts positive integers only.
type Kind int

const (
	Bool Kind = iota
	String
	Int
	List
	EntityList
)

type Spec struct {
	Name    string
	Aliases []string
	Kind    Kind
	Usage   string
}

// Schema is an ordered set of flag specs. Entities validates every item of
// an EntityList flag; nil accepts any item.
type Schema struct {
	Specs    []Spec
	Entities func(string) error
}

func New(specs ...Spec) *Schema {
	return &Schema{Specs: specs}
}

// Extend returns a new schema with the extra specs appended.
func (s *Schema) Extend(specs ...Spec) *Schema {
	out := &Schema{Entities: s.Entities}
	out.Specs = append(append(out.Specs, s.Specs...), specs...)
	return out
}

// ParseBool accepts the boolean literals understood on the command line.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q", raw)
}

type boolValue struct {
	value bool
	set   bool
}

func (b *boolValue) String() string {
	return strconv.FormatBool(b.value)
}

func (b *boolValue) Set(raw string) error {
	v, err := ParseBool(raw)
	if err != nil {
		return err
	}
	b.value, b.set = v, true
	return nil
}

func (b *boolValue) Type() string {
	return "bool"
}

type stringValue struct {
	value string
}

func (s *stringValue) String() string {
	return s.value
}

func (s *stringValue) Set(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("cannot be empty")
	}
	s.value = trimmed
	return nil
}

func (s *stringValue) Type() string {
	return "string"
}

type intValue struct {
	value int
}

func (i *intValue) String() string {
	return strconv.Itoa(i.value)
}

func (i *intValue) Set(raw string) error {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("must be an integer value")
	}
	if n <= 0 {
		return fmt.Errorf("must be a positive number")
	}
	i.value = n
	return nil
}

func (i *intValue) Type() string {
	return "int"
}

type listValue struct {
	items    []string
	set      bool
	validate func(string) error
}

func (l *listValue) String() string {
	return strings.Join(l.items, ",")
}

// Set splits on commas, drops blank items and duplicates. Repeating the flag
// appends.
func (l *listValue) Set(raw string) error {
	seen := make(map[string]struct{}, len(l.items))
	for _, item := range l.items {
		seen[item] = struct{}{}
	}
	added := 0
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		added++
		if l.validate != nil {
			if err := l.validate(item); err != nil {
				return err
			}
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		l.items = append(l.items, item)
	}
	if added == 0 {
		return fmt.Errorf("requires at least one value")
	}
	l.set = true
	return nil
}

func (l *listValue) Type() string {
	return "list"
}

type Values struct {
	fs      *pflag.FlagSet
	bools   map[string]*boolValue
	strs    map[string]*stringValue
	ints    map[string]*intValue
	lists   map[string]*listValue
	aliases map[string]string
}

// Bind registers every spec on fs and returns the typed accessors.
func (s *Schema) Bind(fs *pflag.FlagSet) *Values {
	v := &Values{
		fs:      fs,
		bools:   make(map[string]*boolValue),
		strs:    make(map[string]*stringValue),
		ints:    make(map[string]*intValue),
		lists:   make(map[string]*listValue),
		aliases: s.aliases(),
	}
	for _, spec := range s.Specs {
		switch spec.Kind {
		case Bool:
			b := &boolValue{}
			v.bools[spec.Name] = b
			fs.Var(b, spec.Name, spec.Usage)
			fs.Lookup(spec.Name).NoOptDefVal = "true"
		case String:
			str := &stringValue{}
			v.strs[spec.Name] = str
			fs.Var(str, spec.Name, spec.Usage)
		case Int:
			n := &intValue{}
			v.ints[spec.Name] = n
			fs.Var(n, spec.Name, spec.Usage)
		case List, EntityList:
			l := &listValue{}
			if spec.Kind == EntityList {
				l.validate = s.Entities
			}
			v.lists[spec.Name] = l
			fs.Var(l, spec.Name, spec.Usage)
		}
	}

	prev := fs.GetNormalizeFunc()
	fs.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		if canonical, ok := v.aliases[name]; ok {
			return pflag.NormalizedName(canonical)
		}
		return prev(f, name)
	})
	return v
}

func (s *Schema) aliases() map[string]string {
	out := make(map[string]string)
	for _, spec := range s.Specs {
		for _, alias := range spec.Aliases {
			out[alias] = spec.Name
		}
	}
	return out
}

func (s *Schema) kind(name string) (Kind, bool) {
	for _, spec := range s.Specs {
		if spec.Name == name {
			return spec.Kind, true
		}
		for _, alias := range spec.Aliases {
			if alias == name {
				return spec.Kind, true
			}
		}
	}
	return 0, false
}

// NormalizeArgs joins "--flag value" into "--flag=value" for boolean flags
// followed by a boolean literal, so an explicit false is not read as a
// positional argument.
func (s *Schema) NormalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if strings.HasPrefix(arg, "--") && !strings.Contains(arg, "=") && i+1 < len(args) {
			if kind, ok := s.kind(strings.TrimPrefix(arg, "--")); ok && kind == Bool {
				if _, err := ParseBool(args[i+1]); err == nil {
					out = append(out, arg+"="+args[i+1])
					i++
					continue
				}
			}
		}
		out = append(out, arg)
	}
	return out
}

func (v *Values) canonical(name string) string {
	if c, ok := v.aliases[name]; ok {
		return c
	}
	return name
}

func (v *Values) Changed(name string) bool {
	return v.fs.Changed(v.canonical(name))
}

func (v *Values) Bool(name string) bool {
	if b, ok := v.bools[v.canonical(name)]; ok {
		return b.value
	}
	return false
}

// BoolPtr returns nil when the flag was not given.
func (v *Values) BoolPtr(name string) *bool {
	b, ok := v.bools[v.canonical(name)]
	if !ok || !b.set {
		return nil
	}
	out := b.value
	return &out
}

func (v *Values) String(name string) string {
	if s, ok := v.strs[v.canonical(name)]; ok {
		return s.value
	}
	return ""
}

func (v *Values) Int(name string) int {
	if n, ok := v.ints[v.canonical(name)]; ok {
		return n.value
	}
	return 0
}

// List returns nil when the flag was not given.
func (v *Values) List(name string) []string {
	l, ok := v.lists[v.canonical(name)]
	if !ok || !l.set {
		return nil
	}
	return append([]string(nil), l.items...)
}
