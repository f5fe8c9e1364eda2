package filter

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrDuplicateBinding   = errors.New("duplicate binding name")
	ErrUnboundPlaceholder = errors.New("placeholder has no binding")
	ErrUnusedBinding      = errors.New("binding is not referenced")
	ErrConflictingBinding = errors.New("binding bound to different values")
)

// placeholderPattern matches :name placeholders that are not part of a :: cast.
var placeholderPattern = regexp.MustCompile(`(^|[^:]):([A-Za-z_][A-Za-z0-9_]*)`)

// Bindings maps placeholder names to the values passed as driver parameters.
type Bindings map[string]any

// Names returns the binding names in sorted order.
func (b Bindings) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge returns a new set holding both b and other. A name present in both
// must carry an equal value.
func (b Bindings) Merge(other Bindings) (Bindings, error) {
	out := make(Bindings, len(b)+len(other))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range other {
		if existing, ok := out[k]; ok && !reflect.DeepEqual(existing, v) {
			return nil, fmt.Errorf("%w: %s", ErrConflictingBinding, k)
		}
		out[k] = v
	}
	return out, nil
}

// Predicate is a SQL boolean expression whose literal values travel only as
// named bindings.
type Predicate struct {
	SQL      string   `json:"sql"`
	Bindings Bindings `json:"bindings"`
}

// Placeholders lists the distinct placeholder names referenced by sql, in order
// of first appearance.
func Placeholders(sql string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(sql, -1)
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[2]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Validate checks that every placeholder has a binding and every binding is used.
func (p Predicate) Validate() error {
	return ValidateBindings(p.SQL, p.Bindings)
}

// ValidateBindings checks a full statement against its bindings.
func ValidateBindings(sql string, bindings Bindings) error {
	used := make(map[string]struct{})
	for _, name := range Placeholders(sql) {
		if _, ok := bindings[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnboundPlaceholder, name)
		}
		used[name] = struct{}{}
	}
	for _, name := range bindings.Names() {
		if _, ok := used[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnusedBinding, name)
		}
	}
	return nil
}

// And appends an extra clause to the predicate.
func (p Predicate) And(fragment string, bindings Bindings) (Predicate, error) {
	var b Builder
	if strings.TrimSpace(p.SQL) != "" && p.SQL != alwaysTrue {
		if err := b.Add(p.SQL, p.Bindings); err != nil {
			return Predicate{}, err
		}
	}
	if err := b.Add(fragment, bindings); err != nil {
		return Predicate{}, err
	}
	return b.Predicate(), nil
}

const alwaysTrue = "1 = 1"

type clause struct {
	fragment string
	bindings Bindings
}

// Builder accumulates clauses in insertion order and joins them with AND.
type Builder struct {
	clauses []clause
	names   map[string]struct{}
}

// Add appends a clause. Binding names must be unique across the builder.
func (b *Builder) Add(fragment string, bindings Bindings) error {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil
	}
	if b.names == nil {
		b.names = make(map[string]struct{})
	}
	for _, name := range bindings.Names() {
		if _, ok := b.names[name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateBinding, name)
		}
	}
	for name := range bindings {
		b.names[name] = struct{}{}
	}
	b.clauses = append(b.clauses, clause{fragment: fragment, bindings: bindings})
	return nil
}

// Predicate renders the accumulated clauses.
func (b *Builder) Predicate() Predicate {
	if len(b.clauses) == 0 {
		return Predicate{SQL: alwaysTrue, Bindings: Bindings{}}
	}
	parts := make([]string, 0, len(b.clauses))
	bindings := make(Bindings, len(b.names))
	for _, c := range b.clauses {
		if len(b.clauses) > 1 && strings.Contains(strings.ToUpper(c.fragment), " OR ") {
			parts = append(parts, "("+c.fragment+")")
		} else {
			parts = append(parts, c.fragment)
		}
		for k, v := range c.bindings {
			bindings[k] = v
		}
	}
	return Predicate{SQL: strings.Join(parts, " AND "), Bindings: bindings}
}

// InPlaceholders renders a comma-separated placeholder list for an IN clause,
// naming the placeholders prefix_0, prefix_1 and so on.
func InPlaceholders(prefix string, values []string) (string, Bindings) {
	names := make([]string, len(values))
	bindings := make(Bindings, len(values))
	for i, v := range values {
		name := fmt.Sprintf("%s_%d", prefix, i)
		names[i] = ":" + name
		bindings[name] = v
	}
	return strings.Join(names, ", "), bindings
}
