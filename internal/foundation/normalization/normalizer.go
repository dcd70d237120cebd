// Package normalization maps loosely written configuration values onto
// string enums.
package normalization

import (
	"fmt"
	"slices"
	"strings"
)

// Normalizer maps trimmed, lower-cased input onto a fixed set of enum values.
type Normalizer[T ~string] struct {
	field        string
	values       map[string]T
	defaultValue T
	keys         []string
}

// NewNormalizer builds a normalizer for field. Empty input maps to defaultValue.
func NewNormalizer[T ~string](field string, defaultValue T, values ...T) *Normalizer[T] {
	n := &Normalizer[T]{field: field, values: make(map[string]T, len(values)), defaultValue: defaultValue}
	for _, v := range values {
		key := clean(string(v))
		n.values[key] = v
		n.keys = append(n.keys, key)
	}
	slices.Sort(n.keys)
	return n
}

// Alias accepts an extra spelling for an existing value.
func (n *Normalizer[T]) Alias(alias string, v T) *Normalizer[T] {
	n.values[clean(alias)] = v
	return n
}

// Normalize returns the matching value, or the default for unknown input.
func (n *Normalizer[T]) Normalize(raw string) T {
	if v, ok := n.values[clean(raw)]; ok {
		return v
	}
	return n.defaultValue
}

// Parse is Normalize with an error for unknown, non-empty input.
func (n *Normalizer[T]) Parse(raw string) (T, error) {
	c := clean(raw)
	if c == "" {
		return n.defaultValue, nil
	}
	if v, ok := n.values[c]; ok {
		return v, nil
	}
	return n.defaultValue, fmt.Errorf("%s: unsupported value %q (valid: %s)", n.field, raw, strings.Join(n.keys, ", "))
}

// ValidKeys returns the canonical spellings, sorted.
func (n *Normalizer[T]) ValidKeys() []string {
	return slices.Clone(n.keys)
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
