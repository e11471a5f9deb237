// Package symtab holds closed sets of symbolic identifiers paired with their
// display strings. Each set is defined once, as a keyed slice literal, and
// every other representation (count, string table, parse table) is derived
// from that one definition.
//
// Example of defining a set:
//
//	type Color uint8
//
//	const (
//	    ColorNone Color = iota
//	    ColorRed
//	    numColors
//	)
//
//	var colors = symtab.Define[Color]("color", []string{
//	    ColorNone: "",
//	    ColorRed:  "red",
//	})
//
// New identifiers must be appended, existing ones are never renumbered.
package symtab

import (
	"errors"
	"fmt"
)

var ErrUnknownIdentifier = errors.New("symtab: unknown identifier")

// Table of identifiers of type T and their display strings. A Table
// is immutable after Define returns and safe for concurrent use.
type Table[T ~uint8] struct {
	domain string
	names  []string
	ids    map[string]T
}

// Define the table for domain. The position of each string in names is
// its identifier, so callers should use a keyed slice literal. Define
// panics if two identifiers share a display string or if the set is
// too large for T, since either is a programming error.
func Define[T ~uint8](domain string, names []string) *Table[T] {
	if len(names) == 0 {
		panic(fmt.Sprintf("symtab: %v: empty definition", domain))
	}
	if len(names) > 256 {
		panic(fmt.Sprintf("symtab: %v: %d identifiers do not fit", domain, len(names)))
	}
	ids := make(map[string]T, len(names))
	for i, name := range names {
		if prev, ok := ids[name]; ok {
			panic(fmt.Sprintf("symtab: %v: %q defined for both %d and %d", domain, name, prev, i))
		}
		ids[name] = T(i)
	}
	cp := make([]string, len(names))
	copy(cp, names)
	return &Table[T]{
		domain: domain,
		names:  cp,
		ids:    ids,
	}
}

// Domain name of the table, used in error messages.
func (t *Table[T]) Domain() string {
	return t.domain
}

// Len is the number of identifiers in the table.
func (t *Table[T]) Len() int {
	return len(t.names)
}

// Valid returns true if id is defined in the table.
func (t *Table[T]) Valid(id T) bool {
	return int(id) < len(t.names)
}

// String of id. Identifiers outside the table render as "domain(n)"
// so that a corrupt value is still visible in logs.
func (t *Table[T]) String(id T) string {
	if !t.Valid(id) {
		return fmt.Sprintf("%v(%d)", t.domain, uint8(id))
	}
	return t.names[id]
}

// Parse the display string s back into its identifier.
func (t *Table[T]) Parse(s string) (T, error) {
	id, ok := t.ids[s]
	if !ok {
		return 0, fmt.Errorf("%w: %v: %q", ErrUnknownIdentifier, t.domain, s)
	}
	return id, nil
}

// Names in identifier order.
func (t *Table[T]) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// IDs in order.
func (t *Table[T]) IDs() []T {
	out := make([]T, len(t.names))
	for i := range t.names {
		out[i] = T(i)
	}
	return out
}
