// Package interactiontype holds the closed set of GloBI interaction types.
//
// The set is only known at runtime: it is fetched once from the upstream
// service during startup and then handed, read-only, to every component that
// needs to constrain or check an interaction type.
package interactiontype

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownType = errors.New("unknown interaction type")
	ErrEmptySet    = errors.New("interaction type set is empty")
)

// Registry is immutable after construction and safe for concurrent reads.
type Registry struct {
	values []string
	index  map[string]struct{}
}

// New builds a registry from the upstream listing. Blank entries are ignored
// and duplicates collapse; the listing order of first occurrences is kept.
func New(types []string) (*Registry, error) {
	r := &Registry{
		values: make([]string, 0, len(types)),
		index:  make(map[string]struct{}, len(types)),
	}
	for _, t := range types {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := r.index[t]; ok {
			continue
		}
		r.index[t] = struct{}{}
		r.values = append(r.values, t)
	}
	if len(r.values) == 0 {
		return nil, ErrEmptySet
	}
	return r, nil
}

func (r *Registry) Contains(t string) bool {
	_, ok := r.index[t]
	return ok
}

// Validate returns an error wrapping ErrUnknownType when t is not a member.
// Matching is exact: "eatenBy" and "eatenby" are different types upstream.
func (r *Registry) Validate(t string) error {
	if r.Contains(t) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownType, t)
}

// Values returns a copy of the members in listing order.
func (r *Registry) Values() []string {
	out := make([]string, len(r.values))
	copy(out, r.values)
	return out
}

// Sorted returns a sorted copy of the members.
func (r *Registry) Sorted() []string {
	out := r.Values()
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	return len(r.values)
}
