// Package scopeset provides normalized OAuth2 scope sets. Scope comparison
// in the token cache is case-insensitive and order-independent, so every
// scope string is lowercased and trimmed on the way in and all set algebra
// happens on the normalized form.
package scopeset

import (
	"sort"
	"strings"
)

// Set is a normalized set of scopes. The zero value is an empty set and is
// safe to use. Sets are never nil after Normalize/Split, even for empty
// input.
type Set map[string]struct{}

// Normalize builds a Set from raw scope strings. Entries are lowercased,
// trimmed, and deduplicated; empty entries are dropped.
func Normalize(scopes []string) Set {
	set := make(Set, len(scopes))
	for _, s := range scopes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		set[s] = struct{}{}
	}
	return set
}

// Split parses the space-delimited wire form ("target" in cache records)
// into a Set.
func Split(target string) Set {
	return Normalize(strings.Fields(target))
}

// Join renders the set in the space-delimited wire form. Output is sorted
// so the same set always serializes identically.
func (s Set) Join() string {
	return strings.Join(s.Sorted(), " ")
}

// Sorted returns the scopes in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// IsSubsetOf reports whether every scope in s is present in other. The
// empty set is a subset of everything.
func (s Set) IsSubsetOf(other Set) bool {
	for scope := range s {
		if _, ok := other[scope]; !ok {
			return false
		}
	}
	return true
}

// Intersects reports whether the two sets share at least one scope.
func (s Set) Intersects(other Set) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for scope := range small {
		if _, ok := large[scope]; ok {
			return true
		}
	}
	return false
}

// Equal reports whether both sets contain exactly the same scopes.
func (s Set) Equal(other Set) bool {
	return len(s) == len(other) && s.IsSubsetOf(other)
}

// Contains reports whether a single scope (normalized) is in the set.
func (s Set) Contains(scope string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(scope))]
	return ok
}
