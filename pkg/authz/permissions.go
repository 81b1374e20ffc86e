package authz

import (
	"sort"
)

// Permissions is an immutable, sorted, duplicate-free set of permission or
// capability codes.
type Permissions struct {
	codes []string
}

// NewPermissions builds a set from codes in any order, dropping duplicates
// and empty strings.
func NewPermissions(codes ...string) Permissions {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return Permissions{codes: out}
}

// Has reports whether code is in the set.
func (p Permissions) Has(code string) bool {
	i := sort.SearchStrings(p.codes, code)
	return i < len(p.codes) && p.codes[i] == code
}

// HasAny reports whether at least one of codes is in the set.
func (p Permissions) HasAny(codes ...string) bool {
	for _, c := range codes {
		if p.Has(c) {
			return true
		}
	}
	return false
}

// Codes returns the sorted codes. The slice is a copy.
func (p Permissions) Codes() []string {
	out := make([]string, len(p.codes))
	copy(out, p.codes)
	return out
}

// Len returns the number of codes.
func (p Permissions) Len() int {
	return len(p.codes)
}

// Union returns the set of codes in p or q.
func (p Permissions) Union(q Permissions) Permissions {
	return NewPermissions(append(p.Codes(), q.codes...)...)
}
