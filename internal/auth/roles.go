// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// RoleFilter decides which role names may be attached at registration.
// Patterns use glob syntax with '.' as the separator, so "staff.*" matches
// "staff.editor" but not "staff.editor.chief". A nil or empty filter
// accepts every role.
type RoleFilter struct {
	patterns []string
	globs    []glob.Glob
}

// NewRoleFilter compiles patterns into a RoleFilter.
func NewRoleFilter(patterns []string) (*RoleFilter, error) {
	f := &RoleFilter{}
	for _, p := range patterns {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, oops.Code("ROLE_PATTERN_INVALID").With("pattern", p).Wrap(err)
		}
		f.patterns = append(f.patterns, p)
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// Patterns returns the source patterns.
func (f *RoleFilter) Patterns() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.patterns...)
}

// Allowed reports whether role matches any pattern.
func (f *RoleFilter) Allowed(role string) bool {
	if f == nil || len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(role) {
			return true
		}
	}
	return false
}

// Filter splits roles into the normalized allowed set and the skipped names.
func (f *RoleFilter) Filter(roles []string) (allowed, skipped []string) {
	for _, r := range NormalizeRoles(roles) {
		if f.Allowed(r) {
			allowed = append(allowed, r)
		} else {
			skipped = append(skipped, r)
		}
	}
	return allowed, skipped
}
