// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathfilter decides which build outputs are worth uploading.
//
// Some derivations produce artifacts nobody will ever substitute from
// a cache: unpacked source trees, fixed-output fetches, scratch
// builds. A Filter rejects an output when its derivation or its own
// store name matches one of the configured exclude patterns.
//
// A pattern containing any of the glob metacharacters * ? [ is
// matched with path.Match against the base name. Any other pattern is
// a suffix. A malformed glob never matches: skipping a legitimate
// upload is worse than making an unnecessary one, so the filter fails
// open.
package pathfilter

import (
	"path"
	"strings"
)

// Filter is an immutable set of exclude patterns. The zero value
// accepts everything. Safe for concurrent use.
type Filter struct {
	globs    []string
	suffixes []string
}

// New compiles patterns. Empty patterns are ignored.
func New(patterns []string) *Filter {
	filter := &Filter{}
	for _, pattern := range patterns {
		switch {
		case pattern == "":
		case strings.ContainsAny(pattern, "*?["):
			filter.globs = append(filter.globs, pattern)
		default:
			filter.suffixes = append(filter.suffixes, pattern)
		}
	}
	return filter
}

// Accept reports whether outputPath, produced by the derivation
// derivationID, should be uploaded. Either argument may be empty.
func (f *Filter) Accept(outputPath, derivationID string) bool {
	for _, candidate := range []string{derivationID, outputPath} {
		if candidate != "" && f.excludes(path.Base(candidate)) {
			return false
		}
	}
	return true
}

// Patterns returns the configured patterns in their original groups.
func (f *Filter) Patterns() (globs, suffixes []string) {
	return append([]string(nil), f.globs...), append([]string(nil), f.suffixes...)
}

func (f *Filter) excludes(name string) bool {
	for _, suffix := range f.suffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	for _, glob := range f.globs {
		// path.Match only reports ErrBadPattern, in which case
		// matched is false and the pattern is skipped.
		if matched, _ := path.Match(glob, name); matched {
			return true
		}
	}
	return false
}
