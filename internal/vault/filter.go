// Package vault provides shared helpers for working with the user-owned
// markdown tree: ignore-pattern filtering and tracked-file discovery. Both
// the reconciler and the filesystem watcher build on it.
package vault

import (
	"path/filepath"
	"strings"
)

// defaultIgnorePatterns are always ignored regardless of user configuration.
var defaultIgnorePatterns = []string{
	".git",
	".obsidian",
	".trash",
	".DS_Store",
	"*.swp",
	"*.swo",
	"*~",
	"*.tmp",
}

// Filter checks file paths against a set of ignore patterns.
// Patterns are glob-based and matched against each path component,
// so ".obsidian" will match "vault/.obsidian/workspace.json".
type Filter struct {
	patterns []string
}

// NewFilter creates a Filter with the default patterns merged with any
// additional user-supplied patterns. Duplicates are removed.
func NewFilter(extra []string) *Filter {
	seen := make(map[string]struct{}, len(defaultIgnorePatterns)+len(extra))
	var merged []string
	for _, p := range defaultIgnorePatterns {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}
	for _, p := range extra {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}
	return &Filter{patterns: merged}
}

// ShouldIgnore returns true if path matches any ignore pattern.
//
// Each component of the path is tested against every pattern using
// filepath.Match, so directory patterns apply at any depth, and basename
// patterns like "*.swp" work as expected.
func (f *Filter) ShouldIgnore(path string) bool {
	cleaned := filepath.Clean(path)
	components := strings.Split(cleaned, string(filepath.Separator))

	for _, component := range components {
		for _, pattern := range f.patterns {
			if matched, _ := filepath.Match(pattern, component); matched {
				return true
			}
		}
	}
	return false
}
