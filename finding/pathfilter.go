package finding

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/corvidsec/corvid/rule"
)

// PathAllowed reports whether filePath survives a rule's paths.include/
// paths.exclude glob filters (spec §4.5): `**` recursive, `*`
// single-segment, `?` single char; excludes win on conflict. Grounded on
// the teacher's FileWalker.matchPattern/isIncluded/isExcluded
// (core/filewalker.go), generalized from a directory walker's filter to
// a standalone predicate the Aggregator applies per Match.
func PathAllowed(filter rule.PathFilter, filePath string) bool {
	if matchesAny(filter.Exclude, filePath) {
		return false
	}
	if len(filter.Include) == 0 {
		return true
	}
	return matchesAny(filter.Include, filePath)
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if matchesGlob(p, path) {
			return true
		}
	}
	return false
}

func matchesGlob(pattern, path string) bool {
	if matched, err := doublestar.Match(pattern, path); err == nil && matched {
		return true
	}
	if !strings.Contains(pattern, "/") {
		if matched, err := doublestar.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
	}
	return false
}
