package tags

import (
	"slices"
	"strings"
)

// NormalizeFriends trims names, drops empties and duplicates, and sorts
// ascending. Comparison is case-sensitive. The result is never nil.
func NormalizeFriends(in []string) []string {
	out := make([]string, 0, len(in))
	for _, f := range in {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// MergeFriends returns the normalized union of existing and add.
func MergeFriends(existing, add []string) []string {
	all := make([]string, 0, len(existing)+len(add))
	all = append(all, existing...)
	all = append(all, add...)
	return NormalizeFriends(all)
}

// ResolveSelection keeps current while it is still enabled, falls back to
// the first enabled tag, and returns "" when nothing is enabled.
func ResolveSelection(current string, enabled []string) string {
	if current != "" && slices.Contains(enabled, current) {
		return current
	}
	if len(enabled) > 0 {
		return enabled[0]
	}
	return ""
}
