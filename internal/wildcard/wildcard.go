// Package wildcard implements the pattern matching used by the
// accessibility allow/deny lists.
//
// A pattern is either an exact string or a prefix terminated by a single
// trailing '*'. No other regular-expression semantics are recognized; a
// '*' anywhere but the last position is a literal character.
package wildcard

import "strings"

// Marker is the wildcard suffix recognized in patterns.
const Marker = "*"

// Match reports whether candidate matches pattern.
//
// "com.malware.*" matches "com.malware" itself and anything below it:
// the marker (and a separating dot directly before it) is stripped and
// the remainder is compared as a prefix. Every other pattern requires an
// exact, case-sensitive match. An empty pattern only matches an empty
// candidate.
func Match(candidate, pattern string) bool {
	if strings.HasSuffix(pattern, Marker) {
		prefix := strings.TrimSuffix(pattern, Marker)
		prefix = strings.TrimSuffix(prefix, ".")
		return strings.HasPrefix(candidate, prefix)
	}
	return candidate == pattern
}

// MatchAny reports whether candidate matches any of the given patterns.
func MatchAny(candidate string, patterns []string) bool {
	for _, p := range patterns {
		if Match(candidate, p) {
			return true
		}
	}
	return false
}
