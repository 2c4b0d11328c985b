package common

import "strings"

// HasAny returns true if s contains any of the substrings.
func HasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// HasAnyFold is HasAny ignoring case.
func HasAnyFold(s string, subs ...string) bool {
	lowered := make([]string, len(subs))
	for i, sub := range subs {
		lowered[i] = strings.ToLower(sub)
	}
	return HasAny(strings.ToLower(s), lowered...)
}

// EqualsAnyFold reports whether s equals any of the candidates, ignoring case
// and surrounding whitespace.
func EqualsAnyFold(s string, candidates ...string) bool {
	s = strings.TrimSpace(s)
	for _, c := range candidates {
		if strings.EqualFold(s, c) {
			return true
		}
	}
	return false
}
