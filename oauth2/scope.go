// Package oauth2 carries the OAuth 2.0 specific pieces: scope-set arithmetic
// and a self-contained bearer token format.
package oauth2

import "strings"

// ParseScopes splits a space-delimited scope string into its tokens. Scope
// tokens are case-sensitive and compared as exact strings.
func ParseScopes(scope string) []string {
	return strings.Fields(scope)
}

// JoinScopes renders scope tokens back onto the wire.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ScopeSubset reports whether every token of requested appears in granted.
// An empty requested set is a subset of anything.
func ScopeSubset(granted, requested string) bool {
	have := map[string]struct{}{}
	for _, s := range ParseScopes(granted) {
		have[s] = struct{}{}
	}
	for _, s := range ParseScopes(requested) {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}

// ScopesEqual reports whether two scope strings name the same set.
func ScopesEqual(a, b string) bool {
	return ScopeSubset(a, b) && ScopeSubset(b, a)
}
