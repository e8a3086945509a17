package oauth2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseScopes(t *testing.T) {
	assert.Equal(t, []string{"photos:read", "photos:write"}, ParseScopes("photos:read  photos:write"))
	assert.Empty(t, ParseScopes(""))
	assert.Empty(t, ParseScopes("   "))
}

func TestScopeSubset(t *testing.T) {
	assert.True(t, ScopeSubset("photos:read photos:write", "photos:read"))
	assert.True(t, ScopeSubset("photos:read", "photos:read"))
	assert.True(t, ScopeSubset("photos:read", ""), "an empty request is a subset of anything")
	assert.True(t, ScopeSubset("", ""))

	assert.False(t, ScopeSubset("photos:read", "photos:write"))
	assert.False(t, ScopeSubset("", "photos:read"))
	assert.False(t, ScopeSubset("photos:read", "PHOTOS:READ"), "scope tokens are case-sensitive")
}

func TestScopesEqual(t *testing.T) {
	assert.True(t, ScopesEqual("a b", "b a"))
	assert.True(t, ScopesEqual("", ""))
	assert.False(t, ScopesEqual("a b", "a"))
}
