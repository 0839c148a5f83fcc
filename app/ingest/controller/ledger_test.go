package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountByScope(t *testing.T) {
	in := []PointAwardRequest{
		{ScopeType: "CLASS", ScopeID: "math-7b"},
		{ScopeType: "CLASS", ScopeID: "math-7b"},
		{ScopeType: "ORG", ScopeID: "district-3"},
	}

	counts := countByScope(in, func(r PointAwardRequest) (string, string) { return r.ScopeType, r.ScopeID })
	assert.Equal(t, map[string]int64{
		"CLASS:math-7b":  2,
		"ORG:district-3": 1,
	}, counts)
}

func TestSplitScope(t *testing.T) {
	scopeType, scopeID, ok := splitScope("CLASS:math-7b")
	require.True(t, ok)
	assert.Equal(t, "CLASS", scopeType)
	assert.Equal(t, "math-7b", scopeID)

	// Scope ids may themselves contain colons; only the first splits.
	_, scopeID, ok = splitScope("ORG:tenant:42")
	require.True(t, ok)
	assert.Equal(t, "tenant:42", scopeID)

	_, _, ok = splitScope("malformed")
	assert.False(t, ok)
}
