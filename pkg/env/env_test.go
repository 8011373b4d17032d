package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smalls/pkg/types"
)

func TestDefineRejectsDuplicateInSameLayer(t *testing.T) {
	e := New()
	require.True(t, e.Define("x", Export{Kind: ExportVar, Type: types.Int}))
	assert.False(t, e.Define("x", Export{Kind: ExportVar, Type: types.Float}))

	exp, ok := e.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, types.Int, exp.Type, "the first definition wins")
}

func TestChildScopeSharesParentStructurally(t *testing.T) {
	root := New()
	root.Define("g", Export{Kind: ExportVar, Type: types.Int})

	child := root.Push()
	require.True(t, child.Define("g", Export{Kind: ExportVar, Type: types.String}),
		"shadowing in a child layer is not a duplicate")

	exp, _ := child.Lookup("g")
	assert.Equal(t, types.String, exp.Type, "innermost binding shadows")
	exp, _ = root.Lookup("g")
	assert.Equal(t, types.Int, exp.Type, "the parent layer is untouched")

	_, ok := child.LookupLocal("nosuch")
	assert.False(t, ok)
	exp, ok = child.Lookup("g")
	assert.True(t, ok)
	_ = exp
}

func TestLookupWalksOutward(t *testing.T) {
	root := New()
	root.Define("a", Export{Kind: ExportVar})
	mid := root.Push()
	mid.Define("b", Export{Kind: ExportVar})
	leaf := mid.Push()

	_, ok := leaf.Lookup("a")
	assert.True(t, ok)
	_, ok = leaf.Lookup("b")
	assert.True(t, ok)
	_, ok = leaf.LookupLocal("a")
	assert.False(t, ok)
}

func TestNamesDeduplicatesShadowed(t *testing.T) {
	root := New()
	root.Define("x", Export{})
	root.Define("y", Export{})
	child := root.Push()
	child.Define("x", Export{})

	assert.Equal(t, []string{"x", "y"}, child.Names())
	assert.Equal(t, []string{"x"}, child.LocalNames())
}

func TestSuggestBoundsDistanceAndCount(t *testing.T) {
	candidates := []string{"counter", "count", "pointer", "printer", "counters", "zebra"}

	got := Suggest(candidates, "countre")
	require.NotEmpty(t, got)
	assert.Contains(t, got, "counter")
	assert.Equal(t, "count", got[0], "ties on distance break alphabetically")
	assert.LessOrEqual(t, len(got), 3)
	for _, s := range got {
		assert.NotEqual(t, "zebra", s, "candidates beyond edit distance 2 are excluded")
	}
}

func TestSuggestExcludesExactMatch(t *testing.T) {
	assert.Empty(t, Suggest([]string{"x"}, "x"),
		"an exact match is not a suggestion; lookup would have found it")
}

func TestQualifiedNameRoundTrip(t *testing.T) {
	q := QualifiedName("geom", "Point")
	assert.Equal(t, "geom.Point", q)

	mod, ident, ok := SplitQualified(q)
	require.True(t, ok)
	assert.Equal(t, "geom", mod)
	assert.Equal(t, "Point", ident)

	_, ident, ok = SplitQualified("bare")
	assert.False(t, ok)
	assert.Equal(t, "bare", ident)
}
