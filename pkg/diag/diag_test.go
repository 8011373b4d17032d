package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasErrors(t *testing.T) {
	s := New()
	assert.False(t, s.HasErrors())

	s.Name("m", "unknown identifier 'fo'", false, Range{}, "foo")
	assert.True(t, s.HasErrors())
}

func TestWarningsDoNotCountAsErrors(t *testing.T) {
	s := New()
	s.Type("m", "unused binding", true, Range{})
	assert.False(t, s.HasErrors())
	assert.Len(t, s.Diagnostics(), 1)
}

func TestReset(t *testing.T) {
	s := New()
	s.Name("m", "x", false, Range{}, "")
	s.Reset()
	assert.Empty(t, s.Diagnostics())
}

func TestSuggestionRendering(t *testing.T) {
	d := Diagnostic{Kind: KindName, Message: "unknown identifier 'fo'", Suggestion: "foo"}
	assert.Contains(t, d.String(), `did you mean "foo"?`)
}
