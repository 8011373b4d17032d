package intern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternIdempotent(t *testing.T) {
	tab := New()
	a := tab.Intern("foo")
	b := tab.Intern("foo")
	assert.Equal(t, a, b)
	assert.Equal(t, 1, tab.Len())
}

func TestInternDistinct(t *testing.T) {
	tab := New()
	a := tab.Intern("foo")
	b := tab.Intern("bar")
	assert.NotEqual(t, a, b)
}

func TestText(t *testing.T) {
	tab := New()
	s := tab.Intern("hello")
	require.Equal(t, "hello", tab.Text(s))
}

func TestQualify(t *testing.T) {
	tab := New()
	s := tab.Qualify("mod", "Foo")
	assert.Equal(t, "mod.Foo", tab.Text(s))
}
