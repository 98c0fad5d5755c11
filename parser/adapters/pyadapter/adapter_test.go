package pyadapter

import (
	"testing"

	"github.com/corvidsec/corvid/uast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleProgram(t *testing.T) {
	a := New()
	src := "print(\"hello\")\nx = \"hello\"\n"
	root, err := a.Parse([]byte(src), "main.py")
	require.NoError(t, err)
	assert.Equal(t, "module", root.Kind)
	assert.False(t, root.IsPartial())

	var calls []*uast.Node
	uast.Walk(root, func(n *uast.Node) bool {
		if n.Kind == "call" {
			calls = append(calls, n)
		}
		return true
	})
	require.Len(t, calls, 1)
	assert.Equal(t, `print("hello")`, calls[0].Text)
}

func TestParsePartialOnSyntaxError(t *testing.T) {
	a := New()
	root, err := a.Parse([]byte("def f(:\n    pass"), "broken.py")
	require.NoError(t, err, "tree-sitter recovers rather than failing outright")
	assert.True(t, root.IsPartial())
}

func TestParsePatternMasksAndRestoresMetavariables(t *testing.T) {
	a := New()
	root, err := a.ParsePattern(`eval($X)`)
	require.NoError(t, err)

	var found bool
	uast.Walk(root, func(n *uast.Node) bool {
		if mv, ok := n.Attr("metavariable"); ok {
			found = true
			assert.Equal(t, "$X", mv)
			assert.Equal(t, "$X", n.Text)
		}
		return true
	})
	assert.True(t, found, "expected to find a node annotated as a metavariable")
}

func TestFStringAttribute(t *testing.T) {
	a := New()
	root, err := a.Parse([]byte(`x = f"hello {name}"`), "fstr.py")
	require.NoError(t, err)

	var found bool
	uast.Walk(root, func(n *uast.Node) bool {
		if n.Kind == "string" {
			if v, ok := n.Attr("python.is_fstring"); ok {
				found = true
				assert.Equal(t, "true", v)
			}
		}
		return true
	})
	assert.True(t, found, "expected f-string node to carry python.is_fstring attribute")
}

func TestIsCommutativeAndEquality(t *testing.T) {
	a := New()
	assert.True(t, a.IsCommutative("boolean_operator"))
	assert.False(t, a.IsCommutative("call"))
	assert.True(t, a.IsEquality("=="))
	assert.False(t, a.IsEquality("call"))
}
