package goadapter

import (
	"testing"

	"github.com/corvidsec/corvid/uast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleProgram(t *testing.T) {
	a := New()
	src := `package main

func main() {
	eval("a")
}
`
	root, err := a.Parse([]byte(src), "main.go")
	require.NoError(t, err)
	assert.Equal(t, "source_file", root.Kind)
	assert.False(t, root.IsPartial())

	var calls []*uast.Node
	uast.Walk(root, func(n *uast.Node) bool {
		if n.Kind == "call_expression" {
			calls = append(calls, n)
		}
		return true
	})
	require.Len(t, calls, 1)
	assert.Equal(t, `eval("a")`, calls[0].Text)
}

func TestParsePartialOnSyntaxError(t *testing.T) {
	a := New()
	root, err := a.Parse([]byte("package main\nfunc ( {{{"), "broken.go")
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

func TestIsCommutativeAndEquality(t *testing.T) {
	a := New()
	assert.True(t, a.IsCommutative("&&_expression"))
	assert.False(t, a.IsCommutative("call_expression"))
	assert.True(t, a.IsEquality("=="))
	assert.False(t, a.IsEquality("call_expression"))
}
