package cfg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidsec/corvid/cfg"
	"github.com/corvidsec/corvid/parser/adapters/goadapter"
	"github.com/corvidsec/corvid/uast"
)

func parseFunc(t *testing.T, src string) *uast.Node {
	t.Helper()
	a := goadapter.New()
	root, err := a.Parse([]byte(src), "main.go")
	require.NoError(t, err)
	var fn *uast.Node
	uast.Walk(root, func(n *uast.Node) bool {
		if n.Kind == "function_declaration" && fn == nil {
			fn = n
		}
		return fn == nil
	})
	require.NotNil(t, fn, "expected to find a function_declaration node")
	return fn
}

func TestBuildFunctionCFGLinearFunction(t *testing.T) {
	fn := parseFunc(t, `package main

func run(x int) int {
	y := x + 1
	return y
}
`)
	graph, err := cfg.BuildFunctionCFG(fn, "run")
	require.NoError(t, err)

	exit, ok := graph.GetBlock(graph.ExitBlockID)
	require.True(t, ok)
	assert.NotEmpty(t, graph.Predecessors(graph.ExitBlockID))
	assert.Equal(t, cfg.BlockTypeExit, exit.Type)
}

func TestBuildFunctionCFGBranchMergesAtExit(t *testing.T) {
	fn := parseFunc(t, `package main

func run(input string) string {
	if len(input) > 0 {
		return sanitize(input)
	}
	return input
}
`)
	graph, err := cfg.BuildFunctionCFG(fn, "run")
	require.NoError(t, err)
	graph.ComputeDominators()

	var condBlockID string
	for id, b := range graph.Blocks {
		if b.Type == cfg.BlockTypeConditional {
			condBlockID = id
		}
	}
	require.NotEmpty(t, condBlockID, "expected a conditional block")
	assert.True(t, graph.Dominates(condBlockID, graph.ExitBlockID),
		"the branch point should dominate the exit block since both arms return")
	assert.True(t, graph.Dominates(graph.EntryBlockID, graph.ExitBlockID))
}

func TestBuildFunctionCFGLoopProducesBackEdge(t *testing.T) {
	fn := parseFunc(t, `package main

func loopFn(n int) {
	for i := 0; i < n; i++ {
		work(i)
	}
}
`)
	graph, err := cfg.BuildFunctionCFG(fn, "loopFn")
	require.NoError(t, err)

	require.Len(t, graph.BackEdges, 1)

	var loopHeaderID string
	for id, b := range graph.Blocks {
		if b.Type == cfg.BlockTypeLoop {
			loopHeaderID = id
		}
	}
	require.NotEmpty(t, loopHeaderID)
	assert.Equal(t, loopHeaderID, graph.BackEdges[0][1])
}

func TestBuildFunctionCFGReversePostOrderStartsAtEntry(t *testing.T) {
	fn := parseFunc(t, `package main

func run(x int) int {
	return x
}
`)
	graph, err := cfg.BuildFunctionCFG(fn, "run")
	require.NoError(t, err)

	order := graph.ReversePostOrder()
	require.NotEmpty(t, order)
	assert.Equal(t, graph.EntryBlockID, order[0])
}

func TestBuildFunctionCFGMissingBodyIsError(t *testing.T) {
	fn := uast.NewNode("function_declaration", uast.LanguageGo)
	_, err := cfg.BuildFunctionCFG(fn, "empty")
	require.Error(t, err)
}
