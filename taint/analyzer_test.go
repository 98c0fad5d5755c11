package taint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidsec/corvid/cfg"
	"github.com/corvidsec/corvid/matcher"
	"github.com/corvidsec/corvid/parser/adapters/goadapter"
	"github.com/corvidsec/corvid/pattern"
	"github.com/corvidsec/corvid/rule"
	"github.com/corvidsec/corvid/taint"
	"github.com/corvidsec/corvid/uast"
)

func buildGraph(t *testing.T, src string) *cfg.ControlFlowGraph {
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
	require.NotNil(t, fn)
	graph, err := cfg.BuildFunctionCFG(fn, "run")
	require.NoError(t, err)
	return graph
}

func mustPattern(t *testing.T, src string, a *goadapter.Adapter) *pattern.Pattern {
	t.Helper()
	p := pattern.Simple(src)
	require.NoError(t, pattern.Compile(p, uast.LanguageGo, a))
	return p
}

func TestAnalyzeDirectSourceToSinkFlowIsDetected(t *testing.T) {
	a := goadapter.New()
	graph := buildGraph(t, `package main

func run() {
	data := source()
	sink(data)
}
`)
	spec := &rule.TaintSpec{
		Sources: []*pattern.Pattern{mustPattern(t, "$VAR := source()", a)},
		Sinks:   []*pattern.Pattern{mustPattern(t, "sink($ARG)", a)},
	}
	an := &taint.Analyzer{Matcher: matcher.New(a), Lang: uast.LanguageGo, Spec: spec, Options: rule.DefaultOptions()}
	result, err := an.Analyze(graph)
	require.NoError(t, err)
	require.Len(t, result.Detections, 1)
	assert.Equal(t, []taint.Label{"TAINT"}, result.Detections[0].Labels)
}

func TestAnalyzeSanitizedAssignmentBlocksDetection(t *testing.T) {
	a := goadapter.New()
	graph := buildGraph(t, `package main

func run() {
	data := source()
	clean := sanitize(data)
	sink(clean)
}
`)
	spec := &rule.TaintSpec{
		Sources:    []*pattern.Pattern{mustPattern(t, "$VAR := source()", a)},
		Sinks:      []*pattern.Pattern{mustPattern(t, "sink($ARG)", a)},
		Sanitizers: []*pattern.Pattern{mustPattern(t, "$TO := sanitize($FROM)", a)},
	}
	an := &taint.Analyzer{Matcher: matcher.New(a), Lang: uast.LanguageGo, Spec: spec, Options: rule.DefaultOptions()}
	result, err := an.Analyze(graph)
	require.NoError(t, err)
	assert.Empty(t, result.Detections)
}

func TestAnalyzePropagatorCarriesTaintThroughReassignment(t *testing.T) {
	a := goadapter.New()
	graph := buildGraph(t, `package main

func run() {
	data := source()
	data2 := data
	sink(data2)
}
`)
	spec := &rule.TaintSpec{
		Sources: []*pattern.Pattern{mustPattern(t, "$VAR := source()", a)},
		Sinks:   []*pattern.Pattern{mustPattern(t, "sink($ARG)", a)},
		Propagators: []rule.PropagatorSpec{
			{Pattern: mustPattern(t, "$TO := $FROM", a), From: "$FROM", To: "$TO"},
		},
	}
	an := &taint.Analyzer{Matcher: matcher.New(a), Lang: uast.LanguageGo, Spec: spec, Options: rule.DefaultOptions()}
	result, err := an.Analyze(graph)
	require.NoError(t, err)
	require.Len(t, result.Detections, 1)
	assert.InDelta(t, 0.7, result.Detections[0].Confidence, 0.001)
}

func TestAnalyzeSinkRequiresFiltersByLabel(t *testing.T) {
	a := goadapter.New()
	graph := buildGraph(t, `package main

func run() {
	data := source()
	sink(data)
}
`)
	spec := &rule.TaintSpec{
		Sources:      []*pattern.Pattern{mustPattern(t, "$VAR := source()", a)},
		Sinks:        []*pattern.Pattern{mustPattern(t, "sink($ARG)", a)},
		Labels:       map[string]string{"OTHER": "requires a label no source introduces"},
		SinkRequires: "OTHER",
	}
	an := &taint.Analyzer{Matcher: matcher.New(a), Lang: uast.LanguageGo, Spec: spec, Options: rule.DefaultOptions()}
	result, err := an.Analyze(graph)
	require.NoError(t, err)
	assert.Empty(t, result.Detections)
}

// TestAnalyzeWholeNodeSourceTaintsAssignedVariable covers spec end-to-end
// scenario 5: a source pattern with no bound metavariable ("source()")
// must still taint the variable it is assigned to, so the taint reaches
// a sink used later through that variable (spec §4.4 step 2/5).
func TestAnalyzeWholeNodeSourceTaintsAssignedVariable(t *testing.T) {
	a := goadapter.New()
	graph := buildGraph(t, `package main

func run() {
	x := source()
	y := sanitize(x)
	sink(y)
	sink(x)
}
`)
	spec := &rule.TaintSpec{
		Sources:    []*pattern.Pattern{mustPattern(t, "source()", a)},
		Sinks:      []*pattern.Pattern{mustPattern(t, "sink($S)", a)},
		Sanitizers: []*pattern.Pattern{mustPattern(t, "sanitize($T)", a)},
	}
	an := &taint.Analyzer{Matcher: matcher.New(a), Lang: uast.LanguageGo, Spec: spec, Options: rule.DefaultOptions()}
	result, err := an.Analyze(graph)
	require.NoError(t, err)
	require.Len(t, result.Detections, 1)
	assert.Equal(t, "sink(x)", result.Detections[0].Sink.Text)
}

func TestAnalyzeNoSourceMeansNoDetection(t *testing.T) {
	a := goadapter.New()
	graph := buildGraph(t, `package main

func run() {
	data := clean()
	sink(data)
}
`)
	spec := &rule.TaintSpec{
		Sources: []*pattern.Pattern{mustPattern(t, "$VAR := source()", a)},
		Sinks:   []*pattern.Pattern{mustPattern(t, "sink($ARG)", a)},
	}
	an := &taint.Analyzer{Matcher: matcher.New(a), Lang: uast.LanguageGo, Spec: spec, Options: rule.DefaultOptions()}
	result, err := an.Analyze(graph)
	require.NoError(t, err)
	assert.Empty(t, result.Detections)
}
