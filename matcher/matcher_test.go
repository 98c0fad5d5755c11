package matcher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidsec/corvid/matcher"
	"github.com/corvidsec/corvid/parser/adapters/goadapter"
	"github.com/corvidsec/corvid/pattern"
	"github.com/corvidsec/corvid/rule"
	"github.com/corvidsec/corvid/uast"
)

const goSource = `package main

func run(userInput string) {
	eval(userInput)
	safe(1, 2, 3)
}
`

func mustCompile(t *testing.T, p *pattern.Pattern, lang uast.Language, lp *goadapter.Adapter) {
	t.Helper()
	require.NoError(t, pattern.Compile(p, lang, lp))
}

func parseGo(t *testing.T, src string) *uast.Node {
	t.Helper()
	a := goadapter.New()
	root, err := a.Parse([]byte(src), "main.go")
	require.NoError(t, err)
	return root
}

func TestMatchSimplePatternBindsMetavariable(t *testing.T) {
	a := goadapter.New()
	root := parseGo(t, goSource)
	p := pattern.Simple("eval($X)")
	mustCompile(t, p, uast.LanguageGo, a)

	m := matcher.New(a)
	matches, err := m.Match(p, uast.LanguageGo, root, rule.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	binding, ok := matches[0].Env["X"]
	require.True(t, ok)
	assert.Equal(t, "userInput", binding.Node.Text)
}

func TestMatchPatternNotExcludesMatchingSubtree(t *testing.T) {
	a := goadapter.New()
	root := parseGo(t, goSource)

	callPattern := pattern.Simple("safe($...ARGS)")
	mustCompile(t, callPattern, uast.LanguageGo, a)
	notEval := pattern.Not(func() *pattern.Pattern {
		p := pattern.Simple("eval($X)")
		mustCompile(t, p, uast.LanguageGo, a)
		return p
	}())

	all := pattern.All(callPattern, notEval)
	mustCompile(t, all, uast.LanguageGo, a)

	m := matcher.New(a)
	matches, err := m.Match(all, uast.LanguageGo, root, rule.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestMatchEllipsisBindsArgumentSequence(t *testing.T) {
	a := goadapter.New()
	root := parseGo(t, goSource)
	p := pattern.Simple("safe($...ARGS)")
	mustCompile(t, p, uast.LanguageGo, a)

	m := matcher.New(a)
	matches, err := m.Match(p, uast.LanguageGo, root, rule.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	binding, ok := matches[0].Env["ARGS"]
	require.True(t, ok)
	assert.True(t, binding.IsSeq)
	assert.Len(t, binding.Sequence, 3)
}

func TestMatchEitherUnionsAlternatives(t *testing.T) {
	a := goadapter.New()
	root := parseGo(t, goSource)

	evalPattern := pattern.Simple("eval($X)")
	safePattern := pattern.Simple("safe($...ARGS)")
	either := pattern.Either(evalPattern, safePattern)
	mustCompile(t, either, uast.LanguageGo, a)

	m := matcher.New(a)
	matches, err := m.Match(either, uast.LanguageGo, root, rule.DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestMatchInsideRequiresAncestorMatch(t *testing.T) {
	a := goadapter.New()
	root := parseGo(t, goSource)

	funcPattern := pattern.Simple("func run($P string) { $...BODY }")
	mustCompile(t, funcPattern, uast.LanguageGo, a)

	evalPattern := pattern.Simple("eval($X)")
	mustCompile(t, evalPattern, uast.LanguageGo, a)
	inside := pattern.All(evalPattern, pattern.Inside(funcPattern))
	mustCompile(t, inside, uast.LanguageGo, a)

	m := matcher.New(a)
	matches, err := m.Match(inside, uast.LanguageGo, root, rule.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestMatchRegexPatternMatchesNodeText(t *testing.T) {
	a := goadapter.New()
	root := parseGo(t, goSource)
	re := pattern.Regex(`^eval$`)

	m := matcher.New(a)
	matches, err := m.Match(re, uast.LanguageGo, root, rule.DefaultOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
}

func TestMatchFocusNarrowsReportedNode(t *testing.T) {
	a := goadapter.New()
	root := parseGo(t, goSource)
	p := pattern.Simple("eval($X)")
	mustCompile(t, p, uast.LanguageGo, a)
	focus := pattern.Focus([]string{"$X"}, p)
	mustCompile(t, focus, uast.LanguageGo, a)

	m := matcher.New(a)
	matches, err := m.Match(focus, uast.LanguageGo, root, rule.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "userInput", matches[0].Node.Text)
}

func TestMatchMetavariableRegexConstraintFilters(t *testing.T) {
	a := goadapter.New()
	root := parseGo(t, goSource)
	p := pattern.Simple("eval($X)")
	mustCompile(t, p, uast.LanguageGo, a)
	p.WithConditions(pattern.Constraint{Kind: pattern.ConstraintRegex, Metavar: "X", Regex: "^nomatch$"})

	m := matcher.New(a)
	matches, err := m.Match(p, uast.LanguageGo, root, rule.DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchBareEllipsisMatchesAnyArguments(t *testing.T) {
	a := goadapter.New()
	root := parseGo(t, goSource)
	p := pattern.Simple("eval(...)")
	mustCompile(t, p, uast.LanguageGo, a)

	m := matcher.New(a)
	matches, err := m.Match(p, uast.LanguageGo, root, rule.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, `eval(userInput)`, matches[0].Node.Text)
}

func TestMatchBareEllipsisOverZeroSiblingsMatches(t *testing.T) {
	a := goadapter.New()
	root := parseGo(t, `package main

func run() {
	noargs()
}
`)
	p := pattern.Simple("noargs(...)")
	mustCompile(t, p, uast.LanguageGo, a)

	m := matcher.New(a)
	matches, err := m.Match(p, uast.LanguageGo, root, rule.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestMatchMetavariableComparisonConstraint(t *testing.T) {
	a := goadapter.New()
	root := parseGo(t, `package main

func run() {
	sleep(500)
	sleep(1)
}
`)
	p := pattern.Simple("sleep($N)")
	mustCompile(t, p, uast.LanguageGo, a)
	p.WithConditions(pattern.Constraint{Kind: pattern.ConstraintComparison, Metavar: "N", Expression: "$N > 100"})

	m := matcher.New(a)
	matches, err := m.Match(p, uast.LanguageGo, root, rule.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "500", matches[0].Env["N"].Node.Text)
}
