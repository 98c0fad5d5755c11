package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidsec/corvid/pattern"
)

func TestLoadSimplePatternRule(t *testing.T) {
	doc := []byte(`
rules:
  - id: hardcoded-eval
    message: avoid eval of untrusted input
    languages: [python]
    severity: ERROR
    pattern: eval($X)
`)
	result, err := Load(doc)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Rules, 1)

	r := result.Rules[0]
	assert.Equal(t, "hardcoded-eval", r.ID)
	assert.Equal(t, SeverityError, r.Severity)
	assert.Equal(t, ConfidenceMedium, r.Confidence)
	require.NotNil(t, r.Pattern)
	assert.Equal(t, pattern.KindSimple, r.Pattern.Kind)
	assert.Equal(t, "eval($X)", r.Pattern.Source)
}

func TestLoadPatternsCombinesWithAll(t *testing.T) {
	doc := []byte(`
rules:
  - id: combined
    message: m
    languages: [go]
    severity: WARNING
    patterns:
      - pattern: foo($X)
      - pattern-not: bar($X)
`)
	result, err := Load(doc)
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)

	p := result.Rules[0].Pattern
	require.Equal(t, pattern.KindAll, p.Kind)
	require.Len(t, p.Children, 2)
	assert.Equal(t, pattern.KindSimple, p.Children[0].Kind)
	assert.Equal(t, pattern.KindNot, p.Children[1].Kind)
}

func TestLoadPatternEitherNested(t *testing.T) {
	doc := []byte(`
rules:
  - id: either-rule
    message: m
    languages: [javascript]
    severity: INFO
    patterns:
      - pattern-either:
          - pattern: foo()
          - pattern: bar()
`)
	result, err := Load(doc)
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)

	p := result.Rules[0].Pattern
	require.Equal(t, pattern.KindAll, p.Kind)
	require.Len(t, p.Children, 1)
	assert.Equal(t, pattern.KindEither, p.Children[0].Kind)
	assert.Len(t, p.Children[0].Children, 2)
}

func TestLoadMetavariableComparisonConstraint(t *testing.T) {
	doc := []byte(`
rules:
  - id: comparison-rule
    message: m
    languages: [python]
    severity: WARNING
    patterns:
      - pattern: sleep($N)
      - metavariable-comparison:
          metavariable: $N
          comparison: $N > 100
`)
	result, err := Load(doc)
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)

	p := result.Rules[0].Pattern
	require.Len(t, p.Conditions, 1)
	assert.Equal(t, pattern.ConstraintComparison, p.Conditions[0].Kind)
	assert.Equal(t, "N", p.Conditions[0].Metavar)
	assert.Equal(t, "$N > 100", p.Conditions[0].Expression)
}

func TestLoadFocusMetavariableRequiresBinding(t *testing.T) {
	doc := []byte(`
rules:
  - id: focus-rule
    message: m
    languages: [go]
    severity: ERROR
    pattern: foo($X)
    focus-metavariable: $X
`)
	result, err := Load(doc)
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)
	assert.Equal(t, pattern.KindFocus, result.Rules[0].Pattern.Kind)
}

func TestLoadFocusMetavariableUnboundIsSemanticError(t *testing.T) {
	doc := []byte(`
rules:
  - id: bad-focus
    message: m
    languages: [go]
    severity: ERROR
    pattern: foo($X)
    focus-metavariable: $Y
`)
	result, err := Load(doc)
	require.NoError(t, err)
	assert.Empty(t, result.Rules)
	require.Len(t, result.Errors, 1)
	assert.IsType(t, &SemanticError{}, result.Errors[0])
}

func TestLoadTaintRule(t *testing.T) {
	doc := []byte(`
rules:
  - id: taint-rule
    message: tainted data reaches sink
    languages: [java]
    severity: CRITICAL
    mode: taint
    pattern-sources:
      - pattern: source()
    pattern-sanitizers:
      - pattern: sanitize($X)
    pattern-sinks:
      - pattern: sink($X)
`)
	result, err := Load(doc)
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)

	r := result.Rules[0]
	assert.Equal(t, ModeTaint, r.Mode)
	require.NotNil(t, r.Taint)
	assert.Len(t, r.Taint.Sources, 1)
	assert.Len(t, r.Taint.Sanitizers, 1)
	assert.Len(t, r.Taint.Sinks, 1)
}

func TestLoadTaintRuleMissingSinksIsSemanticError(t *testing.T) {
	doc := []byte(`
rules:
  - id: bad-taint
    message: m
    languages: [java]
    severity: ERROR
    mode: taint
    pattern-sources:
      - pattern: source()
`)
	result, err := Load(doc)
	require.NoError(t, err)
	assert.Empty(t, result.Rules)
	require.Len(t, result.Errors, 1)
}

func TestLoadUnknownTopLevelKeyWarnsAndPreserves(t *testing.T) {
	doc := []byte(`
rules:
  - id: extra-key-rule
    message: m
    languages: [go]
    severity: INFO
    pattern: foo()
    custom-vendor-field: hello
`)
	result, err := Load(doc)
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)
	assert.NotEmpty(t, result.Warnings)
	assert.Equal(t, "hello", result.Rules[0].Metadata["custom-vendor-field"])
}

func TestLoadMissingRequiredFieldIsSemanticError(t *testing.T) {
	doc := []byte(`
rules:
  - id: no-message
    languages: [go]
    severity: ERROR
    pattern: foo()
`)
	result, err := Load(doc)
	require.NoError(t, err)
	assert.Empty(t, result.Rules)
	require.Len(t, result.Errors, 1)
}

func TestLoadMalformedYamlIsSyntaxError(t *testing.T) {
	doc := []byte("rules: [this is not a valid rule list")
	_, err := Load(doc)
	require.Error(t, err)
	assert.IsType(t, &SyntaxError{}, err)
}

func TestLoadOneBadRuleDoesNotAbortDocument(t *testing.T) {
	doc := []byte(`
rules:
  - id: good-rule
    message: m
    languages: [go]
    severity: ERROR
    pattern: foo()
  - id: bad-rule
    languages: [go]
    severity: ERROR
    pattern: bar()
`)
	result, err := Load(doc)
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "good-rule", result.Rules[0].ID)
}

func TestLoadPathFilterAndFixRegex(t *testing.T) {
	doc := []byte(`
rules:
  - id: fix-rule
    message: m
    languages: [go]
    severity: INFO
    pattern: foo($X)
    fix-regex:
      regex: foo\(([^)]*)\)
      replacement: bar($1)
    paths:
      include:
        - "src/**"
      exclude:
        - "src/vendor/**"
`)
	result, err := Load(doc)
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)

	r := result.Rules[0]
	require.NotNil(t, r.FixRegex)
	assert.Equal(t, `foo\(([^)]*)\)`, r.FixRegex.Regex)
	assert.Equal(t, []string{"src/**"}, r.Paths.Include)
	assert.Equal(t, []string{"src/vendor/**"}, r.Paths.Exclude)
}

func TestLoadOptionsOverrideDefaults(t *testing.T) {
	doc := []byte(`
rules:
  - id: opts-rule
    message: m
    languages: [go]
    severity: INFO
    pattern: foo()
    options:
      commutative_boolop: true
      constant_propagation: false
`)
	result, err := Load(doc)
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)

	opts := result.Rules[0].Options
	assert.True(t, opts.CommutativeBoolop)
	assert.False(t, opts.ConstantPropagation)
	assert.False(t, opts.SymmetricEq)
}
