package matcher

import (
	"math"
	"strings"

	"github.com/corvidsec/corvid/pattern"
	"github.com/corvidsec/corvid/uast"
)

// checkConstraints evaluates a pattern's attached metavariable
// constraints in order against env, short-circuiting on the first
// failure (spec §4.3).
func (m *Matcher) checkConstraints(conds []pattern.Constraint, env Environment, lang uast.Language, opts matchOptions) (bool, error) {
	for _, cond := range conds {
		ok, err := m.checkConstraint(cond, env, lang, opts)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (m *Matcher) checkConstraint(cond pattern.Constraint, env Environment, lang uast.Language, opts matchOptions) (bool, error) {
	b, bound := env[cond.Metavar]
	switch cond.Kind {
	case pattern.ConstraintRegex:
		if !bound {
			return false, nil
		}
		re, err := pattern.GlobalRegexCache().Compile(cond.Regex)
		if err != nil {
			return false, err
		}
		matched := re.MatchString(bindingText(b))
		if cond.Negate {
			return !matched, nil
		}
		return matched, nil

	case pattern.ConstraintPattern:
		if !bound || b.Node == nil || cond.Pattern == nil {
			return false, nil
		}
		sub, err := m.matchCandidate(cond.Pattern, lang, b.Node, opts)
		if err != nil {
			return false, err
		}
		return len(sub) > 0, nil

	case pattern.ConstraintComparison:
		bindings := make(map[string]string, len(env))
		for name, bv := range env {
			bindings[name] = bindingText(bv)
		}
		return pattern.EvaluateComparison(cond.Expression, pattern.ComparisonEnv{Bindings: bindings, Base: cond.Base, Strip: cond.Strip})

	case pattern.ConstraintAnalysis:
		if !bound {
			return false, nil
		}
		return evaluateAnalysis(cond, b), nil

	case pattern.ConstraintName:
		if !bound {
			return false, nil
		}
		return matchesModule(bindingText(b), cond.Module), nil

	default:
		return false, nil
	}
}

func bindingText(b Binding) string {
	if b.IsSeq {
		parts := make([]string, 0, len(b.Sequence))
		for _, n := range b.Sequence {
			parts = append(parts, n.Text)
		}
		return strings.Join(parts, ", ")
	}
	if b.Node == nil {
		return ""
	}
	return b.Node.Text
}

// evaluateAnalysis implements the best-effort heuristic predicates spec
// §3 describes for metavariable-analysis: entropy (randomness of a
// string literal, useful for spotting hardcoded secrets), type (a coarse
// syntactic guess, never full type inference — an explicit Non-goal),
// and complexity (subtree size as a cheap proxy for expression
// complexity).
func evaluateAnalysis(cond pattern.Constraint, b Binding) bool {
	switch cond.Analysis {
	case pattern.AnalysisEntropy:
		return shannonEntropy(bindingText(b)) >= cond.Threshold
	case pattern.AnalysisType:
		return matchesCoarseType(b.Node, cond.TypeNames)
	case pattern.AnalysisComplexity:
		return float64(subtreeSize(b.Node)) >= cond.Threshold
	default:
		return false
	}
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	total := float64(len(s))
	var entropy float64
	for _, count := range counts {
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// matchesCoarseType guesses a syntactic category from the bound node's
// kind and text — string/number/bool/null — never resolving an actual
// declared type (spec Non-goal: "type inference beyond coarse kinds").
func matchesCoarseType(n *uast.Node, wanted []string) bool {
	if n == nil {
		return false
	}
	kind := strings.ToLower(n.Kind)
	var guessed string
	switch {
	case strings.Contains(kind, "string"):
		guessed = "string"
	case strings.Contains(kind, "int") || strings.Contains(kind, "float") || strings.Contains(kind, "number"):
		guessed = "number"
	case strings.Contains(kind, "bool") || n.Text == "true" || n.Text == "false":
		guessed = "bool"
	case n.Text == "nil" || n.Text == "null" || n.Text == "None":
		guessed = "null"
	default:
		guessed = "unknown"
	}
	for _, w := range wanted {
		if strings.EqualFold(w, guessed) {
			return true
		}
	}
	return false
}

func subtreeSize(n *uast.Node) int {
	if n == nil {
		return 0
	}
	count := 0
	uast.Walk(n, func(*uast.Node) bool {
		count++
		return true
	})
	return count
}

// matchesModule is the deliberately-approximate stand-in for full symbol
// resolution (spec Non-goal: "whole-program interprocedural analysis").
// It accepts a reference that equals module outright, or that starts with
// module followed by a dot (any dotted path under module, at any depth).
func matchesModule(text, module string) bool {
	if module == "" {
		return true
	}
	if text == module {
		return true
	}
	return strings.HasPrefix(text, module+".")
}
