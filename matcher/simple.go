package matcher

import (
	"strings"

	"github.com/corvidsec/corvid/uast"
)

// matchOptions bundles the per-rule toggles the low-level node matcher
// needs, plus the language's answers to IsCommutative/IsEquality.
type matchOptions struct {
	CommutativeBoolop bool
	SymmetricEq       bool
	lq                LanguageQuery
}

// significantRoot descends through wrapper nodes a grammar inserts around
// a single meaningful child (a source_file holding one statement, a bare
// expression_statement around a call) by following the span-identity
// heuristic: a node whose span exactly matches its only child's span is
// pure structure, not a construct of its own. This keeps pattern
// compilation language-agnostic instead of hardcoding wrapper kind names
// per grammar (spec §4.1, §9).
func significantRoot(n *uast.Node) *uast.Node {
	for len(n.Children) == 1 && n.HasSpan && n.Children[0].HasSpan && n.Span == n.Children[0].Span {
		n = n.Children[0]
	}
	return n
}

// matchSimple matches a compiled Simple pattern-AST (patternRoot, as
// produced by pattern.Compile) against one candidate UAST node. It is the
// core of the Matcher's per-node test (spec §4.3 "Simple: the pattern-AST
// is matched node-for-node against the candidate").
func matchSimple(patternRoot, candidate *uast.Node) (Environment, bool) {
	return matchNode(significantRoot(patternRoot), candidate, Environment{}, matchOptions{lq: noopLanguageQuery{}})
}

// matchSimpleWithOptions is matchSimple but threading rule-level options
// through to the node matcher, for commutative/symmetric operand
// reordering.
func matchSimpleWithOptions(patternRoot, candidate *uast.Node, opts matchOptions) (Environment, bool) {
	return matchNode(significantRoot(patternRoot), candidate, Environment{}, opts)
}

func matchNode(p, c *uast.Node, env Environment, opts matchOptions) (Environment, bool) {
	if c == nil {
		return nil, false
	}
	if mv, ok := p.Attr("metavariable"); ok {
		return bindMetavar(strings.TrimPrefix(mv, "$"), c, env)
	}

	if p.Kind != c.Kind {
		return nil, false
	}

	if len(p.Children) == 0 {
		if p.HasText && c.HasText && p.Text != c.Text {
			return nil, false
		}
		return env, true
	}

	if opts.lq != nil && len(p.Children) == len(c.Children) && len(p.Children) == 2 {
		if (opts.CommutativeBoolop && opts.lq.IsCommutative(p.Kind)) ||
			(opts.SymmetricEq && opts.lq.IsEquality(p.Kind)) {
			if env2, ok := matchChildrenSequence(p.Children, c.Children, env, opts); ok {
				return env2, true
			}
			swapped := []*uast.Node{p.Children[1], p.Children[0]}
			return matchChildrenSequence(swapped, c.Children, env, opts)
		}
	}

	return matchChildrenSequence(p.Children, c.Children, env, opts)
}

// bindMetavar binds name to c's subtree, requiring consistency with any
// prior binding of the same name within this match (spec §3: "the same
// name used twice in one pattern must bind to equal values").
func bindMetavar(name string, c *uast.Node, env Environment) (Environment, bool) {
	b := Binding{Node: c}
	if existing, ok := env[name]; ok {
		if !bindingsEqual(existing, b) {
			return nil, false
		}
		return env, true
	}
	out := env.Clone()
	out[name] = b
	return out, true
}

// matchChildrenSequence matches a pattern-AST's children against a
// candidate's children in order, honoring ellipsis metavariables
// ($...NAME or bare "...") as a variable-length gap. It backtracks over
// how much of the candidate sequence an ellipsis consumes, per spec
// §4.3's "$...NAME matches the shortest sequence that allows the
// remainder of the pattern to still match" default.
func matchChildrenSequence(pChildren, cChildren []*uast.Node, env Environment, opts matchOptions) (Environment, bool) {
	if len(pChildren) == 0 {
		if len(cChildren) == 0 {
			return env, true
		}
		return nil, false
	}

	head := pChildren[0]
	if ellVal, ok := head.Attr("ellipsis"); ok {
		name := strings.TrimPrefix(ellVal, "...")
		for k := 0; k <= len(cChildren); k++ {
			trial := env
			if name != "" {
				merged, ok := Merge(env, Environment{name: {Sequence: append([]*uast.Node{}, cChildren[:k]...), IsSeq: true}})
				if !ok {
					continue
				}
				trial = merged
			}
			if rest, ok := matchChildrenSequence(pChildren[1:], cChildren[k:], trial, opts); ok {
				return rest, true
			}
		}
		return nil, false
	}

	if len(cChildren) == 0 {
		return nil, false
	}
	env2, ok := matchNode(head, cChildren[0], env, opts)
	if !ok {
		return nil, false
	}
	return matchChildrenSequence(pChildren[1:], cChildren[1:], env2, opts)
}
