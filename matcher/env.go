// Package matcher implements the pattern-matching engine (spec §4.3): a
// depth-first pre-order walk of a UAST that tries each rule's Pattern
// against every node, accumulating metavariable bindings into an
// Environment and combining them across the Pattern combinators.
package matcher

import "github.com/corvidsec/corvid/uast"

// Binding is what one metavariable resolves to: a single captured node
// for $NAME, or an ordered sequence of sibling nodes for $...NAME.
type Binding struct {
	Node     *uast.Node
	Sequence []*uast.Node
	IsSeq    bool
}

// Environment is the accumulated set of metavariable bindings produced
// while matching a pattern against a candidate subtree (spec §3).
type Environment map[string]Binding

// Clone returns a shallow copy that callers can extend without mutating
// the original.
func (env Environment) Clone() Environment {
	out := make(Environment, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// Merge combines add into base. A name bound in both must unify
// structurally, otherwise Merge fails (spec §4.3: "a metavariable bound
// in multiple branches must resolve to structurally/textually equal
// values").
func Merge(base, add Environment) (Environment, bool) {
	out := base.Clone()
	for name, b := range add {
		if existing, ok := out[name]; ok {
			if !bindingsEqual(existing, b) {
				return nil, false
			}
			continue
		}
		out[name] = b
	}
	return out, true
}

func bindingsEqual(a, b Binding) bool {
	if a.IsSeq != b.IsSeq {
		return false
	}
	if a.IsSeq {
		if len(a.Sequence) != len(b.Sequence) {
			return false
		}
		for i := range a.Sequence {
			if !structurallyEqual(a.Sequence[i], b.Sequence[i]) {
				return false
			}
		}
		return true
	}
	return structurallyEqual(a.Node, b.Node)
}

// structurallyEqual implements the "structural/text equality" unification
// rule (spec §3): same kind everywhere, and for leaves, same text.
func structurallyEqual(a, b *uast.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	if len(a.Children) == 0 && len(b.Children) == 0 {
		if a.HasText != b.HasText {
			return false
		}
		return a.Text == b.Text
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !structurallyEqual(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}
