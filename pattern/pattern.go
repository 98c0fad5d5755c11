// Package pattern is the in-memory representation of patterns and their
// combinators (spec §3 "Pattern", §4.3 "composite semantics"). A Pattern
// is a tagged sum type; compilation of the Simple variant into a
// pattern-AST is deferred until first use (spec: "compiled lazily into a
// pattern-AST by reparsing with the same LanguageParser").
package pattern

import "github.com/corvidsec/corvid/uast"

// Kind tags the variant of a Pattern.
type Kind string

const (
	KindSimple    Kind = "simple"
	KindRegex     Kind = "regex"
	KindNotRegex  Kind = "not_regex"
	KindEither    Kind = "either"
	KindAll       Kind = "all"
	KindAny       Kind = "any"
	KindNot       Kind = "not"
	KindInside    Kind = "inside"
	KindNotInside Kind = "not_inside"
	KindFocus     Kind = "focus"
)

// Pattern is the tagged-sum-type pattern value described in spec §3. Only
// the fields relevant to Kind are populated; callers should not rely on
// zero values of the other fields carrying meaning.
type Pattern struct {
	Kind Kind

	// KindSimple
	Source string

	// KindRegex / KindNotRegex
	Regex string

	// KindEither / KindAll / KindAny
	Children []*Pattern

	// KindNot / KindInside / KindNotInside
	Inner *Pattern

	// KindFocus
	FocusNames []string

	// Conditions are the metavariable constraints attached to this
	// pattern node, evaluated in order after a candidate match succeeds
	// (spec §4.3 "Constraint evaluation").
	Conditions []Constraint

	// compiled caches the result of reparsing Source via a LanguageParser,
	// keyed by language so a single Pattern value can be reused across a
	// multi-language rule.
	compiled map[uast.Language]*uast.Node
}

// Simple builds a Simple(string) pattern.
func Simple(source string) *Pattern { return &Pattern{Kind: KindSimple, Source: source} }

// Regex builds a Regex(string) pattern.
func Regex(re string) *Pattern { return &Pattern{Kind: KindRegex, Regex: re} }

// NotRegex builds a NotRegex(string) pattern.
func NotRegex(re string) *Pattern { return &Pattern{Kind: KindNotRegex, Regex: re} }

// Either builds an Either(list<Pattern>) pattern.
func Either(children ...*Pattern) *Pattern { return &Pattern{Kind: KindEither, Children: children} }

// All builds an All(list<Pattern>) pattern.
func All(children ...*Pattern) *Pattern { return &Pattern{Kind: KindAll, Children: children} }

// Any builds an Any(list<Pattern>) pattern.
func Any(children ...*Pattern) *Pattern { return &Pattern{Kind: KindAny, Children: children} }

// Not builds a Not(Pattern) pattern.
func Not(inner *Pattern) *Pattern { return &Pattern{Kind: KindNot, Inner: inner} }

// Inside builds an Inside(Pattern) pattern.
func Inside(inner *Pattern) *Pattern { return &Pattern{Kind: KindInside, Inner: inner} }

// NotInside builds a NotInside(Pattern) pattern.
func NotInside(inner *Pattern) *Pattern { return &Pattern{Kind: KindNotInside, Inner: inner} }

// Focus builds a Focus(names, Pattern) pattern.
func Focus(names []string, inner *Pattern) *Pattern {
	return &Pattern{Kind: KindFocus, FocusNames: names, Inner: inner}
}

// WithConditions attaches metavariable constraints to p and returns p for
// chaining.
func (p *Pattern) WithConditions(conds ...Constraint) *Pattern {
	p.Conditions = append(p.Conditions, conds...)
	return p
}

// SetCompiled caches the pattern-AST compiled for lang. Used by the
// compiler (compile.go) to memoize lazy compilation.
func (p *Pattern) SetCompiled(lang uast.Language, n *uast.Node) {
	if p.compiled == nil {
		p.compiled = make(map[uast.Language]*uast.Node)
	}
	p.compiled[lang] = n
}

// Compiled returns the previously cached pattern-AST for lang, if any.
func (p *Pattern) Compiled(lang uast.Language) (*uast.Node, bool) {
	if p.compiled == nil {
		return nil, false
	}
	n, ok := p.compiled[lang]
	return n, ok
}
