package matcher

import (
	"fmt"
	"strings"

	"github.com/corvidsec/corvid/pattern"
	"github.com/corvidsec/corvid/uast"
)

// Match is one successful pattern match at a given node: the node a
// Finding should anchor to (narrowed by Focus, when present) and the
// metavariable bindings accumulated along the way.
type Match struct {
	Node *uast.Node
	Env  Environment
}

// matchCandidate evaluates p against a single candidate node, applying
// p's own combinator semantics and then, on each surviving match, its
// attached metavariable constraints in declaration order — the first
// failing constraint discards that match (spec §4.3).
func (m *Matcher) matchCandidate(p *pattern.Pattern, lang uast.Language, c *uast.Node, opts matchOptions) ([]Match, error) {
	matches, err := m.matchPattern(p, lang, c, opts)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	out := make([]Match, 0, len(matches))
	for _, mt := range matches {
		ok, err := m.checkConstraints(p.Conditions, mt.Env, lang, opts)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, mt)
		}
	}
	return out, nil
}

func (m *Matcher) matchPattern(p *pattern.Pattern, lang uast.Language, c *uast.Node, opts matchOptions) ([]Match, error) {
	if cached, ok := m.lookupCache(p, c); ok {
		return cached, nil
	}
	result, err := m.matchPatternUncached(p, lang, c, opts)
	if err == nil {
		m.storeCache(p, c, result)
	}
	return result, err
}

func (m *Matcher) matchPatternUncached(p *pattern.Pattern, lang uast.Language, c *uast.Node, opts matchOptions) ([]Match, error) {
	switch p.Kind {
	case pattern.KindSimple:
		root, ok := p.Compiled(lang)
		if !ok {
			return nil, fmt.Errorf("matcher: pattern %q is not compiled for language %s", p.Source, lang)
		}
		env, ok := matchSimpleWithOptions(root, c, opts)
		if !ok {
			return nil, nil
		}
		return []Match{{Node: c, Env: env}}, nil

	case pattern.KindRegex:
		re, err := pattern.GlobalRegexCache().Compile(p.Regex)
		if err != nil {
			return nil, err
		}
		if c.HasText && re.MatchString(c.Text) {
			return []Match{{Node: c, Env: Environment{}}}, nil
		}
		return nil, nil

	case pattern.KindNotRegex:
		re, err := pattern.GlobalRegexCache().Compile(p.Regex)
		if err != nil {
			return nil, err
		}
		if c.HasText && re.MatchString(c.Text) {
			return nil, nil
		}
		return []Match{{Node: c, Env: Environment{}}}, nil

	case pattern.KindEither:
		var out []Match
		for _, child := range p.Children {
			if m.cancelled() {
				return nil, ErrCancelled
			}
			sub, err := m.matchCandidate(child, lang, c, opts)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil

	case pattern.KindAll:
		return m.matchAll(p.Children, lang, c, opts)

	case pattern.KindAny:
		var out []Match
		for _, child := range p.Children {
			if m.cancelled() {
				return nil, ErrCancelled
			}
			sub, err := m.matchCandidate(child, lang, c, opts)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil

	case pattern.KindNot:
		sub, err := m.matchCandidate(p.Inner, lang, c, opts)
		if err != nil {
			return nil, err
		}
		if len(sub) > 0 {
			return nil, nil
		}
		return []Match{{Node: c, Env: Environment{}}}, nil

	case pattern.KindInside:
		for _, anc := range c.Ancestors() {
			sub, err := m.matchCandidate(p.Inner, lang, anc, opts)
			if err != nil {
				return nil, err
			}
			if len(sub) > 0 {
				return []Match{{Node: c, Env: Environment{}}}, nil
			}
		}
		return nil, nil

	case pattern.KindNotInside:
		for _, anc := range c.Ancestors() {
			sub, err := m.matchCandidate(p.Inner, lang, anc, opts)
			if err != nil {
				return nil, err
			}
			if len(sub) > 0 {
				return nil, nil
			}
		}
		return []Match{{Node: c, Env: Environment{}}}, nil

	case pattern.KindFocus:
		sub, err := m.matchCandidate(p.Inner, lang, c, opts)
		if err != nil {
			return nil, err
		}
		out := make([]Match, 0, len(sub))
		for _, mt := range sub {
			out = append(out, Match{Node: focusNode(p.FocusNames, mt.Env, mt.Node), Env: mt.Env})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("matcher: unknown pattern kind %q", p.Kind)
	}
}

// matchAll intersects every child pattern's matches against the same
// candidate node, requiring their bindings to unify (spec §4.3 "All:
// every sub-pattern must match the same node; bindings unify").
func (m *Matcher) matchAll(children []*pattern.Pattern, lang uast.Language, c *uast.Node, opts matchOptions) ([]Match, error) {
	envs := []Environment{{}}
	for _, child := range children {
		if m.cancelled() {
			return nil, ErrCancelled
		}
		sub, err := m.matchCandidate(child, lang, c, opts)
		if err != nil {
			return nil, err
		}
		if len(sub) == 0 {
			return nil, nil
		}
		var next []Environment
		for _, base := range envs {
			for _, mt := range sub {
				if merged, ok := Merge(base, mt.Env); ok {
					next = append(next, merged)
				}
			}
		}
		if len(next) == 0 {
			return nil, nil
		}
		envs = next
	}
	out := make([]Match, 0, len(envs))
	for _, env := range envs {
		out = append(out, Match{Node: c, Env: env})
	}
	return out, nil
}

// focusNode narrows the reported region to the union span of the bound
// metavariables named in names (spec: "Focus=narrowed reporting region").
// A single focus name reports that metavariable's own node; multiple
// names report a synthetic node spanning their union.
func focusNode(names []string, env Environment, fallback *uast.Node) *uast.Node {
	var nodes []*uast.Node
	for _, name := range names {
		b, ok := env[strings.TrimPrefix(name, "$")]
		if !ok {
			continue
		}
		if b.IsSeq {
			nodes = append(nodes, b.Sequence...)
		} else if b.Node != nil {
			nodes = append(nodes, b.Node)
		}
	}
	if len(nodes) == 0 {
		return fallback
	}
	if len(nodes) == 1 {
		return nodes[0]
	}
	span := nodes[0].Span
	for _, n := range nodes[1:] {
		span = unionSpan(span, n.Span)
	}
	merged := uast.NewNode("focus", nodes[0].Language)
	merged.WithSpan(span)
	return merged
}

func unionSpan(a, b uast.Span) uast.Span {
	out := a
	if b.ByteStart < out.ByteStart {
		out.ByteStart, out.StartLine, out.StartColumn = b.ByteStart, b.StartLine, b.StartColumn
	}
	if b.ByteEnd > out.ByteEnd {
		out.ByteEnd, out.EndLine, out.EndColumn = b.ByteEnd, b.EndLine, b.EndColumn
	}
	return out
}
