package matcher

import (
	"github.com/corvidsec/corvid/pattern"
	"github.com/corvidsec/corvid/rule"
	"github.com/corvidsec/corvid/uast"
)

// cacheKey identifies one (pattern, node) pair for the per-match memo
// cache (spec §4.3: "a per-(pattern,node) memoization cache avoids
// recomputing a sub-pattern's result when it is reused across several
// combinators"). Pattern identity is the pointer itself: rules never
// clone a compiled Pattern once loaded.
type cacheKey struct {
	p      *pattern.Pattern
	nodeID string
}

// Matcher runs one rule's Pattern against a UAST. It is not safe for
// concurrent use: the Rule Execution Driver evaluates a file's rules
// sequentially within that file's worker so the memo cache stays warm
// across rules without needing synchronization (spec §5).
type Matcher struct {
	cache map[cacheKey][]Match
	lq    LanguageQuery

	// Cancelled, when set, is polled between top-level children of
	// composite patterns (spec §5). A nil hook means cancellation is
	// disabled, which is also what every existing caller/test gets by
	// default.
	Cancelled func() bool
}

// New constructs a Matcher. lq supplies IsCommutative/IsEquality for the
// language being matched; pass nil to disable operand reordering
// regardless of rule options.
func New(lq LanguageQuery) *Matcher {
	if lq == nil {
		lq = noopLanguageQuery{}
	}
	return &Matcher{cache: make(map[cacheKey][]Match), lq: lq}
}

func (m *Matcher) lookupCache(p *pattern.Pattern, c *uast.Node) ([]Match, bool) {
	v, ok := m.cache[cacheKey{p, c.ID}]
	return v, ok
}

func (m *Matcher) storeCache(p *pattern.Pattern, c *uast.Node, result []Match) {
	m.cache[cacheKey{p, c.ID}] = result
}

// Match walks root in depth-first pre-order (spec §4.3) and returns every
// match of p, trying every node as an independent candidate root.
func (m *Matcher) Match(p *pattern.Pattern, lang uast.Language, root *uast.Node, opts rule.Options) ([]Match, error) {
	mo := matchOptions{CommutativeBoolop: opts.CommutativeBoolop, SymmetricEq: opts.SymmetricEq, lq: m.lq}
	var out []Match
	var walkErr error
	uast.Walk(root, func(n *uast.Node) bool {
		if walkErr != nil {
			return false
		}
		matches, err := m.matchCandidate(p, lang, n, mo)
		if err != nil {
			walkErr = err
			return false
		}
		out = append(out, matches...)
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}
