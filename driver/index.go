package driver

import (
	"hash/fnv"
	"regexp"

	"github.com/corvidsec/corvid/pattern"
	"github.com/corvidsec/corvid/rule"
	"github.com/corvidsec/corvid/uast"
)

// bloomBits and bloomHashes size the per-file bloom filter spec §4.6
// calls for: "a bloom filter over identifier tokens that appear as
// concrete leaves". Built once per file from every identifier token in
// its source text, then queried once per candidate rule for each of that
// rule's required tokens — a false positive only costs one wasted
// Matcher run on a rule that can't actually match; a false negative would
// wrongly skip a real match, which a bloom filter's one-sided error rate
// guarantees cannot happen.
const (
	bloomBits   = 2048
	bloomHashes = 4
)

type bloomFilter struct {
	bits [bloomBits / 64]uint64
}

func newBloomFilter() *bloomFilter { return &bloomFilter{} }

func (f *bloomFilter) add(token string) {
	for i := 0; i < bloomHashes; i++ {
		idx := bloomHash(token, i) % bloomBits
		f.bits[idx/64] |= 1 << uint(idx%64)
	}
}

func (f *bloomFilter) has(token string) bool {
	for i := 0; i < bloomHashes; i++ {
		idx := bloomHash(token, i) % bloomBits
		if f.bits[idx/64]&(1<<uint(idx%64)) == 0 {
			return false
		}
	}
	return true
}

func bloomHash(token string, seed int) uint64 {
	h := fnv.New64a()
	h.Write([]byte{byte(seed)})
	h.Write([]byte(token))
	return h.Sum64()
}

// identifierToken matches a single identifier-ish run of word characters,
// used both to extract the literal tokens a Simple pattern concretely
// requires and to tokenize a file's raw bytes for the bloom filter.
var identifierToken = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// indexedRule pairs a Rule with the token set its patterns concretely
// require, so the RuleIndex can test rule-requires-token against
// file-contains-token via the per-file bloom filter.
type indexedRule struct {
	rule   *rule.Rule
	tokens []string
	any    bool // true when tokens couldn't be derived soundly (regex, Either/Any, or a taint rule)
}

func (ir *indexedRule) admits(fileBloom *bloomFilter) bool {
	if ir.any || len(ir.tokens) == 0 {
		return true
	}
	for _, tok := range ir.tokens {
		if !fileBloom.has(tok) {
			return false
		}
	}
	return true
}

// RuleIndex indexes rules by language and a bloom-filter keyword
// admission test (spec §4.6). Built once per run and shared read-only
// across every worker (spec §5: "a read-only rule index").
type RuleIndex struct {
	byLanguage map[uast.Language][]*indexedRule
}

// BuildRuleIndex indexes rules, one entry per (rule, language) pair.
func BuildRuleIndex(rules []*rule.Rule) *RuleIndex {
	idx := &RuleIndex{byLanguage: make(map[uast.Language][]*indexedRule)}
	for _, r := range rules {
		tokens, any := ruleTokens(r)
		for _, lang := range r.Languages {
			idx.byLanguage[lang] = append(idx.byLanguage[lang], &indexedRule{rule: r, tokens: tokens, any: any})
		}
	}
	return idx
}

// Matching returns every rule relevant to lang whose bloom-filter
// admission test passes against fileBloom. It may over-admit (a rule
// that cannot actually match the file) but never under-admits.
func (idx *RuleIndex) Matching(lang uast.Language, fileBloom *bloomFilter) []*rule.Rule {
	var out []*rule.Rule
	for _, ir := range idx.byLanguage[lang] {
		if ir.admits(fileBloom) {
			out = append(out, ir.rule)
		}
	}
	return out
}

// BuildFileBloom tokenizes a file's raw source bytes and returns the
// bloom filter the admission test queries against. Operating on raw
// bytes rather than UAST leaves keeps indexing independent of which
// LanguageParser produced the tree.
func BuildFileBloom(src []byte) *bloomFilter {
	f := newBloomFilter()
	for _, m := range identifierToken.FindAll(src, -1) {
		f.add(string(m))
	}
	return f
}

// literalTokens returns source's identifier runs that are concrete
// tokens the candidate must contain verbatim, excluding metavariable
// names: a match immediately preceded by "$" or "$..." (the `$...NAME`
// ellipsis-binding form) names a placeholder, not a literal the target
// file is required to spell out, and admitting on it would turn the
// bloom filter's one-sided guarantee into a false negative.
func literalTokens(source string) []string {
	var out []string
	for _, loc := range identifierToken.FindAllStringIndex(source, -1) {
		start := loc[0]
		i := start
		for i > 0 && source[i-1] == '.' {
			i--
		}
		if i > 0 && source[i-1] == '$' {
			continue
		}
		out = append(out, source[loc[0]:loc[1]])
	}
	return out
}

// ruleTokens extracts the identifier tokens every Simple pattern reachable
// from r's pattern (and, for taint rules, its source/sink/sanitizer/
// propagator patterns) requires literally, skipping metavariable
// references and ellipses. any is true whenever token extraction cannot
// soundly narrow the rule: a reachable Regex/NotRegex (a regex's literal
// text isn't a reliable proxy for what it can match), or a reachable
// Either/Any — both are OR combinators, so a file satisfying only one
// branch must still admit the rule, and there is no sound way to express
// "requires tokens from branch A, or tokens from branch B" as a single
// required-token set without risking the false negative the bloom
// filter's one-sided guarantee forbids.
func ruleTokens(r *rule.Rule) ([]string, bool) {
	seen := make(map[string]bool)
	any := false
	var walk func(p *pattern.Pattern)
	walk = func(p *pattern.Pattern) {
		if p == nil || any {
			return
		}
		switch p.Kind {
		case pattern.KindSimple:
			for _, tok := range literalTokens(p.Source) {
				seen[tok] = true
			}
		case pattern.KindRegex, pattern.KindNotRegex, pattern.KindEither, pattern.KindAny:
			any = true
		case pattern.KindAll:
			for _, c := range p.Children {
				walk(c)
			}
		case pattern.KindInside, pattern.KindFocus:
			walk(p.Inner)
		case pattern.KindNot, pattern.KindNotInside:
			// A negated sub-pattern succeeds when its tokens are absent, so
			// it contributes no required token.
		}
	}
	walk(r.Pattern)
	if r.Taint != nil {
		// Sources/sinks/sanitizers/propagators are themselves alternatives
		// a taint flow could use (spec §4.4: "any" source, "any" sink) —
		// the same OR reasoning as Either/Any applies across the list, so
		// taint rules fall back to unconditional admission rather than
		// requiring the union of every alternative's tokens.
		any = true
	}
	if any {
		return nil, true
	}
	tokens := make([]string, 0, len(seen))
	for tok := range seen {
		tokens = append(tokens, tok)
	}
	return tokens, false
}
