package rule

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/corvidsec/corvid/pattern"
	"github.com/corvidsec/corvid/uast"
)

// patternKeys lists every YAML key that produces a Pattern value, in the
// order the Loader checks them (spec §6).
var patternKeys = []string{
	"pattern", "patterns", "pattern-either", "pattern-not", "pattern-inside",
	"pattern-not-inside", "pattern-regex", "pattern-not-regex", "pattern-all", "pattern-any",
}

var constraintKeys = map[string]bool{
	"metavariable-regex": true, "metavariable-pattern": true, "metavariable-comparison": true,
	"metavariable-analysis": true, "metavariable-name": true,
}

var recognizedTopLevelKeys = map[string]bool{
	"id": true, "message": true, "languages": true, "severity": true, "confidence": true,
	"mode": true, "fix": true, "fix-regex": true, "paths": true, "metadata": true, "options": true,
	"focus-metavariable": true,
	"pattern-sources": true, "pattern-sinks": true, "pattern-sanitizers": true,
	"pattern-propagators": true, "taint": true,
}

func init() {
	for _, k := range patternKeys {
		recognizedTopLevelKeys[k] = true
	}
	for k := range constraintKeys {
		recognizedTopLevelKeys[k] = true
	}
}

// LoadResult is the outcome of loading one rule document. Per spec §4.2,
// individual rule failures do not abort the whole document: they are
// collected in Errors while Rules still yields every rule that did parse
// successfully.
type LoadResult struct {
	Rules    []*Rule
	Errors   []error
	Warnings []string
}

// document is the top-level YAML shape: a `rules` list of loosely-typed
// mappings. Individual rule fields are decoded generically (map[string]any)
// rather than via static struct tags, because pattern combinators recurse
// through an open-ended, mutually-nestable key set that a fixed struct
// cannot express cleanly.
type document struct {
	Rules []map[string]interface{} `yaml:"rules"`
}

// Load parses a rule document's YAML bytes into a LoadResult. A malformed
// document (the YAML itself does not parse, or lacks a top-level `rules`
// list) is a fatal SyntaxError; a malformed individual rule is recorded in
// Errors and the rest of the document continues to load (spec §4.2, §7).
func Load(data []byte) (*LoadResult, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &SyntaxError{Reason: err.Error()}
	}
	if doc.Rules == nil {
		return nil, &SyntaxError{Reason: "document has no top-level 'rules' list"}
	}

	result := &LoadResult{}
	for _, raw := range doc.Rules {
		r, warnings, err := parseRule(raw)
		result.Warnings = append(result.Warnings, warnings...)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if err := r.Validate(); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Rules = append(result.Rules, r)
	}
	return result, nil
}

func parseRule(raw map[string]interface{}) (*Rule, []string, error) {
	r := &Rule{
		Confidence: ConfidenceMedium,
		Mode:       ModeSearch,
		Options:    DefaultOptions(),
		Metadata:   map[string]string{},
	}

	id, _ := raw["id"].(string)
	r.ID = id
	if r.ID == "" {
		return nil, nil, &SemanticError{Reason: "rule missing required field 'id'"}
	}

	msg, _ := raw["message"].(string)
	r.Message = msg
	if r.Message == "" {
		return nil, nil, &SemanticError{RuleID: r.ID, Reason: "rule missing required field 'message'"}
	}

	langsRaw, ok := raw["languages"]
	if !ok {
		return nil, nil, &SemanticError{RuleID: r.ID, Reason: "rule missing required field 'languages'"}
	}
	langs, err := parseLanguages(langsRaw)
	if err != nil {
		return nil, nil, &SemanticError{RuleID: r.ID, Reason: err.Error()}
	}
	r.Languages = langs

	sev, _ := raw["severity"].(string)
	if sev == "" {
		return nil, nil, &SemanticError{RuleID: r.ID, Reason: "rule missing required field 'severity'"}
	}
	r.Severity = Severity(toUpper(sev))

	if conf, ok := raw["confidence"].(string); ok && conf != "" {
		r.Confidence = Confidence(toUpper(conf))
	}

	if mode, ok := raw["mode"].(string); ok && mode != "" {
		r.Mode = Mode(mode)
	}

	if opts, ok := raw["options"].(map[string]interface{}); ok {
		r.Options = parseOptions(opts, r.Options)
	}

	if fix, ok := raw["fix"].(string); ok {
		r.Fix = fix
	}
	if fr, ok := raw["fix-regex"].(map[string]interface{}); ok {
		regex, _ := fr["regex"].(string)
		repl, _ := fr["replacement"].(string)
		r.FixRegex = &FixRegex{Regex: regex, Replacement: repl}
	}

	if paths, ok := raw["paths"].(map[string]interface{}); ok {
		r.Paths = PathFilter{
			Include: toStringSlice(paths["include"]),
			Exclude: toStringSlice(paths["exclude"]),
		}
	}

	if md, ok := raw["metadata"].(map[string]interface{}); ok {
		for k, v := range md {
			r.Metadata[k] = fmt.Sprintf("%v", v)
		}
	}

	if focus, ok := raw["focus-metavariable"]; ok {
		r.FocusNames = toStringSlice(focus)
	}

	var warnings []string
	for key := range raw {
		if !recognizedTopLevelKeys[key] {
			warnings = append(warnings, fmt.Sprintf("rule %q: unrecognized key %q preserved in metadata", r.ID, key))
			r.Metadata[key] = fmt.Sprintf("%v", raw[key])
		}
	}

	if r.Mode == ModeTaint || hasAnyKey(raw, "pattern-sources", "pattern-sinks", "pattern-sanitizers", "taint") {
		taint, err := parseTaintSpec(raw)
		if err != nil {
			return nil, warnings, &SemanticError{RuleID: r.ID, Reason: err.Error()}
		}
		r.Taint = taint
		r.Mode = ModeTaint
	} else {
		p, err := buildRulePattern(raw)
		if err != nil {
			return nil, warnings, &SemanticError{RuleID: r.ID, Reason: err.Error()}
		}
		if p == nil {
			return nil, warnings, &SemanticError{RuleID: r.ID, Reason: "rule must declare a pattern, patterns, or taint"}
		}
		r.Pattern = p
	}

	return r, warnings, nil
}

func hasAnyKey(raw map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, ok := raw[k]; ok {
			return true
		}
	}
	return false
}

func parseLanguages(raw interface{}) ([]uast.Language, error) {
	names := toStringSlice(raw)
	if len(names) == 0 {
		return nil, fmt.Errorf("languages must be a non-empty list")
	}
	langs := make([]uast.Language, 0, len(names))
	for _, name := range names {
		lang, ok := uast.LanguageByName(name)
		if !ok {
			return nil, fmt.Errorf("unrecognized language %q", name)
		}
		langs = append(langs, lang)
	}
	return langs, nil
}

func parseOptions(raw map[string]interface{}, base Options) Options {
	if v, ok := raw["commutative_boolop"].(bool); ok {
		base.CommutativeBoolop = v
	}
	if v, ok := raw["symmetric_eq"].(bool); ok {
		base.SymmetricEq = v
	}
	if v, ok := raw["constant_propagation"].(bool); ok {
		base.ConstantPropagation = v
	}
	if v, ok := raw["taint_assume_safe_indexes"].(bool); ok {
		base.TaintAssumeSafeIndexes = v
	}
	return base
}

func toStringSlice(raw interface{}) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// buildRulePattern builds the overall Pattern for a non-taint rule,
// handling the bare `pattern:` shorthand (equivalent to
// `patterns: [pattern: ...]`, spec §6) and attaching any top-level
// metavariable constraints and a focus wrapper.
func buildRulePattern(raw map[string]interface{}) (*pattern.Pattern, error) {
	var p *pattern.Pattern
	var err error

	for _, key := range patternKeys {
		val, ok := raw[key]
		if !ok {
			continue
		}
		p, err = buildPatternForKey(key, val)
		if err != nil {
			return nil, err
		}
		break
	}
	if p == nil {
		return nil, nil
	}

	conds, err := buildConstraints(raw)
	if err != nil {
		return nil, err
	}
	p.WithConditions(conds...)

	if focus, ok := raw["focus-metavariable"]; ok {
		names := toStringSlice(focus)
		if len(names) > 0 {
			p = pattern.Focus(names, p)
		}
	}

	return p, nil
}

// buildPatternForKey dispatches a single recognized pattern key to the
// matching Pattern constructor, recursing into nested pattern lists.
func buildPatternForKey(key string, val interface{}) (*pattern.Pattern, error) {
	switch key {
	case "pattern":
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("pattern: expected a string")
		}
		return pattern.Simple(s), nil

	case "patterns":
		items, err := asPatternList(val)
		if err != nil {
			return nil, err
		}
		var rest []interface{}
		var conds []pattern.Constraint
		for _, item := range items {
			// An item naming only metavariable-* keys constrains the whole list.
			m, ok := item.(map[string]interface{})
			c, err := buildConstraints(m)
			if err != nil {
				return nil, err
			}
			if !ok || hasAnyKey(m, patternKeys...) || len(c) == 0 {
				rest = append(rest, item)
				continue
			}
			conds = append(conds, c...)
		}
		children, err := buildPatternItems(rest)
		if err != nil {
			return nil, err
		}
		return pattern.All(children...).WithConditions(conds...), nil

	case "pattern-all":
		items, err := asPatternList(val)
		if err != nil {
			return nil, err
		}
		children, err := buildPatternItems(items)
		if err != nil {
			return nil, err
		}
		return pattern.All(children...), nil

	case "pattern-any":
		items, err := asPatternList(val)
		if err != nil {
			return nil, err
		}
		children, err := buildPatternItems(items)
		if err != nil {
			return nil, err
		}
		return pattern.Any(children...), nil

	case "pattern-either":
		items, err := asPatternList(val)
		if err != nil {
			return nil, err
		}
		children, err := buildPatternItems(items)
		if err != nil {
			return nil, err
		}
		return pattern.Either(children...), nil

	case "pattern-not":
		inner, err := buildSinglePattern(val)
		if err != nil {
			return nil, err
		}
		return pattern.Not(inner), nil

	case "pattern-inside":
		inner, err := buildSinglePattern(val)
		if err != nil {
			return nil, err
		}
		return pattern.Inside(inner), nil

	case "pattern-not-inside":
		inner, err := buildSinglePattern(val)
		if err != nil {
			return nil, err
		}
		return pattern.NotInside(inner), nil

	case "pattern-regex":
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("pattern-regex: expected a string")
		}
		return pattern.Regex(s), nil

	case "pattern-not-regex":
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("pattern-not-regex: expected a string")
		}
		return pattern.NotRegex(s), nil

	default:
		return nil, fmt.Errorf("unrecognized pattern key %q", key)
	}
}

// buildSinglePattern handles a pattern-not/pattern-inside/pattern-not-inside
// value, which is either a bare string (shorthand for {pattern: str}) or a
// nested mapping of its own.
func buildSinglePattern(val interface{}) (*pattern.Pattern, error) {
	if s, ok := val.(string); ok {
		return pattern.Simple(s), nil
	}
	m, ok := val.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a pattern string or mapping")
	}
	return buildRulePattern(m)
}

// asPatternList normalizes the value of a list-combinator key (patterns,
// pattern-either, pattern-all, pattern-any) to a slice of item maps.
func asPatternList(val interface{}) ([]interface{}, error) {
	items, ok := val.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list of patterns")
	}
	return items, nil
}

// buildPatternItems converts each list item into a Pattern. Each item is
// a mapping that names exactly one pattern-producing key, optionally
// alongside one or more constraint keys applied to that sub-pattern.
func buildPatternItems(items []interface{}) ([]*pattern.Pattern, error) {
	out := make([]*pattern.Pattern, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			if s, ok := item.(string); ok {
				out = append(out, pattern.Simple(s))
				continue
			}
			return nil, fmt.Errorf("pattern list item must be a mapping or string")
		}
		p, err := buildRulePattern(m)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("pattern list item does not name a pattern key")
		}
		out = append(out, p)
	}
	return out, nil
}

// buildConstraints extracts every metavariable-* key present directly on
// raw into a []pattern.Constraint, evaluated in declaration order (spec
// §4.3: "Evaluated in order; the first failing constraint aborts the
// Match.").
func buildConstraints(raw map[string]interface{}) ([]pattern.Constraint, error) {
	var out []pattern.Constraint

	if v, ok := raw["metavariable-regex"].(map[string]interface{}); ok {
		name, _ := v["metavariable"].(string)
		regex, _ := v["regex"].(string)
		out = append(out, pattern.Constraint{Kind: pattern.ConstraintRegex, Metavar: trimDollar(name), Regex: regex})
	}
	if v, ok := raw["metavariable-pattern"].(map[string]interface{}); ok {
		name, _ := v["metavariable"].(string)
		sub, err := buildRulePattern(v)
		if err != nil {
			return nil, err
		}
		out = append(out, pattern.Constraint{Kind: pattern.ConstraintPattern, Metavar: trimDollar(name), Pattern: sub})
	}
	if v, ok := raw["metavariable-comparison"].(map[string]interface{}); ok {
		name, _ := v["metavariable"].(string)
		expr, _ := v["comparison"].(string)
		base, _ := v["base"].(int)
		strip, _ := v["strip"].(bool)
		out = append(out, pattern.Constraint{Kind: pattern.ConstraintComparison, Metavar: trimDollar(name), Expression: expr, Base: base, Strip: strip})
	}
	if v, ok := raw["metavariable-analysis"].(map[string]interface{}); ok {
		name, _ := v["metavariable"].(string)
		kind, _ := v["analysis"].(string)
		out = append(out, pattern.Constraint{Kind: pattern.ConstraintAnalysis, Metavar: trimDollar(name), Analysis: pattern.AnalysisKind(kind)})
	}
	if v, ok := raw["metavariable-name"].(map[string]interface{}); ok {
		name, _ := v["metavariable"].(string)
		module, _ := v["module"].(string)
		out = append(out, pattern.Constraint{Kind: pattern.ConstraintName, Metavar: trimDollar(name), Module: module})
	}
	return out, nil
}

func trimDollar(name string) string {
	if len(name) > 0 && name[0] == '$' {
		return name[1:]
	}
	return name
}

// parseTaintSpec builds a TaintSpec from the taint-mode keys of a rule.
func parseTaintSpec(raw map[string]interface{}) (*TaintSpec, error) {
	spec := &TaintSpec{Labels: map[string]string{}}

	build := func(key string) ([]*pattern.Pattern, error) {
		val, ok := raw[key]
		if !ok {
			return nil, nil
		}
		items, err := asPatternList(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return buildPatternItems(items)
	}

	sources, err := build("pattern-sources")
	if err != nil {
		return nil, err
	}
	spec.Sources = sources

	sinks, err := build("pattern-sinks")
	if err != nil {
		return nil, err
	}
	spec.Sinks = sinks

	sanitizers, err := build("pattern-sanitizers")
	if err != nil {
		return nil, err
	}
	spec.Sanitizers = sanitizers

	if val, ok := raw["pattern-propagators"]; ok {
		items, err := asPatternList(val)
		if err != nil {
			return nil, fmt.Errorf("pattern-propagators: %w", err)
		}
		for _, item := range items {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("pattern-propagators item must be a mapping")
			}
			p, err := buildRulePattern(m)
			if err != nil {
				return nil, err
			}
			from, _ := m["from"].(string)
			to, _ := m["to"].(string)
			spec.Propagators = append(spec.Propagators, PropagatorSpec{Pattern: p, From: from, To: to})
		}
	}

	if taintMap, ok := raw["taint"].(map[string]interface{}); ok {
		if sr, ok := taintMap["sink_requires"].(string); ok {
			spec.SinkRequires = sr
		}
		if labels, ok := taintMap["labels"].(map[string]interface{}); ok {
			for k, v := range labels {
				spec.Labels[k] = fmt.Sprintf("%v", v)
			}
		}
	}

	if len(spec.Sinks) == 0 {
		return nil, fmt.Errorf("taint mode requires pattern-sinks")
	}

	return spec, nil
}
