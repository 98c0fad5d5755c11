// Package rule is the Rule Model & Loader (spec §4.2). It parses the
// declarative YAML rule schema of spec §6 into Pattern + constraints +
// metadata, using gopkg.in/yaml.v3 — the same library the teacher uses
// for its own manifest/cache persistence (ruleset package) — generalized
// here from JSON-IR-over-Python-exec to a native declarative schema.
package rule

import (
	"fmt"

	"github.com/corvidsec/corvid/pattern"
	"github.com/corvidsec/corvid/uast"
)

// Severity is a closed enum, case-insensitive on input (spec §6).
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Confidence is a closed enum defaulting to MEDIUM (spec §6).
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Mode selects whether a rule is a structural-search rule or a taint rule
// (spec §3).
type Mode string

const (
	ModeSearch Mode = "search"
	ModeTaint  Mode = "taint"
)

// FixRegex is the fix-regex field: a regex/replacement pair applied to the
// matched span's text when `fix` is absent (spec §4.5).
type FixRegex struct {
	Regex       string
	Replacement string
}

// PathFilter is the paths field: include/exclude glob lists (spec §4.5).
type PathFilter struct {
	Include []string
	Exclude []string
}

// Options are the boolean toggles of spec §4.3/§4.4.
type Options struct {
	CommutativeBoolop      bool
	SymmetricEq            bool
	ConstantPropagation    bool // default true, set by the loader
	TaintAssumeSafeIndexes bool // default false; see §4.4
}

// DefaultOptions returns the option defaults spec §4.3 specifies.
func DefaultOptions() Options {
	return Options{
		CommutativeBoolop:      false,
		SymmetricEq:            false,
		ConstantPropagation:    true,
		TaintAssumeSafeIndexes: false,
	}
}

// PropagatorSpec is one element of TaintSpec.Propagators (spec §3).
type PropagatorSpec struct {
	Pattern *pattern.Pattern
	From    string
	To      string
}

// TaintSpec is the taint-mode configuration of a Rule (spec §3).
type TaintSpec struct {
	Sources      []*pattern.Pattern
	Sinks        []*pattern.Pattern
	Sanitizers   []*pattern.Pattern
	Propagators  []PropagatorSpec
	Labels       map[string]string // pattern-ref (by index key, see Loader) -> label
	SinkRequires string            // boolean expression over labels; empty means "non-empty"
}

// Rule is the fully-parsed rule model (spec §3).
type Rule struct {
	ID          string
	Message     string
	Severity    Severity
	Confidence  Confidence
	Languages   []uast.Language
	Pattern     *pattern.Pattern
	Mode        Mode
	Taint       *TaintSpec
	Fix         string
	FixRegex    *FixRegex
	Paths       PathFilter
	Metadata    map[string]string
	Options     Options
	FocusNames  []string
}

// Validate checks the invariants spec §3 requires of a Rule: id is
// non-empty, languages is non-empty, and taint mode carries a TaintSpec.
// Called by the Loader after construction (spec §4.2: "RuleSemanticError
// for contradictions").
func (r *Rule) Validate() error {
	if r.ID == "" {
		return &SemanticError{Reason: "rule id must not be empty"}
	}
	if len(r.Languages) == 0 {
		return &SemanticError{RuleID: r.ID, Reason: "languages must not be empty"}
	}
	if r.Mode == ModeTaint && r.Taint == nil {
		return &SemanticError{RuleID: r.ID, Reason: "mode: taint requires a taint spec"}
	}
	if r.Mode == ModeTaint && len(r.Taint.Sinks) == 0 {
		return &SemanticError{RuleID: r.ID, Reason: "taint rule must declare at least one sink"}
	}
	for _, name := range r.FocusNames {
		if !r.patternBindsMetavar(name) {
			return &SemanticError{RuleID: r.ID, Reason: fmt.Sprintf("focus-metavariable %q is not bound by this rule's pattern", name)}
		}
	}
	return nil
}

// patternBindsMetavar is a conservative, string-based check: a metavariable
// is considered "bound" if its token appears anywhere in any Simple
// pattern's source text reachable from r.Pattern or r.Taint. This is
// necessarily approximate before compilation (spec §4.2 requires catching
// this at load time, before the Matcher has run).
func (r *Rule) patternBindsMetavar(name string) bool {
	needle := name
	if len(needle) == 0 || needle[0] != '$' {
		needle = "$" + needle
	}
	var found bool
	var walk func(p *pattern.Pattern)
	walk = func(p *pattern.Pattern) {
		if p == nil || found {
			return
		}
		switch p.Kind {
		case pattern.KindSimple:
			if containsToken(p.Source, needle) {
				found = true
			}
		case pattern.KindEither, pattern.KindAll, pattern.KindAny:
			for _, c := range p.Children {
				walk(c)
			}
		case pattern.KindNot, pattern.KindInside, pattern.KindNotInside, pattern.KindFocus:
			walk(p.Inner)
		}
	}
	walk(r.Pattern)
	if r.Taint != nil {
		for _, s := range r.Taint.Sources {
			walk(s)
		}
		for _, s := range r.Taint.Sinks {
			walk(s)
		}
	}
	return found
}

func containsToken(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			after := i + len(needle)
			if after < len(haystack) && isMetavarContinuation(haystack[after]) {
				continue
			}
			return true
		}
	}
	return false
}

func isMetavarContinuation(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
