// Package finding turns Matcher output into the user-visible Finding
// records of spec §3, and aggregates/sorts/filters them per spec §4.5.
// Grounded on the teacher's output package: dsl.EnrichedDetection's
// field shape (dsl/enriched_detection.go) generalized from a
// taint-specific, pre-resolved struct to one built directly from any
// matcher.Match, and output/filter.go's DiffFilter pattern for path
// inclusion/exclusion.
package finding

import (
	"regexp"
	"strings"

	"github.com/corvidsec/corvid/matcher"
	"github.com/corvidsec/corvid/rule"
	"github.com/corvidsec/corvid/uast"
)

// Finding is the terminal report a rule run produces (spec §3).
type Finding struct {
	RuleID     string
	Message    string
	Severity   rule.Severity
	Confidence rule.Confidence
	Location   uast.Span
	Fix        string
	Bindings   map[string]string
	TaintPath  []uast.Span
	Metadata   map[string]string
}

var metavarRef = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// renderMessage substitutes every $NAME reference in msg with its bound
// text, leaving unresolved names untouched (spec §6: "may reference $NAME
// which is substituted with the bound text").
func renderMessage(msg string, bindings map[string]string) string {
	return metavarRef.ReplaceAllStringFunc(msg, func(tok string) string {
		if v, ok := bindings[tok[1:]]; ok {
			return v
		}
		return tok
	})
}

// bindingTexts flattens a matcher.Environment into plain strings,
// joining ellipsis sequences the same way the Taint Engine keys
// variables, so fix/message substitution sees a single coherent string
// per metavariable.
func bindingTexts(env matcher.Environment) map[string]string {
	out := make(map[string]string, len(env))
	for name, b := range env {
		if b.IsSeq {
			parts := make([]string, len(b.Sequence))
			for i, n := range b.Sequence {
				parts[i] = n.Text
			}
			out[name] = strings.Join(parts, ", ")
			continue
		}
		out[name] = b.Node.Text
	}
	return out
}

// FromMatch builds a Finding from one matcher.Match and the rule that
// produced it.
func FromMatch(r *rule.Rule, m matcher.Match) Finding {
	bindings := bindingTexts(m.Env)
	f := Finding{
		RuleID:     r.ID,
		Message:    renderMessage(r.Message, bindings),
		Severity:   r.Severity,
		Confidence: r.Confidence,
		Location:   m.Node.Span,
		Bindings:   bindings,
		Metadata:   r.Metadata,
	}
	applyFix(&f, r, m.Node.Text)
	return f
}

// FromTaintDetection builds a Finding from a confirmed taint flow, the
// sink node's surrounding rule, and the path of statement nodes taint
// passed through.
func FromTaintDetection(r *rule.Rule, sink *uast.Node, path []*uast.Node, bindings map[string]string) Finding {
	f := Finding{
		RuleID:     r.ID,
		Message:    renderMessage(r.Message, bindings),
		Severity:   r.Severity,
		Confidence: r.Confidence,
		Location:   sink.Span,
		Bindings:   bindings,
		Metadata:   r.Metadata,
	}
	for _, n := range path {
		f.TaintPath = append(f.TaintPath, n.Span)
	}
	applyFix(&f, r, sink.Text)
	return f
}

func applyFix(f *Finding, r *rule.Rule, matchedText string) {
	if r.Fix != "" {
		f.Fix = renderMessage(r.Fix, f.Bindings)
		return
	}
	if r.FixRegex == nil {
		return
	}
	re, err := regexp.Compile(r.FixRegex.Regex)
	if err != nil {
		return
	}
	f.Fix = re.ReplaceAllString(matchedText, r.FixRegex.Replacement)
}
