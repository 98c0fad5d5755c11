package rule

import "fmt"

// SyntaxError is a RuleSyntaxError (spec §7): the YAML document itself is
// structurally malformed. Fatal for the whole document.
type SyntaxError struct {
	Line   int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("rule syntax error at line %d: %s", e.Line, e.Reason)
}

// SemanticError is a RuleSemanticError (spec §7): the document parses but
// is internally contradictory (e.g. taint mode missing sinks, a
// focus-metavariable absent from the pattern). Fatal only for the rule it
// names.
type SemanticError struct {
	RuleID string
	Reason string
}

func (e *SemanticError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("rule semantic error: %s", e.Reason)
	}
	return fmt.Sprintf("rule semantic error in %q: %s", e.RuleID, e.Reason)
}
