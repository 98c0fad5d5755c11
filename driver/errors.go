package driver

import "fmt"

// TimeoutError records that a file's analysis was cancelled by its
// per-file wall-clock deadline (spec §5, §7). Per §7, the file is
// skipped and a warning-severity Finding is recorded instead of a hard
// failure.
type TimeoutError struct {
	File    string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: analysis timed out after %s", e.File, e.Timeout)
}

// InternalError wraps an unexpected inconsistency (spec §7: "Internal —
// unexpected inconsistency... logged, file skipped"), such as a UAST
// invariant violation surfacing as a panic recovered by the worker.
type InternalError struct {
	File string
	Err  error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: internal error: %v", e.File, e.Err)
}
func (e *InternalError) Unwrap() error { return e.Err }

// ruleDisabledError marks a rule that failed to compile for a language
// and was disabled for the remainder of the run (spec §7: "rule-level
// errors are reported once and the rule is disabled for the run").
type ruleDisabledError struct {
	RuleID string
	Err    error
}

func (e *ruleDisabledError) Error() string {
	return fmt.Sprintf("rule %q disabled for this run: %v", e.RuleID, e.Err)
}
func (e *ruleDisabledError) Unwrap() error { return e.Err }
