package finding

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/corvidsec/corvid/rule"
)

// Aggregator is the atomic finding sink shared across the Rule Execution
// Driver's file workers (spec §4.6/§5: "no shared mutable state across
// workers except... an atomic finding sink"). Grounded on the teacher's
// output filters (output/filter.go) for the shape of a collect-then-sort
// pipeline, generalized here to also own deduplication.
type Aggregator struct {
	mu       sync.Mutex
	seen     map[string]bool
	findings []Finding
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{seen: make(map[string]bool)}
}

// Add records f if filePath survives filter's glob rules and f is not a
// duplicate of an already-recorded Finding. Returns whether it was kept.
func (a *Aggregator) Add(f Finding, filePath string, filter rule.PathFilter) bool {
	if !PathAllowed(filter, filePath) {
		return false
	}
	key := dedupKey(f)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen[key] {
		return false
	}
	a.seen[key] = true
	a.findings = append(a.findings, f)
	return true
}

// dedupKey is the Aggregator's identity for one Finding: (rule_id,
// primary_span, bindings-canonical-form), per spec §4.5. Binding names
// are sorted so the key is independent of map iteration order.
func dedupKey(f Finding) string {
	var sb strings.Builder
	sb.WriteString(f.RuleID)
	fmt.Fprintf(&sb, "|%s:%d:%d:%d:%d|", f.Location.File, f.Location.StartLine, f.Location.StartColumn,
		f.Location.EndLine, f.Location.EndColumn)

	names := make([]string, 0, len(f.Bindings))
	for name := range f.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "%s=%s;", name, f.Bindings[name])
	}
	return sb.String()
}

// Findings returns every kept Finding in the ascending (file, start_line,
// start_column, rule_id) order spec §4.5 requires.
func (a *Aggregator) Findings() []Finding {
	a.mu.Lock()
	out := make([]Finding, len(a.findings))
	copy(out, a.findings)
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].Location, out[j].Location
		if li.File != lj.File {
			return li.File < lj.File
		}
		if li.StartLine != lj.StartLine {
			return li.StartLine < lj.StartLine
		}
		if li.StartColumn != lj.StartColumn {
			return li.StartColumn < lj.StartColumn
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}
