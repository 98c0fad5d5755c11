package taint

import (
	"strings"

	"github.com/corvidsec/corvid/cfg"
	"github.com/corvidsec/corvid/matcher"
	"github.com/corvidsec/corvid/rule"
	"github.com/corvidsec/corvid/uast"
)

// propagationDecay is the confidence multiplier applied each time taint
// flows through a propagator rather than directly from its source,
// carried over from the teacher's call-propagation decay (0.7 in
// graph/callgraph/analysis/taint/analyzer.go's propagateCall).
const propagationDecay = 0.7

// Limits bounds the resources one Analyze call may spend (spec §4.4
// "limits").
type Limits struct {
	MaxPathLength int // 0 means unbounded
	MaxContexts   int // 0 means unbounded; caps total Detections returned
}

// Detection is one confirmed source-to-sink taint flow.
type Detection struct {
	Sink       *uast.Node
	Labels     []Label
	Confidence float64
	// Path is the chain of statement nodes taint passed through, oldest
	// first, ending at the sink statement.
	Path []*uast.Node
	// Bindings are the sink pattern's metavariable bindings at the match
	// that produced this detection, flattened to plain text the same way
	// finding.FromMatch flattens a search match's Environment. Carried so
	// the Finding Aggregator can substitute $NAME references in a taint
	// rule's message without re-running the Matcher.
	Bindings map[string]string
}

// Result is everything one function's taint analysis produced.
type Result struct {
	Detections     []Detection
	PathsTruncated bool
}

// Analyzer runs a single taint-mode rule's TaintSpec against a function's
// ControlFlowGraph. Grounded on the teacher's AnalyzeIntraProceduralTaint,
// generalized from a flat statement list and hardcoded stdlib source/sink
// tables to a CFG worklist and Matcher-driven pattern recognition.
type Analyzer struct {
	Matcher *matcher.Matcher
	Lang    uast.Language
	Spec    *rule.TaintSpec
	Limits  Limits
	Options rule.Options
}

// Analyze runs the forward monotone worklist over graph's blocks in
// reverse postorder until the in/out states stabilize, then performs one
// final pass to collect detections from the converged states (spec §4.4).
func (a *Analyzer) Analyze(graph *cfg.ControlFlowGraph) (*Result, error) {
	order := graph.ReversePostOrder()
	inStates := make(map[string]*State, len(order))
	outStates := make(map[string]*State, len(order))
	for _, id := range order {
		inStates[id] = NewState()
		outStates[id] = NewState()
	}

	const maxIterations = 50
	for iter, changed := 0, true; changed && iter < maxIterations; iter++ {
		changed = false
		for _, id := range order {
			block := graph.Blocks[id]
			merged := mergePredecessors(block, outStates)
			if !Equal(merged, inStates[id]) {
				inStates[id] = merged
				changed = true
			}

			out := inStates[id].Clone()
			if _, err := a.transferBlock(out, block, nil, nil); err != nil {
				return nil, err
			}
			if !Equal(out, outStates[id]) {
				outStates[id] = out
				changed = true
			}
		}
	}

	result := &Result{}
	for _, id := range order {
		block := graph.Blocks[id]
		out := inStates[id].Clone()
		dets, err := a.transferBlock(out, block, result, &result.PathsTruncated)
		if err != nil {
			return nil, err
		}
		result.Detections = append(result.Detections, dets...)
	}

	if a.Limits.MaxContexts > 0 && len(result.Detections) > a.Limits.MaxContexts {
		result.Detections = result.Detections[:a.Limits.MaxContexts]
		result.PathsTruncated = true
	}
	return result, nil
}

func mergePredecessors(block *cfg.BasicBlock, outStates map[string]*State) *State {
	var merged *State
	for _, predID := range block.Predecessors {
		merged = Join(merged, outStates[predID])
	}
	if merged == nil {
		merged = NewState()
	}
	return merged
}

// transferBlock mutates state in place to its out-state for block and
// returns any sink detections found along the way; the caller appends them
// to result. result is nil during the fixed-point phase, when detections
// aren't collected and nil is returned.
func (a *Analyzer) transferBlock(state *State, block *cfg.BasicBlock, result *Result, truncated *bool) ([]Detection, error) {
	var detections []Detection
	for _, stmt := range block.Statements {
		dets, err := a.transferStatement(state, stmt, truncated)
		if err != nil {
			return nil, err
		}
		if result != nil {
			detections = append(detections, dets...)
		}
	}
	return detections, nil
}

// transferStatement applies one statement's sanitizer, source, assignment,
// propagator and sink effects to state in that order: a statement's own
// sanitizer spans are computed before applyAssignments runs so a
// self-laundering assignment like "y := escape(x)" is pruned on the same
// pass that would otherwise taint "y", and a whole-node-tainted source
// value (no bound metavariable) reaches its assigned variable before
// propagators and sinks see it.
func (a *Analyzer) transferStatement(state *State, stmt *uast.Node, truncated *bool) ([]Detection, error) {
	sanitized, err := a.applySanitizers(stmt)
	if err != nil {
		return nil, err
	}
	if err := a.applySources(state, stmt); err != nil {
		return nil, err
	}
	a.applyAssignments(state, stmt, sanitized, truncated)
	if err := a.applyPropagators(state, stmt, truncated); err != nil {
		return nil, err
	}
	return a.applySinks(state, stmt, truncated)
}

// applySanitizers reports the spans a sanitizer pattern matched in stmt.
// Sanitization is expression-local (spec §4.4 step 4): it launders the
// *value a sanitizer call produces*, not every variable referenced inside
// it, so "y := sanitize(x)" must stop "y" from becoming tainted without
// also erasing "x"'s own, independently tracked taint (a bare
// metavariable bound inside the sanitizer's argument list, like $T in
// "sanitize($T)", still denotes the pre-existing variable "x" elsewhere in
// the function). applyAssignments consumes the returned spans to prune
// exactly the sanitized sub-expression out of its rhs scan.
func (a *Analyzer) applySanitizers(stmt *uast.Node) ([]uast.Span, error) {
	var spans []uast.Span
	for _, san := range a.Spec.Sanitizers {
		matches, err := a.Matcher.Match(san, a.Lang, stmt, a.Options)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if m.Node.HasSpan {
				spans = append(spans, m.Node.Span)
			}
		}
	}
	return spans, nil
}

// applySources taints the variable a source pattern binds to, or, when
// the pattern carries no metavariable at all (e.g. `sources: [source()]`),
// the whole matched node itself (spec §4.4 step 2: "the bound output
// (either the whole node or a specified metavariable) becomes tainted").
// Whole-node taint then reaches a variable through applyAssignments.
func (a *Analyzer) applySources(state *State, stmt *uast.Node) error {
	for _, src := range a.Spec.Sources {
		matches, err := a.Matcher.Match(src, a.Lang, stmt, a.Options)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if len(m.Env) == 0 {
				state.SetTainted(m.Node.Text, a.defaultLabels(), 1.0, []*uast.Node{stmt})
				continue
			}
			for _, b := range m.Env {
				state.SetTainted(bindingKey(b), a.defaultLabels(), 1.0, []*uast.Node{stmt})
			}
		}
	}
	return nil
}

// assignmentOperators are the direct-child tokens that mark a statement
// as assignment-shaped, across the grammars the reference adapters cover
// (Go's "=" and ":=", Python's "=", and the common compound-assignment
// operators).
var assignmentOperators = map[string]bool{
	"=": true, ":=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
}

// assignmentParts splits stmt into its left/right-hand sides if it is
// assignment-shaped: a direct child recognized as an assignment operator
// token, with exactly one sibling on each side. Grammars vary in
// statement kind name (assignment_statement, short_var_declaration,
// assignment, ...), so this recognizes the shape structurally instead of
// switching on Kind (spec §4.1, §9: the matcher never switches
// exhaustively on kind).
func assignmentParts(stmt *uast.Node) (lhs, rhs *uast.Node, ok bool) {
	for i, c := range stmt.Children {
		if !assignmentOperators[c.Kind] {
			continue
		}
		if i == 0 || i+1 >= len(stmt.Children) {
			return nil, nil, false
		}
		return stmt.Children[i-1], stmt.Children[i+1], true
	}
	return nil, nil, false
}

// applyAssignments implements spec §4.4 step 5: "at an assignment lhs =
// rhs, the lhs variable's label set becomes the join of the rhs
// expression's labels". The rhs subtree is scanned for any node whose
// text is already a tainted key (a prior source or propagator result);
// their labels, confidence and path union onto the lhs variable. Any rhs
// node contained in a span applySanitizers reported for this same
// statement is skipped: that sub-expression's own taint was just
// laundered, so it must not re-taint lhs through a nested reference.
func (a *Analyzer) applyAssignments(state *State, stmt *uast.Node, sanitized []uast.Span, truncated *bool) {
	lhs, rhs, ok := assignmentParts(stmt)
	if !ok {
		return
	}
	var labels map[Label]bool
	var confidence float64
	var path []*uast.Node
	uast.Walk(rhs, func(n *uast.Node) bool {
		if n.HasSpan {
			for _, s := range sanitized {
				if s.Contains(n.Span) {
					return false
				}
			}
		}
		if !n.HasText {
			return true
		}
		vt, tainted := state.Get(n.Text)
		if !tainted {
			return true
		}
		if labels == nil {
			labels = make(map[Label]bool)
		}
		for l := range vt.Labels {
			labels[l] = true
		}
		if vt.Confidence > confidence {
			confidence = vt.Confidence
		}
		if len(vt.Path) > len(path) {
			path = vt.Path
		}
		return true
	})
	if labels == nil {
		return
	}
	state.SetTainted(lhs.Text, labels, confidence, appendPath(path, stmt, a.Limits.MaxPathLength, truncated))
}

func (a *Analyzer) applyPropagators(state *State, stmt *uast.Node, truncated *bool) error {
	for _, prop := range a.Spec.Propagators {
		matches, err := a.Matcher.Match(prop.Pattern, a.Lang, stmt, a.Options)
		if err != nil {
			return err
		}
		for _, m := range matches {
			fromB, ok := m.Env[trimDollarName(prop.From)]
			if !ok {
				continue
			}
			toB, ok := m.Env[trimDollarName(prop.To)]
			if !ok {
				continue
			}
			vt, ok := state.Get(bindingKey(fromB))
			if !ok {
				continue
			}
			path := appendPath(vt.Path, stmt, a.Limits.MaxPathLength, truncated)
			state.SetTainted(bindingKey(toB), vt.Labels, vt.Confidence*propagationDecay, path)
		}
	}
	return nil
}

func (a *Analyzer) applySinks(state *State, stmt *uast.Node, truncated *bool) ([]Detection, error) {
	var out []Detection
	for _, sink := range a.Spec.Sinks {
		matches, err := a.Matcher.Match(sink, a.Lang, stmt, a.Options)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			hitLabels := make(map[Label]bool)
			var path []*uast.Node
			confidence := 0.0
			for _, b := range m.Env {
				vt, ok := state.Get(bindingKey(b))
				if !ok {
					continue
				}
				for l := range vt.Labels {
					hitLabels[l] = true
				}
				if vt.Confidence > confidence {
					confidence = vt.Confidence
				}
				if len(vt.Path) > len(path) {
					path = vt.Path
				}
			}
			if len(hitLabels) == 0 {
				continue
			}
			satisfied, err := evalSinkRequires(a.Spec.SinkRequires, hitLabels)
			if err != nil {
				return nil, err
			}
			if !satisfied {
				continue
			}
			labels := make([]Label, 0, len(hitLabels))
			for l := range hitLabels {
				labels = append(labels, l)
			}
			fullPath := appendPath(path, stmt, a.Limits.MaxPathLength, truncated)
			out = append(out, Detection{
				Sink:       m.Node,
				Labels:     labels,
				Confidence: confidence,
				Path:       fullPath,
				Bindings:   flattenEnv(m.Env),
			})
		}
	}
	return out, nil
}

// defaultLabels returns the label set a matched source introduces: every
// label name declared in the rule's taint.labels map, or a single
// placeholder label when none were declared.
func (a *Analyzer) defaultLabels() map[Label]bool {
	labels := make(map[Label]bool, len(a.Spec.Labels))
	for name := range a.Spec.Labels {
		labels[Label(name)] = true
	}
	if len(labels) == 0 {
		labels["TAINT"] = true
	}
	return labels
}

// bindingKey is the variable identity taint state is keyed on: the
// matched node's source text. This mirrors the teacher's own
// string-keyed variableTaintInfo map rather than resolving symbols,
// matching spec §3's explicit stance that name-based matching is
// best-effort, not full resolution.
func bindingKey(b matcher.Binding) string {
	if b.IsSeq {
		parts := make([]string, len(b.Sequence))
		for i, n := range b.Sequence {
			parts[i] = n.Text
		}
		return strings.Join(parts, ", ")
	}
	return b.Node.Text
}

// flattenEnv renders every binding in env to plain text, joining ellipsis
// sequences the same way finding.FromMatch's bindingTexts does, so a
// taint rule's message/fix templates see one coherent string per
// metavariable regardless of which package produced the Finding.
func flattenEnv(env matcher.Environment) map[string]string {
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

func trimDollarName(name string) string {
	return strings.TrimPrefix(name, "$")
}

// appendPath extends path with stmt, sliding the window to at most max
// entries (0 means unbounded), flagging truncated when the window drops
// earlier hops (spec §4.4 "paths_truncated").
func appendPath(path []*uast.Node, stmt *uast.Node, max int, truncated *bool) []*uast.Node {
	out := append(append([]*uast.Node{}, path...), stmt)
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
		if truncated != nil {
			*truncated = true
		}
	}
	return out
}
