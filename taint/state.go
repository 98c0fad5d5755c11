// Package taint implements the forward dataflow Taint Engine (spec §4.4):
// a monotone worklist over a function's ControlFlowGraph that tracks which
// program variables carry taint labels, using the Matcher to recognize a
// rule's source/sink/sanitizer/propagator patterns at each statement.
//
// Grounded on the teacher's intraprocedural analyzer
// (graph/callgraph/analysis/taint/analyzer.go): the same
// tainted-variable-map-plus-confidence-decay shape, generalized from
// string-named call targets to Pattern matches over UAST statements, and
// from a flat variable list to a CFG worklist so branches and loops are
// modeled instead of a single straight-line statement list.
package taint

import "github.com/corvidsec/corvid/uast"

// Label is one taint kind a source can introduce (spec §3's taint
// `labels` map), e.g. "USER_INPUT" or "SQL". Multiple labels let a rule
// distinguish taint flavors in its sink_requires expression.
type Label string

// VarTaint is what Analyzer knows about one tainted program variable.
type VarTaint struct {
	Labels     map[Label]bool
	Confidence float64
	// Path is the chain of statement nodes taint flowed through to reach
	// this variable, oldest first, bounded to a sliding window by the
	// caller (spec §4.4 "path reconstruction/coalescing").
	Path []*uast.Node
}

func (v *VarTaint) clone() *VarTaint {
	labels := make(map[Label]bool, len(v.Labels))
	for l := range v.Labels {
		labels[l] = true
	}
	return &VarTaint{Labels: labels, Confidence: v.Confidence, Path: append([]*uast.Node{}, v.Path...)}
}

// State is the per-program-point taint lattice element: the set of
// currently-tainted variables, keyed by their bound source text (spec
// §4.4 "TaintState/label sets").
type State struct {
	Vars map[string]*VarTaint
}

// NewState returns an empty taint state.
func NewState() *State {
	return &State{Vars: make(map[string]*VarTaint)}
}

// Clone returns a deep copy safe to mutate independently.
func (s *State) Clone() *State {
	out := NewState()
	for k, v := range s.Vars {
		out.Vars[k] = v.clone()
	}
	return out
}

// SetTainted marks name as tainted with labels, confidence and the path
// taken to reach it, replacing any prior taint on that name.
func (s *State) SetTainted(name string, labels map[Label]bool, confidence float64, path []*uast.Node) {
	labelsCopy := make(map[Label]bool, len(labels))
	for l := range labels {
		labelsCopy[l] = true
	}
	s.Vars[name] = &VarTaint{Labels: labelsCopy, Confidence: confidence, Path: path}
}

// Clear removes any taint tracked under name.
func (s *State) Clear(name string) { delete(s.Vars, name) }

// Get returns the taint info for name, if tainted.
func (s *State) Get(name string) (*VarTaint, bool) {
	v, ok := s.Vars[name]
	return v, ok
}

// Join computes the lattice join of two states at a CFG merge point:
// every variable tainted on either incoming path stays tainted, its
// labels union, its confidence the higher of the two (spec §4.4 "forward
// monotone dataflow").
func Join(a, b *State) *State {
	if a == nil {
		return b.Clone()
	}
	if b == nil {
		return a.Clone()
	}
	out := a.Clone()
	for name, bv := range b.Vars {
		av, ok := out.Vars[name]
		if !ok {
			out.Vars[name] = bv.clone()
			continue
		}
		merged := av.clone()
		for l := range bv.Labels {
			merged.Labels[l] = true
		}
		if bv.Confidence > merged.Confidence {
			merged.Confidence = bv.Confidence
		}
		if len(bv.Path) > len(merged.Path) {
			merged.Path = append([]*uast.Node{}, bv.Path...)
		}
		out.Vars[name] = merged
	}
	return out
}

// Equal reports whether two states carry the same tainted names, labels
// and confidence — deliberately ignoring Path, whose length can drift
// between fixed-point iterations without affecting convergence.
func Equal(a, b *State) bool {
	if len(a.Vars) != len(b.Vars) {
		return false
	}
	for name, av := range a.Vars {
		bv, ok := b.Vars[name]
		if !ok || av.Confidence != bv.Confidence || len(av.Labels) != len(bv.Labels) {
			return false
		}
		for l := range av.Labels {
			if !bv.Labels[l] {
				return false
			}
		}
	}
	return true
}
