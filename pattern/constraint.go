package pattern

// ConstraintKind tags the variant of a MetavarConstraint (spec §3).
type ConstraintKind string

const (
	ConstraintRegex      ConstraintKind = "regex"
	ConstraintPattern    ConstraintKind = "pattern"
	ConstraintComparison ConstraintKind = "comparison"
	ConstraintAnalysis   ConstraintKind = "analysis"
	ConstraintName       ConstraintKind = "name"
)

// AnalysisKind enumerates the best-effort heuristic predicates for
// metavariable-analysis (spec §3).
type AnalysisKind string

const (
	AnalysisEntropy    AnalysisKind = "entropy"
	AnalysisType       AnalysisKind = "type"
	AnalysisComplexity AnalysisKind = "complexity"
)

// Constraint is a MetavarConstraint value: a closed set of predicates
// evaluated against a bound metavariable after a candidate match succeeds.
type Constraint struct {
	Kind ConstraintKind

	// Metavar is the name the constraint applies to, for every kind.
	Metavar string

	// ConstraintRegex
	Regex string
	Negate bool // true for a "not match" regex constraint

	// ConstraintPattern
	Pattern *Pattern

	// ConstraintComparison
	Expression string
	Base       int  // optional integer-parsing base override; 0 = base 10
	Strip      bool // strip one layer of surrounding quotes before parsing

	// ConstraintAnalysis
	Analysis  AnalysisKind
	Threshold float64 // for entropy>=x, complexity>=k
	TypeNames []string // for type∈{string,number,null,...}

	// ConstraintName
	Module string
}
