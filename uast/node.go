// Package uast defines the Universal AST: a language-neutral tree of typed
// nodes that is the common substrate the Matcher and Taint Engine operate
// over, regardless of which LanguageParser produced it.
//
// A UAST is built once per source buffer, held by value, traversed many
// times during matching, and discarded when file analysis completes (spec
// §3, "Lifecycle"). It is strictly a tree: node identity is a stable,
// process-unique ID assigned at construction time, and any non-tree
// cross-reference (use→def chains, CFG back-edges) is kept in a side table
// keyed by that ID rather than as an in-node pointer (spec §9).
package uast

import "github.com/google/uuid"

// Span is a source location: a half-open region of one file, expressed in
// 1-based lines/columns and a byte offset range. Columns are Unicode
// scalar offsets within a line, not UTF-16 code units (spec §3).
type Span struct {
	File        string
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
	ByteStart   int
	ByteEnd     int
}

// Contains reports whether s fully contains other. Used to check UAST
// invariant (i): a child's span is contained within its parent's.
func (s Span) Contains(other Span) bool {
	if s.File != other.File {
		return false
	}
	if other.ByteStart < s.ByteStart || other.ByteEnd > s.ByteEnd {
		return false
	}
	return true
}

// IsZero reports whether this span is the absent/synthetic-node span.
func (s Span) IsZero() bool {
	return s == Span{}
}

// Node is a single element of the Universal AST.
//
// kind is deliberately an open string tag: the matcher never switches
// exhaustively on it (spec §4.1, §9), and adapters are free to introduce
// new kinds without changing this package.
type Node struct {
	// ID is a process-unique identity assigned at construction, stable for
	// the node's lifetime. It is the key used by side tables (def-use
	// chains, CFG node maps) instead of pointer identity, so those tables
	// can be serialized or compared independently of node allocation.
	ID string

	Kind     string
	Text     string
	HasText  bool
	Children []*Node
	Attrs    map[string]string
	Span     Span
	HasSpan  bool
	Language Language

	// Parent is set by AddChild; it exists only to let Inside/NotInside
	// patterns climb the ancestor chain.
	Parent *Node
}

// NewNode constructs a Node with a fresh stable ID and initialized Attrs.
func NewNode(kind string, lang Language) *Node {
	return &Node{
		ID:       uuid.NewString(),
		Kind:     kind,
		Attrs:    make(map[string]string),
		Language: lang,
	}
}

// WithText sets the node's source text.
func (n *Node) WithText(text string) *Node {
	n.Text = text
	n.HasText = true
	return n
}

// WithSpan sets the node's source span.
func (n *Node) WithSpan(span Span) *Node {
	n.Span = span
	n.HasSpan = true
	return n
}

// AddChild appends a child node and links its Parent back to n.
func (n *Node) AddChild(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// Attr returns the named attribute and whether it was present.
func (n *Node) Attr(key string) (string, bool) {
	v, ok := n.Attrs[key]
	return v, ok
}

// IsPartial reports whether this node's subtree came from a best-effort
// parse recovery (spec §4.1: the root of a partial parse carries
// attribute "partial"="true").
func (n *Node) IsPartial() bool {
	v, _ := n.Attr("partial")
	return v == "true"
}

// Ancestors returns the chain of ancestors starting with the immediate
// parent and ending at the root, not including n itself.
func (n *Node) Ancestors() []*Node {
	var out []*Node
	for p := n.Parent; p != nil; p = p.Parent {
		out = append(out, p)
	}
	return out
}

// VisitFunc is called once per node during a Walk, in depth-first
// pre-order. Returning false prunes that node's children.
type VisitFunc func(n *Node) bool

// Walk performs a depth-first pre-order traversal of the tree rooted at n,
// calling fn on every node. This is the traversal order spec §4.3
// mandates for the Matcher: "depth-first pre-order over the UAST; each
// node is considered independently as a candidate root for the pattern."
func Walk(root *Node, fn VisitFunc) {
	if root == nil {
		return
	}
	if !fn(root) {
		return
	}
	for _, child := range root.Children {
		Walk(child, fn)
	}
}

// All returns every node in the subtree rooted at root, in depth-first
// pre-order, root first.
func All(root *Node) []*Node {
	var out []*Node
	Walk(root, func(n *Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

// LeafText concatenates the Text of every leaf (childless) node under n,
// in order. Used to check UAST invariant (ii): ordered leaf-text
// concatenation is a prefix-contiguous substring of Text when Text is
// present.
func LeafText(n *Node) string {
	var out []byte
	Walk(n, func(node *Node) bool {
		if len(node.Children) == 0 && node.HasText {
			out = append(out, node.Text...)
		}
		return true
	})
	return string(out)
}
