// Package cfg builds and queries a Control Flow Graph over a UAST function
// body (spec §4.4, "CFG construction over UAST"). It generalizes the
// teacher's CallGraph-keyed CFG to operate on any language's UAST function
// node rather than a language-specific call-site model.
package cfg

import "github.com/corvidsec/corvid/uast"

// BlockType categorizes a BasicBlock for the Taint Engine's worklist
// (spec §4.4).
type BlockType string

const (
	BlockTypeEntry       BlockType = "entry"
	BlockTypeExit        BlockType = "exit"
	BlockTypeNormal      BlockType = "normal"
	BlockTypeConditional BlockType = "conditional"
	BlockTypeLoop        BlockType = "loop"
)

// BasicBlock is a maximal straight-line run of statements: single entry,
// single exit, no internal branches.
type BasicBlock struct {
	ID   string
	Type BlockType

	// Statements are the UAST statement nodes this block covers, in
	// source order.
	Statements []*uast.Node

	Successors   []string
	Predecessors []string

	// Condition is the branch/loop test expression, set only for
	// BlockTypeConditional and BlockTypeLoop blocks.
	Condition *uast.Node

	// Dominators is the set of block IDs that dominate this block: every
	// execution path from entry to this block passes through each of
	// them. Populated by ComputeDominators.
	Dominators []string
}

// ControlFlowGraph models every execution path through one function.
type ControlFlowGraph struct {
	FunctionName string
	Blocks       map[string]*BasicBlock
	EntryBlockID string
	ExitBlockID  string

	// BackEdges lists (from, to) pairs where to is a loop header
	// dominating from — the edges that close a loop, kept separate from
	// Successors/Predecessors so the Taint Engine's worklist can detect
	// fixed-point convergence around them (spec §4.4).
	BackEdges [][2]string
}

func newControlFlowGraph(functionName string) *ControlFlowGraph {
	c := &ControlFlowGraph{FunctionName: functionName, Blocks: make(map[string]*BasicBlock)}
	entry := &BasicBlock{ID: functionName + ":entry", Type: BlockTypeEntry}
	exit := &BasicBlock{ID: functionName + ":exit", Type: BlockTypeExit}
	c.Blocks[entry.ID] = entry
	c.Blocks[exit.ID] = exit
	c.EntryBlockID = entry.ID
	c.ExitBlockID = exit.ID
	return c
}

// AddBlock registers a block in the graph.
func (c *ControlFlowGraph) AddBlock(b *BasicBlock) { c.Blocks[b.ID] = b }

// AddEdge records a control-flow edge, updating both endpoints.
func (c *ControlFlowGraph) AddEdge(from, to string) {
	fromBlock, ok1 := c.Blocks[from]
	toBlock, ok2 := c.Blocks[to]
	if !ok1 || !ok2 {
		return
	}
	if !containsString(fromBlock.Successors, to) {
		fromBlock.Successors = append(fromBlock.Successors, to)
	}
	if !containsString(toBlock.Predecessors, from) {
		toBlock.Predecessors = append(toBlock.Predecessors, from)
	}
}

// AddBackEdge records a loop-closing edge in addition to the normal
// successor/predecessor edge.
func (c *ControlFlowGraph) AddBackEdge(from, to string) {
	c.AddEdge(from, to)
	c.BackEdges = append(c.BackEdges, [2]string{from, to})
}

// GetBlock looks up a block by ID.
func (c *ControlFlowGraph) GetBlock(id string) (*BasicBlock, bool) {
	b, ok := c.Blocks[id]
	return b, ok
}

// Successors returns the successor blocks of id.
func (c *ControlFlowGraph) Successors(id string) []*BasicBlock {
	b, ok := c.Blocks[id]
	if !ok {
		return nil
	}
	out := make([]*BasicBlock, 0, len(b.Successors))
	for _, s := range b.Successors {
		if sb, ok := c.Blocks[s]; ok {
			out = append(out, sb)
		}
	}
	return out
}

// Predecessors returns the predecessor blocks of id.
func (c *ControlFlowGraph) Predecessors(id string) []*BasicBlock {
	b, ok := c.Blocks[id]
	if !ok {
		return nil
	}
	out := make([]*BasicBlock, 0, len(b.Predecessors))
	for _, p := range b.Predecessors {
		if pb, ok := c.Blocks[p]; ok {
			out = append(out, pb)
		}
	}
	return out
}

// ReversePostOrder returns block IDs in reverse postorder from entry, the
// traversal order the Taint Engine's worklist uses so that a block's
// predecessors are generally processed before it (spec §4.4).
func (c *ControlFlowGraph) ReversePostOrder() []string {
	var postOrder []string
	visited := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		block, ok := c.Blocks[id]
		if !ok {
			return
		}
		for _, succ := range block.Successors {
			visit(succ)
		}
		postOrder = append(postOrder, id)
	}
	visit(c.EntryBlockID)
	out := make([]string, len(postOrder))
	for i, id := range postOrder {
		out[len(postOrder)-1-i] = id
	}
	return out
}

// ComputeDominators runs the classic iterative dominator fixed-point
// (spec §4.4 notes dominance as the basis for "always sanitized before
// use" reasoning): Dom(entry)={entry}; Dom(b)={b} ∪ ⋂ Dom(pred) for every
// other predecessor.
func (c *ControlFlowGraph) ComputeDominators() {
	allIDs := make([]string, 0, len(c.Blocks))
	for id := range c.Blocks {
		allIDs = append(allIDs, id)
	}

	c.Blocks[c.EntryBlockID].Dominators = []string{c.EntryBlockID}
	for id, b := range c.Blocks {
		if id != c.EntryBlockID {
			b.Dominators = append([]string{}, allIDs...)
		}
	}

	changed := true
	for changed {
		changed = false
		for id, block := range c.Blocks {
			if id == c.EntryBlockID {
				continue
			}
			var newDoms []string
			if len(block.Predecessors) > 0 {
				newDoms = append([]string{}, c.Blocks[block.Predecessors[0]].Dominators...)
				for _, predID := range block.Predecessors[1:] {
					newDoms = intersect(newDoms, c.Blocks[predID].Dominators)
				}
			}
			if !containsString(newDoms, id) {
				newDoms = append(newDoms, id)
			}
			if !slicesEqual(block.Dominators, newDoms) {
				block.Dominators = newDoms
				changed = true
			}
		}
	}
}

// Dominates reports whether dominator dominates dominated.
func (c *ControlFlowGraph) Dominates(dominator, dominated string) bool {
	block, ok := c.Blocks[dominated]
	if !ok {
		return false
	}
	return containsString(block.Dominators, dominator)
}

func intersect(a, b []string) []string {
	var out []string
	for _, item := range a {
		if containsString(b, item) {
			out = append(out, item)
		}
	}
	return out
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsString(s []string, v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}
