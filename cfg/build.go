package cfg

import (
	"fmt"
	"strings"

	"github.com/corvidsec/corvid/uast"
)

// role is a coarse, language-agnostic guess at a statement's control-flow
// behavior, inferred from its UAST kind string. The matcher never
// switches exhaustively on kind (spec §4.1, §9); the CFG builder instead
// asks a handful of substring questions, the same tolerance for
// best-effort heuristics spec §3 grants metavariable-analysis's "type"
// predicate.
type role int

const (
	roleNormal role = iota
	roleBranch
	roleLoop
	roleReturn
)

func classify(n *uast.Node) role {
	k := strings.ToLower(n.Kind)
	switch {
	case strings.Contains(k, "if"):
		return roleBranch
	case strings.Contains(k, "for") || strings.Contains(k, "while"):
		return roleLoop
	case strings.Contains(k, "return"):
		return roleReturn
	default:
		return roleNormal
	}
}

var punctuationKinds = map[string]bool{
	"{": true, "}": true, "(": true, ")": true, ";": true, ",": true, ":": true,
}

func looksLikeBlock(n *uast.Node) bool {
	return strings.Contains(strings.ToLower(n.Kind), "block") || strings.Contains(strings.ToLower(n.Kind), "body") ||
		strings.Contains(strings.ToLower(n.Kind), "suite")
}

func isKeywordToken(n *uast.Node) bool {
	switch n.Kind {
	case "if", "for", "while", "else", "do", "switch", "func", "def", "return":
		return true
	default:
		return punctuationKinds[n.Kind]
	}
}

// directStatements returns a block node's immediate statement children,
// filtering out brace/keyword tokens the grammar emits alongside them.
func directStatements(block *uast.Node) []*uast.Node {
	var out []*uast.Node
	for _, c := range block.Children {
		if punctuationKinds[c.Kind] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// extractCondition picks the first child of a branch/loop statement that
// is neither a nested block nor a bare keyword/punctuation token — in
// every mainstream grammar's child order, that is the test expression.
func extractCondition(n *uast.Node) *uast.Node {
	for _, c := range n.Children {
		if looksLikeBlock(c) || isKeywordToken(c) {
			continue
		}
		return c
	}
	return nil
}

// extractBlocks returns a branch/loop statement's nested block children
// in source order: for an if-statement, [then] or [then, else].
func extractBlocks(n *uast.Node) []*uast.Node {
	var out []*uast.Node
	for _, c := range n.Children {
		if looksLikeBlock(c) {
			out = append(out, c)
		}
	}
	return out
}

func findFunctionBody(fn *uast.Node) *uast.Node {
	for _, c := range fn.Children {
		if looksLikeBlock(c) {
			return c
		}
	}
	return nil
}

// BuildFunctionCFG constructs a ControlFlowGraph for a single UAST
// function node, generically across languages (spec §4.4 "CFG
// construction over UAST"). It returns an error if no body block can be
// located under fn.
func BuildFunctionCFG(fn *uast.Node, name string) (*ControlFlowGraph, error) {
	body := findFunctionBody(fn)
	if body == nil {
		return nil, fmt.Errorf("cfg: function %q has no body block", name)
	}
	c := newControlFlowGraph(name)
	counter := 0
	last := buildSequence(c, directStatements(body), c.EntryBlockID, &counter)
	linkToIfReachable(c, last, c.ExitBlockID)
	return c, nil
}

// BuildScriptCFG constructs a ControlFlowGraph directly from a program's
// top-level statements, for the "or top-level script" half of spec §4.4's
// CFG construction rule: a file with no enclosing function still needs a
// CFG so the Taint Engine can analyze statements at module scope.
func BuildScriptCFG(root *uast.Node, name string) *ControlFlowGraph {
	c := newControlFlowGraph(name)
	counter := 0
	last := buildSequence(c, directStatements(root), c.EntryBlockID, &counter)
	linkToIfReachable(c, last, c.ExitBlockID)
	return c
}

func nextBlockID(name string, counter *int) string {
	*counter++
	return fmt.Sprintf("%s:b%d", name, *counter)
}

// linkToIfReachable adds a control-flow edge unless fromID is the
// function's own exit block — a branch that always returns has no
// fallthrough edge to contribute.
func linkToIfReachable(c *ControlFlowGraph, fromID, toID string) {
	if fromID == c.ExitBlockID {
		return
	}
	c.AddEdge(fromID, toID)
}

// buildSequence lowers a list of sibling statements into basic blocks
// chained from predID, returning the ID of the block execution reaches
// after the last statement (or ExitBlockID if the sequence always
// returns).
func buildSequence(c *ControlFlowGraph, stmts []*uast.Node, predID string, counter *int) string {
	cur := &BasicBlock{ID: nextBlockID(c.FunctionName, counter), Type: BlockTypeNormal}
	c.AddBlock(cur)
	c.AddEdge(predID, cur.ID)
	curID := cur.ID

	for _, stmt := range stmts {
		switch classify(stmt) {
		case roleReturn:
			cur.Statements = append(cur.Statements, stmt)
			c.AddEdge(cur.ID, c.ExitBlockID)
			return c.ExitBlockID

		case roleBranch:
			cond := extractCondition(stmt)
			condBlock := &BasicBlock{ID: nextBlockID(c.FunctionName, counter), Type: BlockTypeConditional, Condition: cond}
			c.AddBlock(condBlock)
			c.AddEdge(curID, condBlock.ID)

			blocks := extractBlocks(stmt)
			thenID := condBlock.ID
			if len(blocks) >= 1 {
				thenID = buildSequence(c, directStatements(blocks[0]), condBlock.ID, counter)
			}
			elseID := condBlock.ID
			if len(blocks) >= 2 {
				elseID = buildSequence(c, directStatements(blocks[1]), condBlock.ID, counter)
			}

			merge := &BasicBlock{ID: nextBlockID(c.FunctionName, counter), Type: BlockTypeNormal}
			c.AddBlock(merge)
			linkToIfReachable(c, thenID, merge.ID)
			linkToIfReachable(c, elseID, merge.ID)

			cur = merge
			curID = merge.ID

		case roleLoop:
			cond := extractCondition(stmt)
			header := &BasicBlock{ID: nextBlockID(c.FunctionName, counter), Type: BlockTypeLoop, Condition: cond}
			c.AddBlock(header)
			c.AddEdge(curID, header.ID)

			blocks := extractBlocks(stmt)
			bodyExitID := header.ID
			if len(blocks) >= 1 {
				bodyExitID = buildSequence(c, directStatements(blocks[0]), header.ID, counter)
			}
			if bodyExitID != c.ExitBlockID {
				c.AddBackEdge(bodyExitID, header.ID)
			}

			after := &BasicBlock{ID: nextBlockID(c.FunctionName, counter), Type: BlockTypeNormal}
			c.AddBlock(after)
			c.AddEdge(header.ID, after.ID)

			cur = after
			curID = after.ID

		default:
			cur.Statements = append(cur.Statements, stmt)
		}
	}

	return curID
}
