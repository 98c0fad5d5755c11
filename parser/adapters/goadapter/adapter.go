// Package goadapter is a reference LanguageParser plug-in for Go, backed
// by github.com/smacker/go-tree-sitter. It demonstrates how a concrete
// grammar is wired into parser.Registry without the core ever depending on
// tree-sitter directly (spec §4.1, §9 "dynamic dispatch over languages").
//
// Grounded on the teacher's own tree-sitter wiring in
// sourcecode-parser/graph/construct.go (sitter.NewParser / SetLanguage /
// ParseCtx / RootNode), adapted here to build a uast.Node tree instead of
// the teacher's CodeGraph.
package goadapter

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/corvidsec/corvid/parser"
	"github.com/corvidsec/corvid/pattern"
	"github.com/corvidsec/corvid/uast"
)

// Adapter implements parser.LanguageParser for Go source.
type Adapter struct{}

// New constructs a fresh Adapter. Each worker should call New once and
// reuse the instance for every file it parses (spec §5).
func New() *Adapter { return &Adapter{} }

var _ parser.LanguageParser = (*Adapter)(nil)

// commutativeKinds and equalityKinds let the Matcher ask semantic
// questions about a kind string without switching on it itself (spec §9).
var commutativeKinds = map[string]bool{
	"&&_expression": true,
	"||_expression": true,
}

var equalityKinds = map[string]bool{
	"==": true,
	"!=": true,
}

func (a *Adapter) Kinds() []string {
	return []string{
		"source_file", "function_declaration", "call_expression", "binary_expression",
		"identifier", "interpreted_string_literal", "if_statement", "for_statement",
		"return_statement", "assignment_statement", "short_var_declaration",
	}
}

func (a *Adapter) IsCommutative(kind string) bool { return commutativeKinds[kind] }
func (a *Adapter) IsEquality(kind string) bool    { return equalityKinds[kind] }

// Parse builds a UAST for a Go source buffer. On a tree-sitter error node
// at the root, the result is still returned with attribute
// partial="true" rather than failing outright (spec §4.1).
func (a *Adapter) Parse(src []byte, filename string) (*uast.Node, error) {
	sp := sitter.NewParser()
	defer sp.Close()
	sp.SetLanguage(golang.GetLanguage())

	tree, err := sp.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, &parser.ParseError{File: filename, Line: 1, Column: 1, Message: err.Error()}
	}
	defer tree.Close()

	root := convert(tree.RootNode(), src, filename, uast.LanguageGo)
	if tree.RootNode().HasError() {
		root.Attrs["partial"] = "true"
	}
	return root, nil
}

// ParsePattern reparses a pattern string in lenient mode: metavariables
// ($X, $...REST) are not valid Go syntax, so they are substituted with
// placeholder identifiers before parsing and the resulting nodes are
// annotated back (attrs "metavariable"/"ellipsis") after the fact. This
// mirrors the general approach of pattern-aware parsing without requiring
// a bespoke grammar per spec's pattern language.
func (a *Adapter) ParsePattern(text string) (*uast.Node, error) {
	masked, restore := maskMetavariables(text)
	node, err := a.Parse([]byte(masked), "<pattern>")
	if err != nil {
		return nil, &parser.ParseError{File: "<pattern>", Line: 1, Column: 1, Message: err.Error()}
	}
	restore(node)
	return node, nil
}

// metavarToken matches a $NAME / $...NAME metavariable token, or a bare
// "..." sequence ellipsis (spec §3 "Ellipsis... a `...` token matching
// zero or more siblings").
var metavarToken = regexp.MustCompile(`\$(\.\.\.)?[A-Za-z_][A-Za-z0-9_]*|\.\.\.`)

// maskMetavariables replaces every metavariable/ellipsis token with a
// synthetic identifier that is valid Go syntax, and returns a function
// that walks a parsed tree and restores the original token plus an
// annotation marking the node as a metavariable or ellipsis binder.
func maskMetavariables(text string) (string, func(*uast.Node)) {
	placeholders := map[string]string{}
	n := 0
	masked := metavarToken.ReplaceAllStringFunc(text, func(tok string) string {
		n++
		ph := fmt.Sprintf("Xmetavar%d", n)
		placeholders[ph] = tok
		return ph
	})
	restore := func(root *uast.Node) {
		uast.Walk(root, func(node *uast.Node) bool {
			if node.HasText {
				if original, ok := placeholders[node.Text]; ok {
					node.Text = original
					switch {
					case pattern.IsEllipsisMetavariable(original):
						node.Attrs["ellipsis"] = "..." + pattern.MetavarName(original)
					case pattern.IsEllipsisToken(original):
						node.Attrs["ellipsis"] = "..."
					case pattern.IsMetavariable(original):
						node.Attrs["metavariable"] = original
					}
				}
			}
			return true
		})
	}
	return masked, restore
}

// convert recursively wraps a tree-sitter node into a uast.Node.
func convert(n *sitter.Node, src []byte, file string, lang uast.Language) *uast.Node {
	node := uast.NewNode(n.Type(), lang)
	start, end := int(n.StartByte()), int(n.EndByte())
	node.WithSpan(uast.Span{
		File:        file,
		StartLine:   int(n.StartPoint().Row) + 1,
		StartColumn: utf8.RuneCount(src[bytes.LastIndexByte(src[:start], '\n')+1:start]) + 1,
		EndLine:     int(n.EndPoint().Row) + 1,
		EndColumn:   utf8.RuneCount(src[bytes.LastIndexByte(src[:end], '\n')+1:end]) + 1,
		ByteStart:   start,
		ByteEnd:     end,
	})
	node.WithText(n.Content(src))
	for i := 0; i < int(n.ChildCount()); i++ {
		node.AddChild(convert(n.Child(i), src, file, lang))
	}
	return node
}
