// Package pyadapter is a reference LanguageParser plug-in for Python,
// backed by github.com/smacker/go-tree-sitter. Grounded on the same
// tree-sitter wiring pattern as parser/adapters/goadapter, adjusted for
// Python's grammar and for the kind of language-specific attribute
// enrichment spec §3 calls out (e.g. marking f-strings).
package pyadapter

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/corvidsec/corvid/parser"
	"github.com/corvidsec/corvid/pattern"
	"github.com/corvidsec/corvid/uast"
)

// Adapter implements parser.LanguageParser for Python source.
type Adapter struct{}

// New constructs a fresh Adapter.
func New() *Adapter { return &Adapter{} }

var _ parser.LanguageParser = (*Adapter)(nil)

var commutativeKinds = map[string]bool{
	"boolean_operator": true,
}

var equalityKinds = map[string]bool{
	"==": true,
	"!=": true,
}

func (a *Adapter) Kinds() []string {
	return []string{
		"module", "function_definition", "call", "binary_operator", "identifier",
		"string", "if_statement", "for_statement", "while_statement", "return_statement",
		"assignment",
	}
}

func (a *Adapter) IsCommutative(kind string) bool { return commutativeKinds[kind] }
func (a *Adapter) IsEquality(kind string) bool    { return equalityKinds[kind] }

func (a *Adapter) Parse(src []byte, filename string) (*uast.Node, error) {
	sp := sitter.NewParser()
	defer sp.Close()
	sp.SetLanguage(python.GetLanguage())

	tree, err := sp.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, &parser.ParseError{File: filename, Line: 1, Column: 1, Message: err.Error()}
	}
	defer tree.Close()

	root := convert(tree.RootNode(), src, filename)
	if tree.RootNode().HasError() {
		root.Attrs["partial"] = "true"
	}
	return root, nil
}

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

func convert(n *sitter.Node, src []byte, file string) *uast.Node {
	node := uast.NewNode(n.Type(), uast.LanguagePython)
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
	if n.Type() == "string" && strings.HasPrefix(strings.ToLower(n.Content(src)), "f") {
		node.Attrs["python.is_fstring"] = "true"
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		node.AddChild(convert(n.Child(i), src, file))
	}
	return node
}
