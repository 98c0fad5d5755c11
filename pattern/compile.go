package pattern

import (
	"fmt"

	"github.com/corvidsec/corvid/uast"
)

// PatternSyntaxError is returned when a Simple pattern fails to reparse
// into a pattern-AST (spec §7). It is fatal at load time for the owning
// rule.
type PatternSyntaxError struct {
	Source string
	Err    error
}

func (e *PatternSyntaxError) Error() string {
	return fmt.Sprintf("pattern syntax error in %q: %v", e.Source, e.Err)
}
func (e *PatternSyntaxError) Unwrap() error { return e.Err }

// PatternParser is the subset of parser.LanguageParser the compiler needs:
// lenient reparsing of a pattern string. Declared locally to avoid an
// import cycle between pattern and parser.
type PatternParser interface {
	ParsePattern(text string) (*uast.Node, error)
}

// Compile lazily compiles p's Simple source into a pattern-AST for lang,
// memoizing the result on p itself so repeated matches against files of
// the same language reparse the pattern only once (spec §3: "compiled
// lazily into a pattern-AST by reparsing with the same LanguageParser").
// Non-Simple patterns recurse into their children/inner pattern.
func Compile(p *Pattern, lang uast.Language, lp PatternParser) error {
	switch p.Kind {
	case KindSimple:
		if _, ok := p.Compiled(lang); ok {
			return nil
		}
		node, err := lp.ParsePattern(p.Source)
		if err != nil {
			return &PatternSyntaxError{Source: p.Source, Err: err}
		}
		p.SetCompiled(lang, node)
		return nil
	case KindEither, KindAll, KindAny:
		for _, child := range p.Children {
			if err := Compile(child, lang, lp); err != nil {
				return err
			}
		}
		return nil
	case KindNot, KindInside, KindNotInside, KindFocus:
		if p.Inner != nil {
			return Compile(p.Inner, lang, lp)
		}
		return nil
	default:
		return nil
	}
}
