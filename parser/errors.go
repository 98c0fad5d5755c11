package parser

import "fmt"

// UnsupportedLanguageError is returned when a language tag has no
// registered LanguageParser (spec §4.1, §7).
type UnsupportedLanguageError struct {
	Language string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("unsupported language: %q", e.Language)
}

// ParseError is returned when parsing fails outright. A LanguageParser may
// instead choose best-effort recovery and return a partial UAST rather
// than this error (spec §4.1).
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}
