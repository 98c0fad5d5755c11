// Package parser is the Parser Adapter Registry (spec §4.1). It maps a
// language tag to a LanguageParser capability. Concrete grammars
// (tree-sitter or otherwise) are plug-ins registered here at process
// start; the core never imports a specific grammar package directly. See
// parser/adapters for reference plug-ins.
package parser

import (
	"sync"

	"github.com/corvidsec/corvid/uast"
)

// LanguageParser produces a UAST from source bytes for one language. A
// parser may attempt best-effort recovery on malformed input and still
// return a tree whose root carries attribute "partial"="true" rather than
// an error (spec §4.1).
type LanguageParser interface {
	// Parse builds a UAST for the given source buffer.
	Parse(src []byte, filename string) (*uast.Node, error)

	// ParsePattern reparses a pattern string in lenient mode, permitting
	// unbound metavariables and ellipses at arbitrary positions. It is
	// used by the Pattern Model to compile Simple patterns.
	ParsePattern(text string) (*uast.Node, error)

	// Kinds returns the set of node kinds this parser may emit.
	Kinds() []string

	// IsCommutative reports whether a node of this kind represents a
	// commutative operator (e.g. `&&`, `||`, `+` for numeric addition).
	// Consulted by the Matcher when options.commutative_boolop is set.
	IsCommutative(kind string) bool

	// IsEquality reports whether a node of this kind represents an
	// equality/inequality comparison. Consulted when
	// options.symmetric_eq is set.
	IsEquality(kind string) bool
}

// Registry is the process-wide, read-only-after-init table mapping
// Language tags to their LanguageParser plug-in. It is the only other
// piece of global state besides the regex cache (spec §9).
type Registry struct {
	mu      sync.RWMutex
	parsers map[uast.Language]func() LanguageParser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[uast.Language]func() LanguageParser)}
}

// Register installs a factory for lang. Factories are invoked lazily, once
// per CreateParser call, so that a worker can own its own parser instance
// (spec §5: "each worker owns its parser").
func (r *Registry) Register(lang uast.Language, factory func() LanguageParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[lang] = factory
}

// CreateParser returns a new LanguageParser instance for lang, or
// UnsupportedLanguageError if no plug-in is registered.
func (r *Registry) CreateParser(lang uast.Language) (LanguageParser, error) {
	r.mu.RLock()
	factory, ok := r.parsers[lang]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedLanguageError{Language: string(lang)}
	}
	return factory(), nil
}

// Supports reports whether lang has a registered plug-in.
func (r *Registry) Supports(lang uast.Language) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.parsers[lang]
	return ok
}

// SupportedLanguages returns every language with a registered plug-in, in
// no particular order.
func (r *Registry) SupportedLanguages() []uast.Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uast.Language, 0, len(r.parsers))
	for lang := range r.parsers {
		out = append(out, lang)
	}
	return out
}

// DetectLanguage resolves a file path (and optionally its content) to a
// Language using uast.DetectLanguage, then confirms a plug-in is
// registered for it. ok is false if the language is unrecognized or
// unsupported by this registry.
func (r *Registry) DetectLanguage(path string, content []byte) (uast.Language, bool) {
	lang, ok := uast.DetectLanguage(path, content)
	if !ok {
		return uast.LanguageUnknown, false
	}
	if !r.Supports(lang) {
		return uast.LanguageUnknown, false
	}
	return lang, true
}
