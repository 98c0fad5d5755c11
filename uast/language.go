package uast

import "strings"

// Language is a closed tag identifying one of the supported source
// languages. The zero value is the unknown language and is never returned
// by a successful lookup.
type Language string

// Supported languages. The set is closed: callers should treat any value
// outside this list as invalid, even though the underlying type is a
// string.
const (
	LanguageUnknown    Language = ""
	LanguageGo         Language = "go"
	LanguageJava       Language = "java"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguagePython     Language = "python"
	LanguageRuby       Language = "ruby"
	LanguageKotlin     Language = "kotlin"
	LanguageSwift      Language = "swift"
	LanguageC          Language = "c"
	LanguageCSharp     Language = "csharp"
	LanguagePHP        Language = "php"
	LanguageSQL        Language = "sql"
	LanguageBash       Language = "bash"
	LanguageXML        Language = "xml"
)

// languageInfo describes one language's recognized filename extensions and
// shebang interpreters, used by DetectLanguage.
type languageInfo struct {
	lang       Language
	extensions []string
	shebangs   []string
}

// registry is the closed, process-wide table of known languages. It is
// read-only after init, mirroring the "Global state" note in spec §9: the
// only process-wide mutable state lives in the regex cache and the parser
// adapter registry, not here.
var registry = []languageInfo{
	{LanguageGo, []string{".go"}, nil},
	{LanguageJava, []string{".java"}, nil},
	{LanguageJavaScript, []string{".js", ".jsx", ".mjs", ".cjs"}, []string{"node"}},
	{LanguageTypeScript, []string{".ts", ".tsx"}, nil},
	{LanguagePython, []string{".py", ".pyi"}, []string{"python", "python3", "python2"}},
	{LanguageRuby, []string{".rb"}, []string{"ruby"}},
	{LanguageKotlin, []string{".kt", ".kts"}, nil},
	{LanguageSwift, []string{".swift"}, nil},
	{LanguageC, []string{".c", ".h"}, nil},
	{LanguageCSharp, []string{".cs"}, nil},
	{LanguagePHP, []string{".php"}, []string{"php"}},
	{LanguageSQL, []string{".sql"}, nil},
	{LanguageBash, []string{".sh", ".bash"}, []string{"bash", "sh"}},
	{LanguageXML, []string{".xml"}, nil},
}

// LanguageByName resolves a canonical string name (case-insensitive) to a
// Language. ok is false for unrecognized names.
func LanguageByName(name string) (Language, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, info := range registry {
		if string(info.lang) == name {
			return info.lang, true
		}
	}
	return LanguageUnknown, false
}

// LanguageByExtension resolves a filename extension (with or without the
// leading dot) to a Language. ok is false when no language claims it.
func LanguageByExtension(ext string) (Language, bool) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	for _, info := range registry {
		for _, candidate := range info.extensions {
			if candidate == ext {
				return info.lang, true
			}
		}
	}
	return LanguageUnknown, false
}

// DetectLanguage determines the language of a file from its path and,
// optionally, its content. Detection proceeds in the order specified by
// spec §4.1: extension, then shebang, then content sniffing.
func DetectLanguage(path string, content []byte) (Language, bool) {
	if ext := extensionOf(path); ext != "" {
		if lang, ok := LanguageByExtension(ext); ok {
			return lang, true
		}
	}
	if lang, ok := detectShebang(content); ok {
		return lang, true
	}
	return detectByContent(content)
}

func extensionOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 || idx == len(path)-1 {
		return ""
	}
	slash := strings.LastIndexAny(path, "/\\")
	if slash > idx {
		return ""
	}
	return strings.ToLower(path[idx:])
}

func detectShebang(content []byte) (Language, bool) {
	if len(content) == 0 || content[0] != '#' {
		return LanguageUnknown, false
	}
	nl := indexByte(content, '\n')
	line := content
	if nl >= 0 {
		line = content[:nl]
	}
	if !strings.HasPrefix(string(line), "#!") {
		return LanguageUnknown, false
	}
	lineStr := string(line)
	for _, info := range registry {
		for _, interp := range info.shebangs {
			if strings.Contains(lineStr, "/"+interp) || strings.HasSuffix(lineStr, interp) {
				return info.lang, true
			}
		}
	}
	return LanguageUnknown, false
}

// detectByContent is a best-effort last resort: it never raises confidence
// above a coarse heuristic and is intentionally conservative, returning
// false rather than guessing wrong.
func detectByContent(content []byte) (Language, bool) {
	text := string(content)
	switch {
	case strings.HasPrefix(strings.TrimSpace(text), "<?php"):
		return LanguagePHP, true
	case strings.HasPrefix(strings.TrimSpace(text), "<?xml"):
		return LanguageXML, true
	case strings.Contains(text, "package main") && strings.Contains(text, "func "):
		return LanguageGo, true
	default:
		return LanguageUnknown, false
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
