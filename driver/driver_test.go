package driver_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidsec/corvid/driver"
	"github.com/corvidsec/corvid/parser"
	"github.com/corvidsec/corvid/parser/adapters/goadapter"
	"github.com/corvidsec/corvid/pattern"
	"github.com/corvidsec/corvid/rule"
	"github.com/corvidsec/corvid/uast"
)

func newRegistry() *parser.Registry {
	r := parser.NewRegistry()
	r.Register(uast.LanguageGo, func() parser.LanguageParser { return goadapter.New() })
	return r
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func searchRule(id string, patternSrc string) *rule.Rule {
	return &rule.Rule{
		ID:        id,
		Message:   "dangerous call: $X",
		Severity:  rule.SeverityWarning,
		Languages: []uast.Language{uast.LanguageGo},
		Pattern:   pattern.Simple(patternSrc),
		Mode:      rule.ModeSearch,
		Options:   rule.DefaultOptions(),
	}
}

func TestRunFindsSearchMatchesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package main\n\nfunc run() {\n\teval(\"x\")\n}\n")
	writeFile(t, dir, "b.go", "package main\n\nfunc run() {\n\tsafe(1)\n}\n")

	d := driver.New(newRegistry(), driver.DefaultConfig(), nil)
	result, err := d.Run([]string{filepath.Join(dir, "a.go"), filepath.Join(dir, "b.go")}, []*rule.Rule{searchRule("eval-use", "eval($X)")})
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "eval-use", result.Findings[0].RuleID)
	assert.Equal(t, 2, result.FilesAnalyzed)
}

func TestRunSkipsRuleNotAdmittedByBloomFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package main\n\nfunc run() {\n\tsafe(1)\n}\n")

	d := driver.New(newRegistry(), driver.DefaultConfig(), nil)
	result, err := d.Run([]string{filepath.Join(dir, "a.go")}, []*rule.Rule{searchRule("eval-use", "eval($X)")})
	require.NoError(t, err)
	assert.Empty(t, result.Findings)
	assert.Equal(t, 1, result.FilesAnalyzed)
}

func TestRunReturnsErrorWhenNoFileAnalyzed(t *testing.T) {
	d := driver.New(newRegistry(), driver.DefaultConfig(), nil)
	_, err := d.Run([]string{"/no/such/file.go"}, []*rule.Rule{searchRule("eval-use", "eval($X)")})
	require.Error(t, err)
}

func TestRunTaintRuleTracesSourceToSink(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.go", `package main

func run() {
	data := source()
	sink(data)
}
`)

	taintRule := &rule.Rule{
		ID:        "taint-1",
		Message:   "tainted value reaches sink",
		Severity:  rule.SeverityError,
		Languages: []uast.Language{uast.LanguageGo},
		Mode:      rule.ModeTaint,
		Options:   rule.DefaultOptions(),
		Taint: &rule.TaintSpec{
			Sources: []*pattern.Pattern{pattern.Simple("$VAR := source()")},
			Sinks:   []*pattern.Pattern{pattern.Simple("sink($ARG)")},
		},
	}

	d := driver.New(newRegistry(), driver.DefaultConfig(), nil)
	result, err := d.Run([]string{filepath.Join(dir, "app.go")}, []*rule.Rule{taintRule})
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "taint-1", result.Findings[0].RuleID)
	assert.NotEmpty(t, result.Findings[0].TaintPath)
}

func TestRunEmptyFileProducesNoFindingsOrErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.go", "")

	d := driver.New(newRegistry(), driver.DefaultConfig(), nil)
	result, err := d.Run([]string{filepath.Join(dir, "empty.go")}, []*rule.Rule{searchRule("eval-use", "eval($X)")})
	require.NoError(t, err)
	assert.Empty(t, result.Findings)
}

// slowParser wraps the Go adapter with an artificial delay so the timeout
// path can be exercised deterministically, without racing the real (fast)
// tree-sitter parse against a near-zero timeout.
type slowParser struct {
	*goadapter.Adapter
	delay time.Duration
}

func (s *slowParser) Parse(src []byte, filename string) (*uast.Node, error) {
	time.Sleep(s.delay)
	return s.Adapter.Parse(src, filename)
}

func TestRunPerFileTimeoutRecordsWarningFinding(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package main\n\nfunc run() {\n\teval(\"x\")\n}\n")

	r := parser.NewRegistry()
	r.Register(uast.LanguageGo, func() parser.LanguageParser {
		return &slowParser{Adapter: goadapter.New(), delay: 50 * time.Millisecond}
	})

	cfg := driver.DefaultConfig()
	cfg.PerFileTimeout = 5 * time.Millisecond
	d := driver.New(r, cfg, nil)
	result, _ := d.Run([]string{filepath.Join(dir, "a.go")}, []*rule.Rule{searchRule("eval-use", "eval($X)")})
	require.Len(t, result.Findings, 1)
	assert.Equal(t, rule.SeverityWarning, result.Findings[0].Severity)
}

func TestLoadConfigFromEnvRespectsOverride(t *testing.T) {
	t.Setenv("CORVID_MAX_WORKERS", "3")
	t.Setenv("CORVID_FILE_TIMEOUT_SECONDS", "5")
	cfg := driver.LoadConfigFromEnv("")
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.PerFileTimeout)
}
