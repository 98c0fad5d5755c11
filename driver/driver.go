// Package driver is the Rule Execution Driver (spec §4.6): it
// orchestrates parsing, rule indexing, per-file analysis, and
// parallelism across a worker pool, producing the final aggregated
// Finding set. Grounded on the teacher's BuildCallGraph parallel
// extraction passes (graph/callgraph/builder/builder.go): a bounded
// worker pool pulling jobs off a channel, a WaitGroup barrier, and an
// atomic progress counter, generalized here from one fixed pass over
// Python modules to an arbitrary (files, rules) pair evaluated per spec
// §5's "parallel threads across files, single-threaded within a file"
// model.
package driver

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corvidsec/corvid/cfg"
	"github.com/corvidsec/corvid/finding"
	"github.com/corvidsec/corvid/matcher"
	"github.com/corvidsec/corvid/parser"
	"github.com/corvidsec/corvid/pattern"
	"github.com/corvidsec/corvid/rule"
	"github.com/corvidsec/corvid/taint"
	"github.com/corvidsec/corvid/uast"
)

// Result is everything one Run call produced.
type Result struct {
	Findings      []finding.Finding
	Errors        []error
	FilesTotal    int
	FilesAnalyzed int
	FilesSkipped  int
}

// Driver runs a fixed set of rules over a fixed set of files (spec §4.6).
// It is single-use: construct one per Run.
type Driver struct {
	Registry *parser.Registry
	Config   Config
	Logger   *log.Logger

	cancelled atomic.Bool

	errMu sync.Mutex
	errs  []error

	disabledMu sync.Mutex
	disabled   map[string]bool
}

// New constructs a Driver with the given registry and config. A nil
// logger defaults to log.Default() the way the teacher's own CLI
// commands fall back to a package logger when none is injected.
func New(registry *parser.Registry, cfg Config, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.Default()
	}
	return &Driver{Registry: registry, Config: cfg, Logger: logger, disabled: make(map[string]bool)}
}

// Cancel requests cooperative shutdown (spec §5): in-flight file workers
// finish their current rule, then discard the file's partial findings
// rather than emit them, and files still queued are skipped without being
// analyzed.
func (d *Driver) Cancel() { d.cancelled.Store(true) }

// Run analyzes every file in files against rules, using Config.Workers
// file-level goroutines and a per-file wall-clock timeout. The returned
// error is non-nil only when files was non-empty and not a single file
// was successfully analyzed (spec §7: "the process exits with non-zero
// status only if no files were successfully analyzed").
func (d *Driver) Run(files []string, rules []*rule.Rule) (*Result, error) {
	idx := BuildRuleIndex(rules)
	agg := finding.NewAggregator()

	var analyzed atomic.Int64
	var skipped atomic.Int64

	jobs := make(chan string)
	var wg sync.WaitGroup
	workers := d.Config.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range jobs {
				if d.cancelled.Load() {
					continue
				}
				ok := d.analyzeFile(file, idx, agg)
				if ok {
					analyzed.Add(1)
				} else {
					skipped.Add(1)
				}
			}
		}()
	}

	for _, f := range files {
		jobs <- f
	}
	close(jobs)
	wg.Wait()

	result := &Result{
		Findings:      agg.Findings(),
		Errors:        d.takeErrors(),
		FilesTotal:    len(files),
		FilesAnalyzed: int(analyzed.Load()),
		FilesSkipped:  int(skipped.Load()),
	}
	if len(files) > 0 && result.FilesAnalyzed == 0 {
		return result, fmt.Errorf("driver: no files were successfully analyzed out of %d", len(files))
	}
	return result, nil
}

func (d *Driver) recordErr(err error) {
	d.errMu.Lock()
	d.errs = append(d.errs, err)
	d.errMu.Unlock()
	d.Logger.Println(err)
}

func (d *Driver) takeErrors() []error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	out := make([]error, len(d.errs))
	copy(out, d.errs)
	return out
}

// disableRule marks ruleID permanently disabled for this run and reports
// err exactly once (spec §7: "rule-level errors are reported once and
// the rule is disabled for the run").
func (d *Driver) disableRule(ruleID string, err error) {
	d.disabledMu.Lock()
	already := d.disabled[ruleID]
	d.disabled[ruleID] = true
	d.disabledMu.Unlock()
	if !already {
		d.recordErr(&ruleDisabledError{RuleID: ruleID, Err: err})
	}
}

func (d *Driver) isDisabled(ruleID string) bool {
	d.disabledMu.Lock()
	defer d.disabledMu.Unlock()
	return d.disabled[ruleID]
}

// analyzeFile runs every candidate rule against one file, under the
// file's wall-clock timeout, and returns whether the file was
// successfully analyzed (as opposed to skipped outright).
func (d *Driver) analyzeFile(file string, idx *RuleIndex, agg *finding.Aggregator) bool {
	content, err := os.ReadFile(file)
	if err != nil {
		d.recordErr(fmt.Errorf("%s: %w", file, err))
		return false
	}

	lang, ok := d.Registry.DetectLanguage(file, content)
	if !ok {
		return false
	}
	lp, err := d.Registry.CreateParser(lang)
	if err != nil {
		d.recordErr(fmt.Errorf("%s: %w", file, err))
		return false
	}

	type outcome struct {
		findings []finding.Finding
		warnFile bool
		warnMsg  string
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			// An invariant violation deep in a pattern/CFG/taint helper
			// (spec §7 "Internal") must not take down the whole worker
			// pool: recover it here, report it once, and let the file be
			// skipped the same way a ParseError skips it.
			if r := recover(); r != nil {
				d.recordErr(&InternalError{File: file, Err: fmt.Errorf("%v", r)})
				done <- outcome{warnFile: true, warnMsg: fmt.Sprintf("internal error: %v", r)}
			}
		}()
		fs, warn := d.runFile(file, lang, lp, content, idx)
		if warn != "" {
			done <- outcome{findings: fs, warnFile: true, warnMsg: warn}
			return
		}
		done <- outcome{findings: fs}
	}()

	select {
	case out := <-done:
		if d.cancelled.Load() {
			return false
		}
		if out.warnFile {
			agg.Add(timeoutOrParseWarning(file, out.warnMsg), file, rule.PathFilter{})
			return false
		}
		for _, f := range out.findings {
			agg.Add(f, file, rule.PathFilter{})
		}
		return true
	case <-time.After(d.Config.PerFileTimeout):
		d.recordErr(&TimeoutError{File: file, Timeout: d.Config.PerFileTimeout.String()})
		agg.Add(timeoutOrParseWarning(file, fmt.Sprintf("analysis timed out after %s", d.Config.PerFileTimeout)), file, rule.PathFilter{})
		return false
	}
}

func timeoutOrParseWarning(file, msg string) finding.Finding {
	return finding.Finding{
		Message:  msg,
		Severity: rule.SeverityWarning,
		Location: uast.Span{File: file},
	}
}

// runFile parses and matches file's content against every admitted rule
// in index, sequentially per spec §5 ("rules are evaluated sequentially
// to keep memoization caches warm"). warn is non-empty when the file
// itself could not be parsed (spec §7: ParseError is recoverable at file
// scope).
func (d *Driver) runFile(file string, lang uast.Language, lp parser.LanguageParser, content []byte, idx *RuleIndex) ([]finding.Finding, string) {
	root, err := lp.Parse(content, file)
	if err != nil {
		return nil, err.Error()
	}

	bloom := BuildFileBloom(content)
	candidates := idx.Matching(lang, bloom)

	m := matcher.New(lp)
	m.Cancelled = d.cancelled.Load

	var findings []finding.Finding
	for _, r := range candidates {
		if d.cancelled.Load() {
			break
		}
		if d.isDisabled(r.ID) {
			continue
		}
		if err := d.compileRule(r, lang, lp); err != nil {
			d.disableRule(r.ID, err)
			continue
		}

		if r.Mode == rule.ModeSearch {
			findings = append(findings, d.runSearchRule(r, lang, root, m)...)
			continue
		}
		findings = append(findings, d.runTaintRule(r, lang, root, m)...)
	}
	return applyPaths(findings, file, candidates), ""
}

// applyPaths drops findings whose owning rule's paths.include/exclude
// doesn't admit file (spec §4.5). It looks the rule up by ID rather than
// threading the *rule.Rule through finding.Finding, keeping that type a
// plain output record.
func applyPaths(findings []finding.Finding, file string, candidates []*rule.Rule) []finding.Finding {
	if len(findings) == 0 {
		return findings
	}
	byID := make(map[string]rule.PathFilter, len(candidates))
	for _, r := range candidates {
		byID[r.ID] = r.Paths
	}
	out := findings[:0]
	for _, f := range findings {
		if finding.PathAllowed(byID[f.RuleID], file) {
			out = append(out, f)
		}
	}
	return out
}

func (d *Driver) compileRule(r *rule.Rule, lang uast.Language, lp pattern.PatternParser) error {
	if r.Mode == rule.ModeSearch {
		return pattern.Compile(r.Pattern, lang, lp)
	}
	for _, p := range r.Taint.Sources {
		if err := pattern.Compile(p, lang, lp); err != nil {
			return err
		}
	}
	for _, p := range r.Taint.Sinks {
		if err := pattern.Compile(p, lang, lp); err != nil {
			return err
		}
	}
	for _, p := range r.Taint.Sanitizers {
		if err := pattern.Compile(p, lang, lp); err != nil {
			return err
		}
	}
	for _, prop := range r.Taint.Propagators {
		if err := pattern.Compile(prop.Pattern, lang, lp); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) runSearchRule(r *rule.Rule, lang uast.Language, root *uast.Node, m *matcher.Matcher) []finding.Finding {
	matches, err := m.Match(r.Pattern, lang, root, r.Options)
	if err != nil {
		if err == matcher.ErrCancelled {
			d.cancelled.Store(true)
			return nil
		}
		d.recordErr(fmt.Errorf("rule %q: %w", r.ID, err))
		return nil
	}
	out := make([]finding.Finding, 0, len(matches))
	for _, mt := range matches {
		out = append(out, finding.FromMatch(r, mt))
	}
	return out
}

func (d *Driver) runTaintRule(r *rule.Rule, lang uast.Language, root *uast.Node, m *matcher.Matcher) []finding.Finding {
	graphs := functionGraphs(root)
	var out []finding.Finding
	for _, graph := range graphs {
		if d.cancelled.Load() {
			return out
		}
		analyzer := &taint.Analyzer{
			Matcher: m,
			Lang:    lang,
			Spec:    r.Taint,
			Options: r.Options,
			Limits: taint.Limits{
				MaxPathLength: d.Config.MaxTaintPathLength,
				MaxContexts:   d.Config.MaxTaintContexts,
			},
		}
		result, err := analyzer.Analyze(graph)
		if err != nil {
			d.recordErr(fmt.Errorf("rule %q: %w", r.ID, err))
			continue
		}
		for _, det := range result.Detections {
			f := finding.FromTaintDetection(r, det.Sink, det.Path, det.Bindings)
			if result.PathsTruncated {
				md := make(map[string]string, len(f.Metadata)+1)
				for k, v := range f.Metadata {
					md[k] = v
				}
				md["paths_truncated"] = "true"
				f.Metadata = md
			}
			out = append(out, f)
		}
	}
	return out
}

// functionGraphs locates every function-like node in root and builds one
// CFG per function (spec §4.4: "over the UAST of a single function").
// When root has no function nodes at all, it is itself a top-level
// script and gets exactly one CFG built directly from its statements
// (spec §4.4: "or top-level script").
func functionGraphs(root *uast.Node) []*cfg.ControlFlowGraph {
	var fns []*uast.Node
	uast.Walk(root, func(n *uast.Node) bool {
		if n != root && isFunctionKind(n.Kind) {
			fns = append(fns, n)
			return false
		}
		return true
	})
	if len(fns) == 0 {
		return []*cfg.ControlFlowGraph{cfg.BuildScriptCFG(root, "<script>")}
	}
	graphs := make([]*cfg.ControlFlowGraph, 0, len(fns))
	for i, fn := range fns {
		name := fmt.Sprintf("fn%d", i)
		graph, err := cfg.BuildFunctionCFG(fn, name)
		if err != nil {
			continue
		}
		graphs = append(graphs, graph)
	}
	return graphs
}

func isFunctionKind(kind string) bool {
	k := strings.ToLower(kind)
	return strings.Contains(k, "function") || strings.Contains(k, "method")
}

// WithTimeout is a convenience wrapper for callers that want a
// context-scoped Run (e.g. bounding the whole batch, not just one file):
// it cancels the Driver when ctx is done, in addition to the per-file
// timeout Run already enforces.
func (d *Driver) WithTimeout(ctx context.Context) context.CancelFunc {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			d.Cancel()
		case <-stop:
		}
	}()
	return func() { close(stop) }
}
