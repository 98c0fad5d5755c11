package driver

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the Rule Execution Driver's tunables (spec §5): the
// worker-pool size and the per-file wall-clock timeout. Values are
// deliberately plain fields rather than a builder — the teacher's own
// ruleset downloader config (ruleset/types.go) is a flat struct
// populated by defaults-then-env-overrides, the same shape used here.
type Config struct {
	// Workers bounds how many files are analyzed concurrently.
	Workers int

	// PerFileTimeout is the wall-clock budget for one file's analysis
	// (spec §5: "a per-file wall-clock timeout (configurable, default
	// 60s)").
	PerFileTimeout time.Duration

	// MaxTaintPathLength and MaxTaintContexts are the taint engine's
	// resource limits (spec §4.4 "Limits"): the first bounds how many
	// hops a reconstructed taint path may carry, the second bounds how
	// many detections one Analyze call returns. Exceeding either sets
	// paths_truncated="true" in the Metadata of the findings that
	// analysis reports.
	MaxTaintPathLength int
	MaxTaintContexts   int
}

const (
	defaultPerFileTimeout     = 60 * time.Second
	defaultMaxTaintPathLength = 64
	defaultMaxTaintContexts   = 256
)

// envWorkersKey and envTimeoutKey mirror the teacher's own
// PATHFINDER_MAX_WORKERS override (graph/callgraph/builder/builder.go),
// renamed into this project's namespace.
const (
	envWorkersKey            = "CORVID_MAX_WORKERS"
	envTimeoutKey            = "CORVID_FILE_TIMEOUT_SECONDS"
	envMaxTaintPathLengthKey = "CORVID_MAX_TAINT_PATH_LENGTH"
	envMaxTaintContextsKey   = "CORVID_MAX_TAINT_CONTEXTS"
)

// DefaultConfig returns the worker count and timeout spec §5 specifies
// before any environment override is applied: available cores, capped
// the same way the teacher's getOptimalWorkerCount bounds its own pool
// (75% of cores, floor 2, ceiling 16), and the default 60s per-file
// deadline.
func DefaultConfig() Config {
	return Config{
		Workers:            optimalWorkerCount(),
		PerFileTimeout:     defaultPerFileTimeout,
		MaxTaintPathLength: defaultMaxTaintPathLength,
		MaxTaintContexts:   defaultMaxTaintContexts,
	}
}

func optimalWorkerCount() int {
	workers := int(float64(runtime.NumCPU()) * 0.75)
	if workers < 2 {
		workers = 2
	}
	if workers > 16 {
		workers = 16
	}
	return workers
}

// LoadConfigFromEnv starts from DefaultConfig, then applies an optional
// .env file (godotenv, matching the teacher's own env-bootstrapping
// pattern in analytics/usage.go and ruleset's downloader config) and any
// CORVID_MAX_WORKERS / CORVID_FILE_TIMEOUT_SECONDS already present in the
// process environment. envFile may be empty, in which case only the
// ambient environment is consulted; a missing file is not an error.
func LoadConfigFromEnv(envFile string) Config {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	cfg := DefaultConfig()
	if v := os.Getenv(envWorkersKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv(envTimeoutKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PerFileTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv(envMaxTaintPathLengthKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxTaintPathLength = n
		}
	}
	if v := os.Getenv(envMaxTaintContextsKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxTaintContexts = n
		}
	}
	return cfg
}
