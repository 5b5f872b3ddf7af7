// Package config defines the explicit run-time context the core is
// threaded through, replacing the original's process-wide globals
// (*state*, *root-dir*, *log-min-messages*, *default-tmpdir*) per the
// "Implicit global state" design note.
package config

import "strings"

// Options carries the run's phase flags and table filters.
type Options struct {
	DataOnly       bool
	SchemaOnly     bool
	Truncate       bool
	CreateTables   bool
	CreateIndexes  bool
	IncludeDrop    bool
	ResetSequences bool

	OnlyTables []string
	Including  []string
	Excluding  []string

	// ConcurrentBatches bounds the row queue's fixed capacity (§3,
	// default ~10).
	ConcurrentBatches int
}

// DefaultOptions returns the zero-value-safe defaults for a run.
func DefaultOptions() Options {
	return Options{ConcurrentBatches: 10}
}

// RunContext is the single explicit value threaded through the core in
// place of dynamic/global state. It is built once by the caller and
// never mutated by the core after construction; per-phase counters
// live in their own StateBundle, owned by the orchestrator, not here.
type RunContext struct {
	// TargetDSN is the PostgreSQL connection string.
	TargetDSN string
	// RootDir is the output directory for rejected rows and logs.
	RootDir string
	// SummaryPath is an optional file path for the final summary.
	SummaryPath string
	// Debug enables verbose/stack-trace logging.
	Debug bool

	Options Options
}

// Selected reports whether table t passes the configured filter:
// (only-tables empty or t is in only-tables) AND (including empty or
// t matches any including pattern) AND t matches no excluding
// pattern. The same filter applies to index discovery.
func (o Options) Selected(table string) bool {
	if len(o.OnlyTables) > 0 && !containsExact(o.OnlyTables, table) {
		return false
	}
	if len(o.Including) > 0 && !matchesAny(o.Including, table) {
		return false
	}
	if matchesAny(o.Excluding, table) {
		return false
	}
	return true
}

func containsExact(list []string, table string) bool {
	for _, t := range list {
		if t == table {
			return true
		}
	}
	return false
}

// matchesAny reports whether table matches any of the glob-style
// patterns in patterns. A pattern ending in "*" is a prefix match;
// otherwise it is an exact match.
func matchesAny(patterns []string, table string) bool {
	for _, p := range patterns {
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(table, strings.TrimSuffix(p, "*")) {
				return true
			}
			continue
		}
		if p == table {
			return true
		}
	}
	return false
}
