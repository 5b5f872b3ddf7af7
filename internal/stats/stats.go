// Package stats collects per-table row/byte/error counters and elapsed
// time across the schema, copy, index, and sequence phases, and
// renders the aggregated run summary.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
)

// PGState holds the counters and timings for one named phase or table.
// It is mutated by exactly one worker pair over its lifetime; the two
// workers of that pair (reader and sink) update it concurrently, and
// the mutex serializes those writes and the collector's reads.
type PGState struct {
	mu sync.Mutex

	Label     string
	RowsRead  int64
	RowsWrite int64
	Errors    int64
	Bytes     int64
	Start     time.Time
	End       time.Time
}

// NewPGState creates a zero-valued state for label, stamped with its
// start time.
func NewPGState(label string) *PGState {
	return &PGState{Label: label, Start: time.Now()}
}

func (s *PGState) AddRead(n int64) {
	s.mu.Lock()
	s.RowsRead += n
	s.mu.Unlock()
}

func (s *PGState) AddWritten(n int64) {
	s.mu.Lock()
	s.RowsWrite += n
	s.mu.Unlock()
}

func (s *PGState) AddBytes(n int64) {
	s.mu.Lock()
	s.Bytes += n
	s.mu.Unlock()
}

func (s *PGState) AddError() {
	s.mu.Lock()
	s.Errors++
	s.mu.Unlock()
}

// Finish stamps the end time. Idempotent; subsequent calls are no-ops.
func (s *PGState) Finish() {
	s.mu.Lock()
	if s.End.IsZero() {
		s.End = time.Now()
	}
	s.mu.Unlock()
}

func (s *PGState) snapshot() pgStateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := s.End
	if end.IsZero() {
		end = time.Now()
	}
	return pgStateSnapshot{
		Label:   s.Label,
		Read:    s.RowsRead,
		Written: s.RowsWrite,
		Errors:  s.Errors,
		Bytes:   s.Bytes,
		Elapsed: end.Sub(s.Start),
	}
}

type pgStateSnapshot struct {
	Label   string
	Read    int64
	Written int64
	Errors  int64
	Bytes   int64
	Elapsed time.Duration
}

// StateBundle aggregates PGStates for one phase (before/main/index/
// sequence), keyed by table or object name.
type StateBundle struct {
	mu     sync.Mutex
	states map[string]*PGState
}

// NewStateBundle creates an empty bundle.
func NewStateBundle() *StateBundle {
	return &StateBundle{states: make(map[string]*PGState)}
}

// Get returns the PGState for name, creating it if absent. Exactly one
// entry exists per name at termination.
func (b *StateBundle) Get(name string) *PGState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[name]
	if !ok {
		s = NewPGState(name)
		b.states[name] = s
	}
	return s
}

// Names returns the bundle's entry names in no particular order;
// callers that need stable ordering should sort the result themselves.
func (b *StateBundle) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.states))
	for n := range b.states {
		names = append(names, n)
	}
	return names
}

// Collector scopes timed phases and renders the final summary.
type Collector struct {
	RunID uuid.UUID

	Before   *StateBundle
	Main     *StateBundle
	Index    *StateBundle
	Sequence *StateBundle
}

// NewCollector creates a Collector with one fresh StateBundle per
// phase and a fresh run identifier.
func NewCollector() *Collector {
	return &Collector{
		RunID:    uuid.New(),
		Before:   NewStateBundle(),
		Main:     NewStateBundle(),
		Index:    NewStateBundle(),
		Sequence: NewStateBundle(),
	}
}

// WithStats scopes a timed region against the PGState for name within
// bundle: it runs fn, then stamps elapsed time into the state
// regardless of whether fn returned an error.
func WithStats(bundle *StateBundle, name string, fn func(*PGState) error) error {
	st := bundle.Get(name)
	err := fn(st)
	st.Finish()
	return err
}

// WriteSummary renders the aggregated report: one row per table in
// Main, plus the schema/index/sequence phase rows, plus a total. It
// matches the corpus convention of a tabwriter-aligned plain-text
// report for CLI tools.
func (c *Collector) WriteSummary(w io.Writer, label string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t(run %s)\n", label, c.RunID)
	fmt.Fprintln(tw, "table\tread\twritten\terrors\telapsed")

	var totalRead, totalWritten, totalErrors int64
	var totalElapsed time.Duration

	print := func(bundle *StateBundle, prefix string) {
		for _, name := range sortedNames(bundle) {
			snap := bundle.Get(name).snapshot()
			fmt.Fprintf(tw, "%s%s\t%d\t%d\t%d\t%s\n", prefix, snap.Label, snap.Read, snap.Written, snap.Errors, snap.Elapsed)
			totalRead += snap.Read
			totalWritten += snap.Written
			totalErrors += snap.Errors
			totalElapsed += snap.Elapsed
		}
	}

	print(c.Before, "schema: ")
	print(c.Main, "")
	print(c.Index, "index: ")
	print(c.Sequence, "sequence: ")

	fmt.Fprintf(tw, "total\t%d\t%d\t%d\t%s\n", totalRead, totalWritten, totalErrors, totalElapsed)
	return tw.Flush()
}

// WriteSummaryJSON writes the same data as newline-delimited JSON, one
// object per phase/table row, to the optional summary-path output.
func (c *Collector) WriteSummaryJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	emit := func(bundle *StateBundle, phase string) error {
		for _, name := range sortedNames(bundle) {
			snap := bundle.Get(name).snapshot()
			row := struct {
				Phase   string `json:"phase"`
				Table   string `json:"table"`
				Read    int64  `json:"read"`
				Written int64  `json:"written"`
				Errors  int64  `json:"errors"`
				Elapsed string `json:"elapsed"`
			}{phase, snap.Label, snap.Read, snap.Written, snap.Errors, snap.Elapsed.String()}
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	}
	if err := emit(c.Before, "schema"); err != nil {
		return err
	}
	if err := emit(c.Main, "copy"); err != nil {
		return err
	}
	if err := emit(c.Index, "index"); err != nil {
		return err
	}
	return emit(c.Sequence, "sequence")
}

func sortedNames(b *StateBundle) []string {
	names := b.Names()
	// simple insertion sort: phase/table counts are small (tens, not
	// thousands), so this avoids pulling in sort just for stable output.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}
