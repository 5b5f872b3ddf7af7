// Package source defines the capability set a source reader implements
// and the data model shared by every source kind. Dispatch over kind
// happens once, at discovery time, by choosing which concrete Reader
// to construct; the orchestrator itself never branches on kind.
package source

import "context"

// Kind tags a concrete source variant.
type Kind int

const (
	KindDBF Kind = iota
	KindSQLite
)

// Column is a name, a format-specific source type tag, and optional
// format-specific metadata. Immutable after discovery.
type Column struct {
	Name       string
	SourceType string // format-specific type tag, e.g. DBF "C"/"N"/"L"/"D"/"M", SQLite "integer"/"text"/...
	Length     int    // declared length, when the format carries one
	Decimals   int    // declared decimal count, DBF "N" fields
	Nullable   bool
}

// Transform is a pure function from a raw source value to a
// PostgreSQL-text-protocol value, or nil for the identity sentinel.
type Transform func(raw interface{}) (interface{}, error)

// Identity is the identity transform: it returns raw unchanged.
func Identity(raw interface{}) (interface{}, error) { return raw, nil }

// Schema describes a single source table: its name and ordered columns.
type Schema struct {
	TableName string
	Columns   []Column
}

// Reader is the capability set the orchestrator consumes. It is
// implemented once per source kind (dbf.Reader, sqlite.Reader); the
// orchestrator never switches on concrete type.
type Reader interface {
	// Describe returns the schema discovered from the source.
	Describe(ctx context.Context) (Schema, error)
	// Rows returns an iterator over row values, in schema column
	// order. The reader owns the underlying handle until Close or
	// until the iterator is exhausted/cancelled.
	Rows(ctx context.Context) (RowIter, error)
	// Close releases the source handle. Safe to call more than once.
	Close() error
}

// RowIter yields one row of raw values per call to Next, matching the
// describer's column order, until io.EOF.
type RowIter interface {
	// Next returns the next row, or io.EOF when exhausted. On a
	// non-EOF error the row is invalid and the caller should stop.
	Next(ctx context.Context) ([]interface{}, error)
	// Emitted returns the count of rows returned so far, including
	// after external cancellation.
	Emitted() int
}

// Descriptor identifies a source artifact and a target. Created at
// discovery time for each table, mutated only during
// initialization to fill Columns/Transforms defaults, then left
// immutable for the lifetime of its reader/sink task pair.
type Descriptor struct {
	SourceName string // table name or file base name
	TargetName string // PostgreSQL table name
	TargetDB   string // connection identifier

	Columns    []Column
	Transforms []Transform // same cardinality as Columns after Init
}

// Init fills Transforms with the identity sentinel for any column that
// doesn't already have one, establishing the |columns| == |transforms|
// invariant without reflection: defaults are filled once, here.
func (d *Descriptor) Init() {
	transforms := make([]Transform, len(d.Columns))
	copy(transforms, d.Transforms)
	for i := range transforms {
		if transforms[i] == nil {
			transforms[i] = Identity
		}
	}
	d.Transforms = transforms
}
