// Package errs defines the error-kind taxonomy for the copy engine.
//
// Every failure the engine produces is one of the kinds named in the
// specification: a malformed or truncated source (SourceFormatError), a
// source-side step that failed without killing the pipeline
// (SourceQueryError), a PostgreSQL transaction or stream failure
// (SinkError), a DDL failure during the schema phase (SchemaError), a
// single index build failure (IndexError), or a single sequence reset
// failure (SequenceError). Callers use errors.Is against the sentinel
// Kind values and errors.As against *Error to recover the failing
// table/index/sequence name.
package errs

import (
	"errors"
	"fmt"
)

// Kind tags the category of failure, independent of the underlying cause.
type Kind int

const (
	// KindSourceFormat is fatal for the table being read: a malformed
	// header or a record stream that ended early.
	KindSourceFormat Kind = iota
	// KindSourceQuery is recoverable: a source-side step failed, the
	// table's error counter is incremented, and its sink is ended.
	KindSourceQuery
	// KindSink is fatal for the table being written: a transaction or
	// stream failure that is rolled back.
	KindSink
	// KindSchema is fatal for the run: a DDL statement failed during
	// the schema phase.
	KindSchema
	// KindIndex is recoverable: a single index build failed.
	KindIndex
	// KindSequence is recoverable: a single sequence reset failed.
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindSourceFormat:
		return "source_format"
	case KindSourceQuery:
		return "source_query"
	case KindSink:
		return "sink"
	case KindSchema:
		return "schema"
	case KindIndex:
		return "index"
	case KindSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Sentinel errors for errors.Is comparisons against a Kind, independent
// of which table/index/sequence produced the failure.
var (
	ErrSourceFormat = errors.New("malformed or truncated source")
	ErrSourceQuery  = errors.New("source query failed")
	ErrSink         = errors.New("sink transaction failed")
	ErrSchema       = errors.New("schema statement failed")
	ErrIndex        = errors.New("index build failed")
	ErrSequence     = errors.New("sequence reset failed")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindSourceFormat:
		return ErrSourceFormat
	case KindSourceQuery:
		return ErrSourceQuery
	case KindSink:
		return ErrSink
	case KindSchema:
		return ErrSchema
	case KindIndex:
		return ErrIndex
	case KindSequence:
		return ErrSequence
	default:
		return nil
	}
}

// Error wraps a cause with the kind of failure and the name of the
// table, index, or sequence it happened against.
type Error struct {
	Kind   Kind
	Object string // table, index, or sequence name
	RowIdx int    // approximate row index, -1 when not applicable
	Cause  error
}

func (e *Error) Error() string {
	if e.RowIdx >= 0 {
		return fmt.Sprintf("%s[%s] row %d: %v", e.Kind, e.Object, e.RowIdx, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Object, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for e's Kind, so callers
// can write errors.Is(err, errs.ErrSink) without knowing the object name.
func (e *Error) Is(target error) bool {
	return errors.Is(sentinelFor(e.Kind), target)
}

// New wraps cause as an Error of the given kind against object, with
// no associated row index.
func New(kind Kind, object string, cause error) *Error {
	return &Error{Kind: kind, Object: object, RowIdx: -1, Cause: cause}
}

// NewRow wraps cause as an Error of the given kind against object,
// recording the approximate row index where it occurred.
func NewRow(kind Kind, object string, rowIdx int, cause error) *Error {
	return &Error{Kind: kind, Object: object, RowIdx: rowIdx, Cause: cause}
}

// Recoverable reports whether an error of this kind should end only the
// owning table/index/sequence rather than aborting the whole run.
func Recoverable(kind Kind) bool {
	switch kind {
	case KindSourceQuery, KindIndex, KindSequence:
		return true
	default:
		return false
	}
}
