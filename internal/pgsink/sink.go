package pgsink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Abzwingten/pgloader/internal/errs"
	"github.com/Abzwingten/pgloader/internal/logger"
	"github.com/Abzwingten/pgloader/internal/queue"
	"github.com/Abzwingten/pgloader/internal/source"
	"github.com/Abzwingten/pgloader/internal/stats"
)

// Options configures a single table copy into the sink.
type Options struct {
	Truncate bool // TRUNCATE the target before streaming, when true
	RootDir  string // directory for <table>.dat/<table>.err rejects
}

// Sink streams rows from a queue.RowQueue into PostgreSQL's COPY FROM
// STDIN bulk-ingest text protocol, one table at a time. Each
// invocation acquires and releases its own connection from the pool;
// a connection is never shared between concurrent table copies.
type Sink struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// New creates a Sink bound to pool. pool is owned by the caller and
// outlives individual Copy calls; Copy itself acquires and releases
// its own connection from it.
func New(pool *pgxpool.Pool, log *logger.Logger) *Sink {
	return &Sink{pool: pool, log: log}
}

// Copy drains q until end-of-stream, formatting and streaming each row
// through COPY FROM STDIN for the descriptor's target table. It
// increments st.RowsWrite for each row as it is written into the COPY
// stream, before the server acknowledges the batch; rows already
// counted stay counted when the stream or the commit later fails. It
// increments st.Errors on a per-row formatting failure, rejecting
// malformed rows to <root-dir>/<table>.dat/.err instead of aborting
// the stream.
func (s *Sink) Copy(ctx context.Context, desc *source.Descriptor, q *queue.RowQueue, opts Options, st *stats.PGState) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return errs.New(errs.KindSink, desc.TargetName, err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return errs.New(errs.KindSink, desc.TargetName, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	if opts.Truncate {
		if _, err := tx.Exec(ctx, fmt.Sprintf("TRUNCATE %s", source.QuoteIdentifier(desc.TargetName))); err != nil {
			return errs.New(errs.KindSink, desc.TargetName, fmt.Errorf("truncate: %w", err))
		}
	}

	rejects, err := newRejectWriter(opts.RootDir, desc.TargetName)
	if err != nil {
		return errs.New(errs.KindSink, desc.TargetName, err)
	}
	defer rejects.Close()

	pr, pw := io.Pipe()
	copyDone := make(chan error, 1)
	go func() {
		_, err := tx.Conn().PgConn().CopyFrom(ctx, pr, fmt.Sprintf("COPY %s FROM STDIN", source.QuoteIdentifier(desc.TargetName)))
		pr.CloseWithError(err)
		copyDone <- err
	}()

	writeErr := s.feed(ctx, desc, q, st, rejects, pw)
	pw.CloseWithError(writeErr)

	copyErr := <-copyDone
	if writeErr != nil {
		s.log.Error("row formatting aborted copy of %s: %v", desc.TargetName, writeErr)
		if rowErr, ok := writeErr.(*errs.Error); ok {
			return rowErr
		}
		return errs.New(errs.KindSink, desc.TargetName, writeErr)
	}
	if copyErr != nil {
		s.log.Error("copy stream failed for %s: %v", desc.TargetName, copyErr)
		return errs.New(errs.KindSink, desc.TargetName, fmt.Errorf("copy stream: %w", copyErr))
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.New(errs.KindSink, desc.TargetName, fmt.Errorf("commit: %w", err))
	}
	s.log.Info("copied %d rows into %s", st.RowsWrite, desc.TargetName)
	return nil
}

// feed pops rows off q, applies each column's transform, formats the
// row, and writes it to w. A row with the wrong cardinality is a hard
// error carrying that row's index in *errs.Error.RowIdx: no partial
// row is ever sent. A per-value transform/format failure instead
// rejects just that row.
func (s *Sink) feed(ctx context.Context, desc *source.Descriptor, q *queue.RowQueue, st *stats.PGState, rejects *rejectWriter, w io.Writer) error {
	bw := bufio.NewWriterSize(w, 64*1024)
	defer bw.Flush()

	idx := 0
	for {
		row, ok := q.Pop(ctx.Done())
		if !ok {
			return nil
		}
		if len(row) != len(desc.Columns) {
			return errs.NewRow(errs.KindSink, desc.TargetName, idx, fmt.Errorf("expected %d columns, got %d", len(desc.Columns), len(row)))
		}

		transformed := make([]interface{}, len(row))
		rowErr := error(nil)
		for i, v := range row {
			tv, err := desc.Transforms[i](v)
			if err != nil {
				rowErr = fmt.Errorf("column %d transform: %w", i, err)
				break
			}
			transformed[i] = tv
		}

		var line string
		if rowErr == nil {
			line, rowErr = FormatRow(transformed)
		}
		if rowErr != nil {
			st.AddError()
			rejects.Reject(row, rowErr)
			idx++
			continue
		}

		n, err := bw.WriteString(line)
		if err != nil {
			return err
		}
		st.AddBytes(int64(n))
		st.AddWritten(1)
		idx++
	}
}

// rejectWriter appends rejected rows and their error reasons to
// <root-dir>/<table>.dat and <root-dir>/<table>.err, one entry per
// line.
type rejectWriter struct {
	dat *os.File
	err *os.File
}

func newRejectWriter(rootDir, table string) (*rejectWriter, error) {
	if rootDir == "" {
		return &rejectWriter{}, nil
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}
	dat, err := os.OpenFile(filepath.Join(rootDir, table+".dat"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	errf, err := os.OpenFile(filepath.Join(rootDir, table+".err"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		dat.Close()
		return nil, err
	}
	return &rejectWriter{dat: dat, err: errf}, nil
}

func (r *rejectWriter) Reject(row []interface{}, cause error) {
	if r.dat == nil {
		return
	}
	strs := make([]string, len(row))
	for i, v := range row {
		strs[i] = fmt.Sprintf("%v", v)
	}
	fmt.Fprintln(r.dat, strings.Join(strs, "\t"))
	fmt.Fprintln(r.err, cause.Error())
}

func (r *rejectWriter) Close() {
	if r.dat != nil {
		r.dat.Close()
	}
	if r.err != nil {
		r.err.Close()
	}
}
