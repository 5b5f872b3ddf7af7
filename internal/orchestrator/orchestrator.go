// Package orchestrator implements the Copy Orchestrator: it drives one
// reader/sink task pair per selected table, runs the schema phase
// ahead of them, and the index/sequence phases behind them, aggregating
// results into a stats.Collector for the final summary.
package orchestrator

import (
	"context"
	"io"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Abzwingten/pgloader/internal/config"
	"github.com/Abzwingten/pgloader/internal/errs"
	"github.com/Abzwingten/pgloader/internal/logger"
	"github.com/Abzwingten/pgloader/internal/pgsink"
	"github.com/Abzwingten/pgloader/internal/queue"
	"github.com/Abzwingten/pgloader/internal/schema"
	"github.com/Abzwingten/pgloader/internal/source"
	"github.com/Abzwingten/pgloader/internal/stats"
)

// Table bundles everything the orchestrator needs to run one table end
// to end: where to read from, and the already-discovered column
// mapping for the target.
type Table struct {
	Desc   *source.Descriptor
	Opener func() (source.Reader, error)

	// Indexes to build for this table, once every selected table's copy
	// has finished.
	Indexes []schema.Index
	// HasSequence marks a table whose serial/identity columns should
	// be reset after copy (the orchestrator passes the table name
	// through to schema.ResetSequences, which discovers the owned
	// sequences itself).
	HasSequence bool
}

// Orchestrator runs the copy engine's full lifecycle against a fixed
// set of tables and a single target pool.
type Orchestrator struct {
	pool *pgxpool.Pool
	opts config.Options
	rc   config.RunContext
	log  *logger.Logger
	coll *stats.Collector
}

// New creates an Orchestrator bound to pool and rc. coll is owned by
// the caller and outlives the run, so its summary can be rendered
// after Run returns regardless of outcome.
func New(pool *pgxpool.Pool, rc config.RunContext, log *logger.Logger, coll *stats.Collector) *Orchestrator {
	return &Orchestrator{pool: pool, opts: rc.Options, rc: rc, log: log, coll: coll}
}

// Run executes the full procedure: schema phase, then one copy task
// pair per table (each pair is its own goroutine group: one producer
// reading the source, one consumer streaming COPY FROM STDIN), then
// the index pool, then sequence resets. A schema-phase failure is
// fatal and aborts before any copy starts; a per-table failure during
// copy is recorded against that table and does not stop the others.
// When schema-only is set, the copy and index phases are skipped
// entirely and the run proceeds straight to sequence resets.
func (o *Orchestrator) Run(ctx context.Context, tables []Table, schemaTables []schema.Table) error {
	selected := o.filter(tables)

	if !o.opts.DataOnly {
		if err := o.runSchemaPhase(ctx, schemaTables, selected); err != nil {
			return err
		}
	}
	if o.opts.SchemaOnly {
		if o.opts.ResetSequences {
			o.runSequencePhase(ctx, selected)
		}
		return nil
	}

	o.runCopyPhase(ctx, selected)

	if o.opts.CreateIndexes {
		o.runIndexPhase(ctx, selected)
	}
	if o.opts.ResetSequences {
		o.runSequencePhase(ctx, selected)
	}
	return nil
}

// filter keeps only the tables passing the include/exclude/only-tables
// filter (config.Options.Selected), applied once up front so every
// later phase walks the same reduced set.
func (o *Orchestrator) filter(tables []Table) []Table {
	if len(o.opts.OnlyTables) == 0 && len(o.opts.Including) == 0 && len(o.opts.Excluding) == 0 {
		return tables
	}
	out := make([]Table, 0, len(tables))
	for _, t := range tables {
		if o.opts.Selected(t.Desc.TargetName) {
			out = append(out, t)
		}
	}
	return out
}

// shouldRunSchemaPhase decides whether to materialize tables at all:
// either create-tables was asked for directly, or the run is
// schema-only (which must still produce a schema even if create-tables
// was otherwise left off), and there is at least one table to create.
func shouldRunSchemaPhase(opts config.Options, hasSchemaTables bool) bool {
	return (opts.CreateTables || opts.SchemaOnly) && hasSchemaTables
}

func (o *Orchestrator) runSchemaPhase(ctx context.Context, schemaTables []schema.Table, selected []Table) error {
	if !o.opts.CreateTables && !o.opts.SchemaOnly {
		return o.runTruncatePhase(ctx, selected)
	}
	if !shouldRunSchemaPhase(o.opts, len(schemaTables) > 0) {
		return nil
	}
	err := stats.WithStats(o.coll.Before, "create-tables", func(_ *stats.PGState) error {
		return schema.CreateTables(ctx, o.pool, schemaTables, o.opts.IncludeDrop)
	})
	if err != nil {
		o.log.Error("schema phase aborted: %v", err)
		return err
	}
	o.log.Info("created %d tables", len(schemaTables))
	return nil
}

// runTruncatePhase truncates every selected table when truncate is set.
// It runs only when the schema phase creates no tables.
func (o *Orchestrator) runTruncatePhase(ctx context.Context, selected []Table) error {
	if o.opts.Truncate {
		names := make([]string, 0, len(selected))
		for _, t := range selected {
			names = append(names, t.Desc.TargetName)
		}
		err := stats.WithStats(o.coll.Before, "truncate", func(_ *stats.PGState) error {
			return schema.TruncateTables(ctx, o.pool, names)
		})
		if err != nil {
			o.log.Error("truncate phase failed: %v", err)
			return err
		}
	}
	return nil
}

// runCopyPhase runs every table's reader/sink task pair concurrently
// and waits for all to finish, the two-worker-per-table pattern from
// the copy pool: one goroutine drains the source into the queue, the
// other streams the queue into PostgreSQL via COPY. A table's failure
// only ends that table's pair.
func (o *Orchestrator) runCopyPhase(ctx context.Context, selected []Table) {
	var wg sync.WaitGroup
	for _, t := range selected {
		wg.Add(1)
		go func(t Table) {
			defer wg.Done()
			o.runOneTable(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (o *Orchestrator) runOneTable(ctx context.Context, t Table) {
	st := o.coll.Main.Get(t.Desc.TargetName)

	reader, err := t.Opener()
	if err != nil {
		wrapped := errs.New(errs.KindSourceQuery, t.Desc.TargetName, err)
		o.log.Error("opening source failed: %v", wrapped)
		st.AddError()
		st.Finish()
		return
	}
	defer reader.Close()

	t.Desc.Init()
	q := queue.New(o.opts.ConcurrentBatches)
	sink := pgsink.New(o.pool, o.log)

	producerDone := make(chan error, 1)
	go func() {
		producerDone <- o.produce(ctx, reader, q, st)
	}()

	copyOpts := pgsink.Options{Truncate: false, RootDir: o.rc.RootDir}
	copyErr := sink.Copy(ctx, t.Desc, q, copyOpts, st)
	producerErr := <-producerDone

	st.Finish()
	if copyErr != nil {
		st.AddError()
		o.log.Error("copy failed for %s: %v", t.Desc.TargetName, copyErr)
		return
	}
	if producerErr != nil {
		o.log.Error("reading source failed for %s: %v", t.Desc.TargetName, producerErr)
	}
}

// produce drains reader into q, counting rows read and translating a
// mid-stream read failure into a recorded error that still lets the
// sink finish draining whatever rows already made it into the queue.
func (o *Orchestrator) produce(ctx context.Context, reader source.Reader, q *queue.RowQueue, st *stats.PGState) error {
	defer q.Close()

	rows, err := reader.Rows(ctx)
	if err != nil {
		st.AddError()
		return err
	}

	for {
		row, err := rows.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			st.AddError()
			return err
		}
		if pushErr := q.Push(row, ctx.Done()); pushErr != nil {
			return pushErr
		}
		st.AddRead(1)
	}
}

// runIndexPhase builds every selected table's indexes through a
// single pool sized to the largest per-table index count, so no table
// monopolizes the workers building just its own indexes.
func (o *Orchestrator) runIndexPhase(ctx context.Context, selected []Table) {
	var all []schema.Index
	maxPerTable := 1
	for _, t := range selected {
		all = append(all, t.Indexes...)
		if len(t.Indexes) > maxPerTable {
			maxPerTable = len(t.Indexes)
		}
	}
	schema.CreateIndexes(ctx, o.pool, all, maxPerTable, o.coll.Index, o.log)
}

func (o *Orchestrator) runSequencePhase(ctx context.Context, selected []Table) {
	var names []string
	for _, t := range selected {
		if t.HasSequence {
			names = append(names, t.Desc.TargetName)
		}
	}
	if len(names) == 0 {
		return
	}
	if err := schema.ResetSequences(ctx, o.pool, names, o.coll.Sequence, o.log); err != nil {
		o.log.Error("sequence phase aborted: %v", err)
	}
}
