// Package schema creates and drops tables, truncates them, builds
// indexes in parallel, and resets sequences against the target
// PostgreSQL database.
package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Abzwingten/pgloader/internal/errs"
	"github.com/Abzwingten/pgloader/internal/logger"
	"github.com/Abzwingten/pgloader/internal/source"
	"github.com/Abzwingten/pgloader/internal/stats"
)

// Table describes one table to materialize: its target name and the
// pg column definitions already rendered by the Type & Transform Mapper.
type Table struct {
	Name       string
	ColumnDefs []string // "<quoted ident> <pg type>", one per column, in order
}

// Index describes one index to build.
type Index struct {
	Name      string
	Table     string
	Columns   []string
	Unique    bool
	Predicate string // optional WHERE clause, empty when absent
}

// CreateTables emits, for each table, an optional DROP TABLE IF EXISTS
// followed by CREATE TABLE, all within one transaction.
func CreateTables(ctx context.Context, pool *pgxpool.Pool, tables []Table, includeDrop bool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return errs.New(errs.KindSchema, "", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, t := range tables {
		if includeDrop {
			ddl := fmt.Sprintf("DROP TABLE IF EXISTS %s", source.QuoteIdentifier(t.Name))
			if _, err := tx.Exec(ctx, ddl); err != nil {
				return errs.New(errs.KindSchema, t.Name, fmt.Errorf("drop: %w", err))
			}
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (%s)", source.QuoteIdentifier(t.Name), strings.Join(t.ColumnDefs, ", "))
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return errs.New(errs.KindSchema, t.Name, fmt.Errorf("create: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.New(errs.KindSchema, "", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// TruncateTables runs a single TRUNCATE statement covering every name
// in tableNames. A table that was just created must never also be
// truncated: the policy is exclusive per table and is enforced by
// the caller (orchestrator), not here.
func TruncateTables(ctx context.Context, pool *pgxpool.Pool, tableNames []string) error {
	if len(tableNames) == 0 {
		return nil
	}
	quoted := make([]string, len(tableNames))
	for i, n := range tableNames {
		quoted[i] = source.QuoteIdentifier(n)
	}
	sql := fmt.Sprintf("TRUNCATE %s", strings.Join(quoted, ", "))
	if _, err := pool.Exec(ctx, sql); err != nil {
		return errs.New(errs.KindSchema, strings.Join(tableNames, ","), err)
	}
	return nil
}

// CreateIndexes submits one task per index to a bounded worker pool of
// size poolSize and returns once all have completed. A failure on one
// index is recorded against it and logged; the rest proceed.
//
// An empty indexes slice returns immediately without allocating any
// goroutines.
func CreateIndexes(ctx context.Context, pool *pgxpool.Pool, indexes []Index, poolSize int, st *stats.StateBundle, log *logger.Logger) {
	if len(indexes) == 0 {
		return
	}
	if poolSize < 1 {
		poolSize = 1
	}

	tasks := make(chan Index, len(indexes))
	for _, ix := range indexes {
		tasks <- ix
	}
	close(tasks)

	var wg sync.WaitGroup
	for w := 0; w < poolSize; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ix := range tasks {
				buildOneIndex(ctx, pool, ix, st, log)
			}
		}()
	}
	wg.Wait()
}

func buildOneIndex(ctx context.Context, pool *pgxpool.Pool, ix Index, st *stats.StateBundle, log *logger.Logger) {
	err := stats.WithStats(st, ix.Name, func(_ *stats.PGState) error {
		ddl := buildIndexDDL(ix)
		_, execErr := pool.Exec(ctx, ddl)
		return execErr
	})
	if err != nil {
		wrapped := errs.New(errs.KindIndex, ix.Name, err)
		log.Error("index build failed: %v", wrapped)
		st.Get(ix.Name).AddError()
		return
	}
	log.Info("index %s built on %s", ix.Name, ix.Table)
}

func buildIndexDDL(ix Index) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if ix.Unique {
		b.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&b, "INDEX %s ON %s (%s)", source.QuoteIdentifier(ix.Name), source.QuoteIdentifier(ix.Table), strings.Join(ix.Columns, ", "))
	if ix.Predicate != "" {
		fmt.Fprintf(&b, " WHERE %s", ix.Predicate)
	}
	return b.String()
}

// ResetSequences sets, for every sequence owned by a column of the
// listed tables, its value to MAX(column) + 1 (or 1 if empty). Running
// it twice in succession yields the same last-value each time. A
// failure on one sequence is recorded and logged; the rest proceed.
func ResetSequences(ctx context.Context, pool *pgxpool.Pool, tables []string, st *stats.StateBundle, log *logger.Logger) error {
	for _, table := range tables {
		seqs, err := ownedSequences(ctx, pool, table)
		if err != nil {
			return errs.New(errs.KindSchema, table, fmt.Errorf("discovering sequences: %w", err))
		}
		for _, s := range seqs {
			resetErr := stats.WithStats(st, s.seqName, func(_ *stats.PGState) error {
				return resetOneSequence(ctx, pool, table, s)
			})
			if resetErr != nil {
				wrapped := errs.New(errs.KindSequence, s.seqName, resetErr)
				log.Error("sequence reset failed: %v", wrapped)
				st.Get(s.seqName).AddError()
				continue
			}
			log.Info("sequence %s reset against %s.%s", s.seqName, table, s.column)
		}
	}
	return nil
}

type ownedSequence struct {
	seqName string
	column  string
}

// ownedSequences finds every sequence owned by a serial/identity column
// of table, via pg_get_serial_sequence.
func ownedSequences(ctx context.Context, pool *pgxpool.Pool, table string) ([]ownedSequence, error) {
	rows, err := pool.Query(ctx, `
		SELECT column_name, pg_get_serial_sequence($1, column_name)
		FROM information_schema.columns
		WHERE table_name = $1
	`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ownedSequence
	for rows.Next() {
		var column string
		var seqName *string
		if err := rows.Scan(&column, &seqName); err != nil {
			return nil, err
		}
		if seqName == nil {
			continue
		}
		out = append(out, ownedSequence{seqName: *seqName, column: column})
	}
	return out, rows.Err()
}

func resetOneSequence(ctx context.Context, pool *pgxpool.Pool, table string, s ownedSequence) error {
	sql := fmt.Sprintf(
		`SELECT setval('%s', COALESCE((SELECT MAX(%s) FROM %s), 0) + 1, false)`,
		s.seqName, source.QuoteIdentifier(s.column), source.QuoteIdentifier(table),
	)
	_, err := pool.Exec(ctx, sql)
	return err
}
