// Package sqlite reads tables out of an embedded SQLite database file:
// open a handle, expose column metadata, then iterate with
// database/sql, backed by the mattn/go-sqlite3 driver registered under
// the "sqlite3" driver name.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Abzwingten/pgloader/internal/errs"
	"github.com/Abzwingten/pgloader/internal/schema"
	"github.com/Abzwingten/pgloader/internal/source"
)

// Reader implements source.Reader for one table of a SQLite file.
type Reader struct {
	tableName string

	db *sql.DB
	// isBlob marks, per column, whether the declared type requires
	// base64-decoding of the text value the driver hands back.
	isBlob []bool
}

// Open opens the SQLite file read-only and prepares to read table.
// This engine only ever reads from its sources, never writes to them.
func Open(path, table string) (*Reader, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.New(errs.KindSourceQuery, table, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.New(errs.KindSourceQuery, table, err)
	}
	return &Reader{tableName: table, db: db}, nil
}

// ListTables returns every user table name in the database, found via
// sqlite_master, for callers that want to load an entire database
// without naming its tables up front.
func ListTables(path string) ([]string, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.New(errs.KindSourceQuery, path, err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, errs.New(errs.KindSourceQuery, path, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.New(errs.KindSourceQuery, path, err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// ListIndexes returns every explicitly created index on table, found
// via sqlite_master the same way ListTables finds its tables. An index
// sqlite derives implicitly from a PRIMARY KEY or UNIQUE column
// constraint carries a NULL sql column in sqlite_master and is
// skipped here: the target table already gets that same constraint
// from the column definitions the mapper builds, so re-declaring it
// as a standalone index would only duplicate it.
func ListIndexes(path, table string) ([]schema.Index, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.New(errs.KindSourceQuery, table, err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY name`, table)
	if err != nil {
		return nil, errs.New(errs.KindSourceQuery, table, err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, errs.New(errs.KindSourceQuery, table, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errs.New(errs.KindSourceQuery, table, err)
	}
	rows.Close()
	if len(names) == 0 {
		return nil, nil
	}

	unique, err := indexUniqueFlags(db, table)
	if err != nil {
		return nil, err
	}

	out := make([]schema.Index, 0, len(names))
	for _, name := range names {
		cols, err := indexColumns(db, name)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.Index{
			Name:    name,
			Table:   table,
			Columns: cols,
			Unique:  unique[name],
		})
	}
	return out, nil
}

func indexUniqueFlags(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA index_list(%s)`, quoteTable(table)))
	if err != nil {
		return nil, errs.New(errs.KindSourceQuery, table, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var seq int
		var name, origin string
		var isUnique, partial int
		if err := rows.Scan(&seq, &name, &isUnique, &origin, &partial); err != nil {
			return nil, errs.New(errs.KindSourceQuery, table, err)
		}
		out[name] = isUnique == 1
	}
	return out, rows.Err()
}

func indexColumns(db *sql.DB, indexName string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA index_info(%s)`, quoteTable(indexName)))
	if err != nil {
		return nil, errs.New(errs.KindSourceQuery, indexName, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name string
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, errs.New(errs.KindSourceQuery, indexName, err)
		}
		cols = append(cols, source.QuoteIdentifier(name))
	}
	return cols, rows.Err()
}

// Describe implements source.Reader: it queries the table's declared
// column types via PRAGMA table_info, the statement-metadata
// equivalent for a driver that exposes no richer schema introspection
// over database/sql.
func (r *Reader) Describe(ctx context.Context) (source.Schema, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteTable(r.tableName)))
	if err != nil {
		return source.Schema{}, errs.New(errs.KindSourceQuery, r.tableName, err)
	}
	defer rows.Close()

	var cols []source.Column
	for rows.Next() {
		var (
			cid        int
			name       string
			declType   string
			notNull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dfltValue, &pk); err != nil {
			return source.Schema{}, errs.New(errs.KindSourceQuery, r.tableName, err)
		}
		tag := normalizeType(declType)
		cols = append(cols, source.Column{
			Name:       name,
			SourceType: tag,
			Nullable:   notNull == 0,
		})
	}
	if err := rows.Err(); err != nil {
		return source.Schema{}, errs.New(errs.KindSourceQuery, r.tableName, err)
	}

	r.isBlob = make([]bool, len(cols))
	for i, c := range cols {
		r.isBlob[i] = c.SourceType == "blob"
	}

	return source.Schema{TableName: r.tableName, Columns: cols}, nil
}

// normalizeType maps a SQLite declared type to one of the column type
// tags (integer/real/text/blob/numeric) the mapper understands,
// following SQLite's own type-affinity rules for anything it doesn't
// recognize outright.
func normalizeType(declared string) string {
	d := strings.ToUpper(declared)
	switch {
	case strings.Contains(d, "INT"):
		return "integer"
	case strings.Contains(d, "BLOB"):
		return "blob"
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"):
		return "real"
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return "text"
	case strings.Contains(d, "NUMERIC"), strings.Contains(d, "DECIMAL"), strings.Contains(d, "BOOL"), strings.Contains(d, "DATE"):
		return "numeric"
	default:
		return "text"
	}
}

// Rows implements source.Reader.
func (r *Reader) Rows(ctx context.Context) (source.RowIter, error) {
	sqlRows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", quoteTable(r.tableName)))
	if err != nil {
		return nil, errs.New(errs.KindSourceQuery, r.tableName, err)
	}
	cols, err := sqlRows.Columns()
	if err != nil {
		sqlRows.Close()
		return nil, errs.New(errs.KindSourceQuery, r.tableName, err)
	}
	isBlob := r.isBlob
	if len(isBlob) != len(cols) {
		isBlob = make([]bool, len(cols))
	}
	return &rowIter{tableName: r.tableName, rows: sqlRows, numCols: len(cols), isBlob: isBlob}, nil
}

// Close releases the database handle. Safe to call more than once.
func (r *Reader) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

type rowIter struct {
	tableName string
	rows      *sql.Rows
	numCols   int
	isBlob    []bool
	emitted   int
}

func (it *rowIter) Emitted() int { return it.emitted }

// Next implements source.RowIter. A statement-level failure becomes a
// SourceQueryError rather than io.EOF, so the caller can tell the two
// apart and increment the error counter instead of treating the table
// as having finished cleanly.
func (it *rowIter) Next(ctx context.Context) ([]interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, io.EOF
	default:
	}

	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, errs.New(errs.KindSourceQuery, it.tableName, err)
		}
		return nil, io.EOF
	}

	values := make([]interface{}, it.numCols)
	ptrs := make([]interface{}, it.numCols)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		return nil, errs.New(errs.KindSourceQuery, it.tableName, err)
	}

	for i, blob := range it.isBlob {
		if !blob {
			continue
		}
		s, ok := values[i].(string)
		if !ok {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errs.New(errs.KindSourceQuery, it.tableName, fmt.Errorf("decoding base64 blob column %d: %w", i, err))
		}
		values[i] = decoded
	}

	it.emitted++
	return values, nil
}

func quoteTable(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var _ source.Reader = (*Reader)(nil)
