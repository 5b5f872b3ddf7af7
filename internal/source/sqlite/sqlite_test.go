package sqlite

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE widgets (id INTEGER NOT NULL, name TEXT, payload BLOB)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO widgets (id, name, payload) VALUES (1, 'gadget', NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO widgets (id, name, payload) VALUES (2, 'gizmo', NULL)`)
	require.NoError(t, err)

	return path
}

func TestListTables(t *testing.T) {
	path := newTestDB(t)

	tables, err := ListTables(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"widgets"}, tables)
}

func TestDescribeReportsDeclaredTypes(t *testing.T) {
	path := newTestDB(t)

	r, err := Open(path, "widgets")
	require.NoError(t, err)
	defer r.Close()

	schema, err := r.Describe(context.Background())
	require.NoError(t, err)
	require.Len(t, schema.Columns, 3)
	assert.Equal(t, "integer", schema.Columns[0].SourceType)
	assert.False(t, schema.Columns[0].Nullable)
	assert.Equal(t, "text", schema.Columns[1].SourceType)
	assert.Equal(t, "blob", schema.Columns[2].SourceType)
}

func TestRowsIteratesInInsertedOrder(t *testing.T) {
	path := newTestDB(t)

	r, err := Open(path, "widgets")
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Describe(context.Background())
	require.NoError(t, err)

	it, err := r.Rows(context.Background())
	require.NoError(t, err)

	var names []string
	for {
		row, err := it.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, row[1].(string))
	}
	assert.Equal(t, []string{"gadget", "gizmo"}, names)
	assert.Equal(t, 2, it.Emitted())
}

func TestListIndexesFindsExplicitIndexesOnly(t *testing.T) {
	path := newTestDB(t)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE UNIQUE INDEX widgets_name_idx ON widgets (name)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE INDEX widgets_payload_idx ON widgets (payload)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	indexes, err := ListIndexes(path, "widgets")
	require.NoError(t, err)
	require.Len(t, indexes, 2)

	byName := map[string]bool{}
	for _, ix := range indexes {
		assert.Equal(t, "widgets", ix.Table)
		byName[ix.Name] = ix.Unique
	}
	assert.Equal(t, true, byName["widgets_name_idx"])
	assert.Equal(t, false, byName["widgets_payload_idx"])
}

func TestListIndexesEmptyWhenTableHasNone(t *testing.T) {
	path := newTestDB(t)

	indexes, err := ListIndexes(path, "widgets")
	require.NoError(t, err)
	assert.Empty(t, indexes)
}

func TestNormalizeTypeAffinity(t *testing.T) {
	cases := map[string]string{
		"INTEGER":         "integer",
		"VARCHAR(255)":    "text",
		"BLOB":            "blob",
		"REAL":            "real",
		"DOUBLE":          "real",
		"NUMERIC(10,2)":   "numeric",
		"BOOLEAN":         "numeric",
		"SOME_WEIRD_TYPE": "text",
	}
	for declared, want := range cases {
		assert.Equal(t, want, normalizeType(declared), declared)
	}
}
