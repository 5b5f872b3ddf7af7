package dbf

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestDBF builds a minimal dBase III file with one "C" field
// ("NAME", width 5) and the given records (each a 5-byte name, no
// leading deletion flag supplied by the caller).
func writeTestDBF(t *testing.T, records []string, deleted []bool) string {
	t.Helper()

	const fieldWidth = 5
	recordSize := 1 + fieldWidth // deletion flag + NAME

	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(records)))
	binary.LittleEndian.PutUint16(hdr[8:10], uint16(headerSize+fieldDescSize+1))
	binary.LittleEndian.PutUint16(hdr[10:12], uint16(recordSize))

	fieldDesc := make([]byte, fieldDescSize)
	copy(fieldDesc[0:11], "NAME")
	fieldDesc[11] = 'C'
	fieldDesc[16] = byte(fieldWidth)

	path := filepath.Join(t.TempDir(), "test.dbf")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write(hdr)
	require.NoError(t, err)
	_, err = f.Write(fieldDesc)
	require.NoError(t, err)
	_, err = f.Write([]byte{fieldTerminator})
	require.NoError(t, err)

	for i, rec := range records {
		flag := byte(' ')
		if deleted != nil && deleted[i] {
			flag = deletedFlagByte
		}
		_, err = f.Write([]byte{flag})
		require.NoError(t, err)
		padded := rec
		for len(padded) < fieldWidth {
			padded += " "
		}
		_, err = f.Write([]byte(padded[:fieldWidth]))
		require.NoError(t, err)
	}

	return path
}

func TestDescribeReturnsFieldsFromHeader(t *testing.T) {
	path := writeTestDBF(t, []string{"Alice"}, nil)

	r, err := Open(path, "people")
	require.NoError(t, err)
	defer r.Close()

	schema, err := r.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "people", schema.TableName)
	require.Len(t, schema.Columns, 1)
	assert.Equal(t, "NAME", schema.Columns[0].Name)
	assert.Equal(t, "C", schema.Columns[0].SourceType)
	assert.Equal(t, 5, schema.Columns[0].Length)
}

func TestRowsYieldsExactlyRecordCount(t *testing.T) {
	path := writeTestDBF(t, []string{"Alice", "Bob  "}, nil)

	r, err := Open(path, "people")
	require.NoError(t, err)
	defer r.Close()

	it, err := r.Rows(context.Background())
	require.NoError(t, err)

	var got []string
	for {
		row, err := it.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, row[0].(string))
	}
	assert.Equal(t, []string{"Alice", "Bob  "}, got)
	assert.Equal(t, 2, it.Emitted())
}

func TestRowsCountsDeletedRecordsLikeAnyOther(t *testing.T) {
	path := writeTestDBF(t, []string{"Alice", "Bob  ", "Cara "}, []bool{false, true, false})

	r, err := Open(path, "people")
	require.NoError(t, err)
	defer r.Close()

	it, err := r.Rows(context.Background())
	require.NoError(t, err)

	var got []string
	for {
		row, err := it.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, row[0].(string))
	}
	assert.Equal(t, []string{"Alice", "Bob  ", "Cara "}, got)
	assert.Equal(t, 3, it.Emitted())
}

func TestOpenRejectsMalformedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.dbf")
	require.NoError(t, os.WriteFile(path, []byte{0, 0, 0, 0}, 0o644))

	_, err := Open(path, "bad")
	assert.Error(t, err)
}

func TestRowsReportsTruncatedStream(t *testing.T) {
	path := writeTestDBF(t, []string{"Alice"}, nil)
	// truncate the file body so the one declared record can't be read in full.
	require.NoError(t, os.Truncate(path, headerSize+fieldDescSize+1+1))

	r, err := Open(path, "people")
	require.NoError(t, err)
	defer r.Close()

	it, err := r.Rows(context.Background())
	require.NoError(t, err)

	_, err = it.Next(context.Background())
	assert.Error(t, err)
}
