// Package dbf reads the legacy fixed-layout dBase III/IV record
// format. No other reader in this codebase shares its binary layout;
// the header and field-descriptor parsing below follow the dBase
// III/IV format directly rather than being adapted from another
// reader's structure.
package dbf

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Abzwingten/pgloader/internal/errs"
	"github.com/Abzwingten/pgloader/internal/source"
)

const (
	headerSize      = 32
	fieldDescSize   = 32
	fieldTerminator = 0x0D
	deletedFlagByte = '*'
)

// field mirrors one 32-byte field descriptor from the header.
type field struct {
	name     string
	typeTag  byte
	length   byte
	decimals byte
}

// Reader implements source.Reader for a DBF file.
type Reader struct {
	path      string
	tableName string

	f      *os.File
	fields []field

	recordCount int
	recordSize  int
	headerLen   int
}

// Open opens a DBF file and parses its header and field descriptors,
// without yet iterating records. tableName is used as the resulting
// schema's table name (the file's base name, by convention; the
// caller supplies it since only the orchestrator knows the naming
// policy for the target).
func Open(path, tableName string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.KindSourceFormat, tableName, err)
	}

	r := &Reader{path: path, tableName: tableName, f: f}
	if err := r.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readHeader() error {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r.f, hdr); err != nil {
		return errs.New(errs.KindSourceFormat, r.tableName, fmt.Errorf("reading dbf header: %w", err))
	}

	recordCount := binary.LittleEndian.Uint32(hdr[4:8])
	headerLen := binary.LittleEndian.Uint16(hdr[8:10])
	recordSize := binary.LittleEndian.Uint16(hdr[10:12])
	if headerLen < headerSize || recordSize == 0 {
		return errs.New(errs.KindSourceFormat, r.tableName, fmt.Errorf("malformed dbf header: header-size=%d record-size=%d", headerLen, recordSize))
	}

	fieldBytes := int(headerLen) - headerSize
	if fieldBytes <= 0 {
		return errs.New(errs.KindSourceFormat, r.tableName, fmt.Errorf("malformed dbf header: no field descriptors"))
	}
	raw := make([]byte, fieldBytes)
	if _, err := io.ReadFull(r.f, raw); err != nil {
		return errs.New(errs.KindSourceFormat, r.tableName, fmt.Errorf("reading dbf field descriptors: %w", err))
	}

	var fields []field
	for off := 0; off+1 <= len(raw); off += fieldDescSize {
		if raw[off] == fieldTerminator {
			break
		}
		if off+fieldDescSize > len(raw) {
			return errs.New(errs.KindSourceFormat, r.tableName, fmt.Errorf("truncated field descriptor at offset %d", off))
		}
		desc := raw[off : off+fieldDescSize]
		name := strings.TrimRight(string(desc[0:11]), "\x00")
		fields = append(fields, field{
			name:     name,
			typeTag:  desc[11],
			length:   desc[16],
			decimals: desc[17],
		})
	}
	if len(fields) == 0 {
		return errs.New(errs.KindSourceFormat, r.tableName, fmt.Errorf("malformed dbf header: zero fields"))
	}

	r.recordCount = int(recordCount)
	r.recordSize = int(recordSize)
	r.headerLen = int(headerLen)
	r.fields = fields
	return nil
}

// Describe implements source.Reader.
func (r *Reader) Describe(ctx context.Context) (source.Schema, error) {
	cols := make([]source.Column, len(r.fields))
	for i, f := range r.fields {
		cols[i] = source.Column{
			Name:       f.name,
			SourceType: string(f.typeTag),
			Length:     int(f.length),
			Decimals:   int(f.decimals),
			Nullable:   true,
		}
	}
	return source.Schema{TableName: r.tableName, Columns: cols}, nil
}

// Rows implements source.Reader. Iteration reads exactly recordCount
// records from the header, in file order, then reports io.EOF. A
// record's deletion-flag byte is not inspected: record-count is the
// row count this reader produces, full stop.
func (r *Reader) Rows(ctx context.Context) (source.RowIter, error) {
	if _, err := r.f.Seek(int64(r.headerLen), io.SeekStart); err != nil {
		return nil, errs.New(errs.KindSourceFormat, r.tableName, err)
	}
	return &rowIter{r: r, br: bufio.NewReaderSize(r.f, 64*1024)}, nil
}

// Close releases the file handle. Safe to call more than once.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

type rowIter struct {
	r         *Reader
	br        *bufio.Reader
	remaining int
	emitted   int
	started   bool
}

func (it *rowIter) Emitted() int { return it.emitted }

func (it *rowIter) Next(ctx context.Context) ([]interface{}, error) {
	if !it.started {
		it.remaining = it.r.recordCount
		it.started = true
	}
	if it.remaining <= 0 {
		return nil, io.EOF
	}

	select {
	case <-ctx.Done():
		return nil, io.EOF
	default:
	}

	buf := make([]byte, it.r.recordSize)
	it.remaining--
	if _, err := io.ReadFull(it.br, buf); err != nil {
		return nil, errs.New(errs.KindSourceFormat, it.r.tableName, fmt.Errorf("truncated dbf record stream: %w", err))
	}

	row := make([]interface{}, len(it.r.fields))
	off := 1 // leading deletion-flag byte
	for i, f := range it.r.fields {
		raw := string(buf[off : off+int(f.length)])
		row[i] = raw
		off += int(f.length)
	}
	it.emitted++
	return row, nil
}

var _ source.Reader = (*Reader)(nil)
