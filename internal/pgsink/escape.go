// Package pgsink streams rows from a queue.RowQueue into PostgreSQL's
// COPY FROM STDIN bulk-ingest text protocol.
package pgsink

import (
	"fmt"
	"strings"
	"time"
)

// FormatValue renders a single Go value using the COPY text-format
// escape rules: the null sentinel is \N; backslash, tab, newline, and
// carriage return are backslash-escaped; booleans render as t/f; dates
// as YYYY-MM-DD; byte arrays as \x-hex.
func FormatValue(v interface{}) (string, error) {
	if v == nil {
		return `\N`, nil
	}
	switch x := v.(type) {
	case string:
		return escapeText(x), nil
	case bool:
		if x {
			return "t", nil
		}
		return "f", nil
	case []byte:
		return `\x` + hexEncode(x), nil
	case time.Time:
		return x.Format("2006-01-02"), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x), nil
	case float32, float64:
		return fmt.Sprintf("%v", x), nil
	default:
		return "", fmt.Errorf("pgsink: unsupported value type %T", v)
	}
}

// escapeText backslash-escapes backslash, tab, newline, and carriage
// return, per the COPY text format.
func escapeText(s string) string {
	if !strings.ContainsAny(s, "\\\t\n\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

const hexDigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

// FormatRow renders a full row as one tab-separated, newline-terminated
// COPY record. It returns an error without writing a partial row if any
// value fails to format.
func FormatRow(row []interface{}) (string, error) {
	fields := make([]string, len(row))
	for i, v := range row {
		s, err := FormatValue(v)
		if err != nil {
			return "", fmt.Errorf("column %d: %w", i, err)
		}
		fields[i] = s
	}
	return strings.Join(fields, "\t") + "\n", nil
}
