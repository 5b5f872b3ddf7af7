package source

import (
	"fmt"
	"strings"
)

// Mapping pairs a PostgreSQL type name with the default transform for
// a source type tag.
type Mapping struct {
	PGType    string
	Transform Transform
}

// dbfMappings maps each dBase field type tag to its PostgreSQL column
// type and default transform.
var dbfMappings = map[string]Mapping{
	"C": {PGType: "text", Transform: trimRight},
	"N": {PGType: "numeric", Transform: Identity},
	"L": {PGType: "boolean", Transform: dbfBool},
	"D": {PGType: "date", Transform: dbfDate},
	"M": {PGType: "text", Transform: Identity},
}

// sqliteMappings maps each normalized SQLite type tag to its
// PostgreSQL column type and default transform. Blob columns are
// recognized from a declared type containing "blob"
// and are base64-decoded from the text values the driver returns for
// them (decodeBlob lives in the sqlite reader, since only it knows
// which columns were declared BLOB).
var sqliteMappings = map[string]Mapping{
	"integer": {PGType: "bigint", Transform: Identity},
	"real":    {PGType: "double precision", Transform: Identity},
	"text":    {PGType: "text", Transform: Identity},
	"blob":    {PGType: "bytea", Transform: Identity},
	"numeric": {PGType: "numeric", Transform: Identity},
}

// MapDBF maps a DBF Column to (pg column definition, transform).
func MapDBF(c Column) (string, Transform) {
	return mapColumn(c, dbfMappings)
}

// MapSQLite maps a SQLite Column to (pg column definition, transform).
func MapSQLite(c Column) (string, Transform) {
	return mapColumn(c, sqliteMappings)
}

func mapColumn(c Column, table map[string]Mapping) (string, Transform) {
	m, ok := table[strings.ToLower(c.SourceType)]
	if !ok {
		m = Mapping{PGType: "text", Transform: Identity}
	}
	return fmt.Sprintf("%s %s", QuoteIdentifier(c.Name), m.PGType), m.Transform
}

// QuoteIdentifier applies the identifier-case policy: a name already
// wrapped in double quotes is preserved verbatim (the source declared
// its own casing); otherwise it is lower-cased and quoted.
func QuoteIdentifier(name string) string {
	if strings.HasPrefix(name, `"`) && strings.HasSuffix(name, `"`) && len(name) >= 2 {
		return name
	}
	lowered := strings.ToLower(name)
	escaped := strings.ReplaceAll(lowered, `"`, `""`)
	return `"` + escaped + `"`
}

// trimRight implements the DBF "C" transform: right-trim padding
// spaces. Idempotent.
func trimRight(raw interface{}) (interface{}, error) {
	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}
	return strings.TrimRight(s, " "), nil
}

// dbfBool implements the DBF "L" transform: "?" (unset) and the empty
// string map to nil (the null sentinel downstream), "Y"/"y"/"T"/"t" to
// true, anything else to false.
func dbfBool(raw interface{}) (interface{}, error) {
	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}
	switch s {
	case "?", "":
		return nil, nil
	case "Y", "y", "T", "t":
		return true, nil
	default:
		return false, nil
	}
}

// dbfDate implements the DBF "D" transform: "YYYYMMDD" -> "YYYY-MM-DD",
// and an empty/blank value -> nil (the null sentinel).
func dbfDate(raw interface{}) (interface{}, error) {
	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if len(s) != 8 {
		return nil, fmt.Errorf("dbf date transform: want 8 digits, got %q", s)
	}
	return s[0:4] + "-" + s[4:6] + "-" + s[6:8], nil
}
