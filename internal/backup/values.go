package backup

import (
	"database/sql"
	"encoding/hex"
	"strings"
	"time"
)

// Kind selects the encoder for a column's values
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindBinary
	KindTemporal
	KindNumeric
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindBinary:
		return "binary"
	case KindTemporal:
		return "temporal"
	case KindNumeric:
		return "numeric"
	default:
		return "string"
	}
}

const (
	zeroDateTime = "0000-00-00 00:00:00"
	zeroDate     = "0000-00-00"
)

// Column is the per-table encoding plan for one result column
type Column struct {
	Name     string
	Kind     Kind
	DateOnly bool
}

// Value is one database value tagged with its kind. Raw is the driver's
// textual or binary representation; a NULL has Kind KindNull.
type Value struct {
	Kind     Kind
	Raw      []byte
	DateOnly bool
}

// ColumnsFor derives the encoding plan from result metadata, once per table
func ColumnsFor(types []*sql.ColumnType) []Column {
	cols := make([]Column, len(types))
	for i, ct := range types {
		kind, dateOnly := KindForType(ct.DatabaseTypeName())
		cols[i] = Column{Name: ct.Name(), Kind: kind, DateOnly: dateOnly}
	}
	return cols
}

// KindForType maps a MySQL type name to a value kind
func KindForType(dbType string) (Kind, bool) {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	t = strings.TrimPrefix(t, "UNSIGNED ")
	switch t {
	case "BIT", "BOOL", "BOOLEAN":
		return KindBool, false
	case "BINARY", "VARBINARY", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "GEOMETRY":
		return KindBinary, false
	case "DATE":
		return KindTemporal, true
	case "DATETIME", "TIMESTAMP":
		return KindTemporal, false
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT",
		"DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "YEAR":
		return KindNumeric, false
	}
	return KindString, false
}

// ValueOf tags raw with the column's kind; nil raw is NULL
func (c Column) ValueOf(raw sql.RawBytes) Value {
	if raw == nil {
		return Value{Kind: KindNull}
	}
	return Value{Kind: c.Kind, Raw: raw, DateOnly: c.DateOnly}
}

// AppendSQL appends the SQL literal for v to dst
func (v Value) AppendSQL(dst []byte) []byte {
	switch v.Kind {
	case KindNull:
		return appendNull(dst)
	case KindBool:
		return appendBool(dst, v.Raw)
	case KindBinary:
		return appendBinary(dst, v.Raw)
	case KindTemporal:
		return appendTemporal(dst, v.Raw, v.DateOnly)
	case KindNumeric:
		return appendNumeric(dst, v.Raw)
	default:
		return appendString(dst, v.Raw)
	}
}

func appendNull(dst []byte) []byte {
	return append(dst, "NULL"...)
}

// appendBool writes a single 0x00 or 0x01 byte as 0 or 1. Every other BIT
// value, including the ASCII digits, keeps its exact bits as a hex literal.
func appendBool(dst []byte, raw []byte) []byte {
	if len(raw) == 1 && raw[0] <= 1 {
		return append(dst, '0'+raw[0])
	}
	return appendBinary(dst, raw)
}

func appendBinary(dst []byte, raw []byte) []byte {
	if len(raw) == 0 {
		return append(dst, "''"...)
	}
	dst = append(dst, "0x"...)
	n := len(dst)
	dst = append(dst, make([]byte, hex.EncodedLen(len(raw)))...)
	hex.Encode(dst[n:], raw)
	return dst
}

var temporalLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// appendTemporal normalises to a fixed layout; zero or unparsable dates become the sentinel
func appendTemporal(dst []byte, raw []byte, dateOnly bool) []byte {
	sentinel := zeroDateTime
	if dateOnly {
		sentinel = zeroDate
	}

	s := strings.TrimSpace(string(raw))
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		return appendQuoted(dst, sentinel)
	}

	for _, layout := range temporalLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if dateOnly {
			return appendQuoted(dst, t.Format("2006-01-02"))
		}
		return appendQuoted(dst, t.Format("2006-01-02 15:04:05.999999"))
	}
	return appendQuoted(dst, sentinel)
}

func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '\'')
	dst = append(dst, s...)
	return append(dst, '\'')
}

func appendNumeric(dst []byte, raw []byte) []byte {
	if len(raw) == 0 {
		return append(dst, "''"...)
	}
	return append(dst, raw...)
}

// appendString quotes raw with MySQL escaping
func appendString(dst []byte, raw []byte) []byte {
	dst = append(dst, '\'')
	for _, c := range raw {
		switch c {
		case 0:
			dst = append(dst, '\\', '0')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\'':
			dst = append(dst, '\\', '\'')
		case '"':
			dst = append(dst, '\\', '"')
		case '\x1a':
			dst = append(dst, '\\', 'Z')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			dst = append(dst, c)
		}
	}
	return append(dst, '\'')
}
