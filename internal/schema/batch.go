package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the semantic type of a column. Values in a batch must be one of
// string, int64, float64, or time.Time (or nil for missing values).
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindTime
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindTime:
		return "time"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Column is a named, typed column in a batch.
type Column struct {
	Name string
	Kind Kind
}

// Batch is an ordered set of rows sharing one column layout.
// Rows hold values positionally, matching Columns.
type Batch struct {
	Columns []Column
	Rows    [][]any
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// Empty reports whether the batch carries no rows.
func (b *Batch) Empty() bool {
	return b.Len() == 0
}

// ColumnNames returns the column names in order.
func (b *Batch) ColumnNames() []string {
	names := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the index of the named column, or -1 if absent.
func (b *Batch) Column(name string) int {
	for i, c := range b.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Infer builds a typed batch from string column names and untyped rows.
// The kind of each column is taken from the first non-nil value found in
// that column; columns with no values default to KindString.
//
// Returns an error if a row's width does not match the column count or a
// value is not one of the supported scalar types.
func Infer(columns []string, rows [][]any) (*Batch, error) {
	cols := make([]Column, len(columns))
	for i, name := range columns {
		cols[i] = Column{Name: name, Kind: KindString}
	}

	resolved := make([]bool, len(columns))
	for ri, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", ri, len(row), len(columns))
		}
		for ci, v := range row {
			if v == nil || resolved[ci] {
				continue
			}
			k, err := kindOf(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", columns[ci], err)
			}
			cols[ci].Kind = k
			resolved[ci] = true
		}
	}

	return &Batch{Columns: cols, Rows: rows}, nil
}

func kindOf(v any) (Kind, error) {
	switch v.(type) {
	case string:
		return KindString, nil
	case int64:
		return KindInt, nil
	case float64:
		return KindFloat, nil
	case time.Time:
		return KindTime, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

// CoerceFloat converts string values in the named columns to float64 in
// place and updates the column kinds. Unparseable or empty strings become
// nil. Columns that are already numeric are left alone.
func (b *Batch) CoerceFloat(names ...string) {
	for _, name := range names {
		ci := b.Column(name)
		if ci < 0 || b.Columns[ci].Kind == KindFloat {
			continue
		}
		for _, row := range b.Rows {
			s, ok := row[ci].(string)
			if !ok {
				continue
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				row[ci] = nil
				continue
			}
			row[ci] = f
		}
		b.Columns[ci].Kind = KindFloat
	}
}

// WorkUnit is one addressable piece of work for a sync run: a security
// code, a trading date, a concept code. Params carry whatever the data
// source needs to fetch it. Units are immutable once enumerated.
type WorkUnit struct {
	ID     string
	Params map[string]string
}

// Param returns the named parameter, or def when absent.
func (u WorkUnit) Param(name, def string) string {
	if v, ok := u.Params[name]; ok {
		return v
	}
	return def
}
