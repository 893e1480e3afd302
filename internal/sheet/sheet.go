// Package sheet provides generic access to flat header+rows tables. It is the
// only persistence layer in the system: there is no relational schema on top,
// rows are ordered sequences of cell values and the header row is the sole
// addressing mechanism.
package sheet

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrTableNotFound = errors.New("sheet: table not found")
	ErrRowOutOfRange = errors.New("sheet: row out of range")
)

// Row is one record of a table, parallel to the table's header row.
type Row []string

// Clone returns a copy safe to mutate.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Store is the table-store contract. Row positions are 1-based over data rows;
// the header row is not addressable. Implementations must keep positions
// stable except across DeleteRow and ClearAndRewrite, which renumber.
type Store interface {
	// ReadAll returns the header row and all data rows.
	ReadAll(ctx context.Context, table string) (headers []string, rows []Row, err error)
	// AppendRows adds rows after the current last data row.
	AppendRows(ctx context.Context, table string, rows []Row) error
	// WriteRow replaces the data row at pos.
	WriteRow(ctx context.Context, table string, pos int, row Row) error
	// WriteRange replaces len(rows) data rows starting at start.
	WriteRange(ctx context.Context, table string, start int, rows []Row) error
	// SetCell writes a single header-addressed cell of the data row at pos.
	SetCell(ctx context.Context, table string, pos int, column, value string) error
	// DeleteRow removes the data row at pos; later rows shift up.
	DeleteRow(ctx context.Context, table string, pos int) error
	// ClearAndRewrite replaces all data rows, keeping the header row.
	ClearAndRewrite(ctx context.Context, table string, rows []Row) error
	// LastRow returns the position of the last data row (0 when empty).
	LastRow(ctx context.Context, table string) (int, error)
	// EnsureTable creates the table with the given headers if it is missing.
	EnsureTable(ctx context.Context, table string, headers []string) error
}

// HeaderMap resolves column names to 0-based indexes.
type HeaderMap map[string]int

func Headers(headers []string) HeaderMap {
	m := make(HeaderMap, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, ok := m[h]; !ok {
			m[h] = i
		}
	}
	return m
}

func (m HeaderMap) Col(name string) (int, bool) {
	i, ok := m[name]
	return i, ok
}

// Value returns the named cell of row, or "" when the column is missing or
// the row is short.
func (m HeaderMap) Value(row Row, name string) string {
	i, ok := m[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// Set writes the named cell of row in place, growing the row as needed.
// It reports whether the column exists.
func (m HeaderMap) Set(row *Row, name, value string) bool {
	i, ok := m[name]
	if !ok {
		return false
	}
	for len(*row) <= i {
		*row = append(*row, "")
	}
	(*row)[i] = value
	return true
}

// SameHeaders reports whether two header rows are structurally identical:
// same columns in the same order.
func SameHeaders(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimSpace(a[i]) != strings.TrimSpace(b[i]) {
			return false
		}
	}
	return true
}
