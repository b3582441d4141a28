package models

import (
	"fmt"
	"time"
)

// ColumnDataRef is the column every Result Table row carries with its reference date
const ColumnDataRef = "data_ref"

// DateLayout is the wire format used for reference dates (query params, keys, CSV)
const DateLayout = "2006-01-02"

// ColumnKind describes how the cells of a column are typed
type ColumnKind string

const (
	KindString ColumnKind = "string"
	KindFloat  ColumnKind = "float"
	KindInt    ColumnKind = "int"
	KindDate   ColumnKind = "date"
)

// Source records which acquisition strategy produced a table
type Source string

const (
	SourceRendered  Source = "rendered"
	SourceDirect    Source = "direct"
	SourceSynthetic Source = "synthetic"
)

// Column is a named, typed column of a ResultTable
type Column struct {
	Name string     `json:"name"`
	Kind ColumnKind `json:"kind"`
}

// Row holds one cell per table column, in column order.
// Cells are string, float64, int64, time.Time or nil.
type Row []interface{}

// ResultTable is the tabular output of a fetch: one row per listed instrument
type ResultTable struct {
	ReferenceDate time.Time `json:"reference_date"`
	Source        Source    `json:"source"`
	Columns       []Column  `json:"columns"`
	Rows          []Row     `json:"rows"`
}

// NewResultTable creates an empty table for the given reference date
func NewResultTable(date time.Time, source Source, columns ...Column) *ResultTable {
	return &ResultTable{
		ReferenceDate: TruncateDate(date),
		Source:        source,
		Columns:       append([]Column(nil), columns...),
	}
}

// Len returns the number of rows
func (t *ResultTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnNames returns the column names in order
func (t *ResultTable) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column, or -1
func (t *ResultTable) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the table has a column with this name
func (t *ResultTable) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// AddColumn appends a column, filling existing rows with nil
func (t *ResultTable) AddColumn(col Column) error {
	if t.HasColumn(col.Name) {
		return fmt.Errorf("column %q already exists", col.Name)
	}
	t.Columns = append(t.Columns, col)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], nil)
	}
	return nil
}

// AppendRow adds a row; the number of cells must match the number of columns
func (t *ResultTable) AppendRow(cells ...interface{}) error {
	if len(cells) != len(t.Columns) {
		return fmt.Errorf("row has %d cells, table has %d columns", len(cells), len(t.Columns))
	}
	t.Rows = append(t.Rows, Row(cells))
	return nil
}

// Value returns the cell at row i of the named column
func (t *ResultTable) Value(i int, name string) (interface{}, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 || i < 0 || i >= len(t.Rows) || idx >= len(t.Rows[i]) {
		return nil, false
	}
	return t.Rows[i][idx], true
}

// Values returns every cell of the named column
func (t *ResultTable) Values(name string) []interface{} {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	values := make([]interface{}, 0, len(t.Rows))
	for _, row := range t.Rows {
		if idx < len(row) {
			values = append(values, row[idx])
		} else {
			values = append(values, nil)
		}
	}
	return values
}

// TagReferenceDate sets the data_ref column to date on every row,
// adding the column if the table does not have one yet.
func (t *ResultTable) TagReferenceDate(date time.Time) {
	date = TruncateDate(date)
	t.ReferenceDate = date

	idx := t.ColumnIndex(ColumnDataRef)
	if idx < 0 {
		t.Columns = append(t.Columns, Column{Name: ColumnDataRef, Kind: KindDate})
		idx = len(t.Columns) - 1
	} else {
		t.Columns[idx].Kind = KindDate
	}

	for i := range t.Rows {
		for len(t.Rows[i]) <= idx {
			t.Rows[i] = append(t.Rows[i], nil)
		}
		t.Rows[i][idx] = date
	}
}

// TruncateDate drops the time of day, keeping the calendar date in UTC
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseReferenceDate parses a YYYY-MM-DD date
func ParseReferenceDate(s string) (time.Time, error) {
	date, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reference date %q: %w", s, err)
	}
	return date, nil
}

// ReferenceDateOrToday returns the truncated date, or today when date is zero
func ReferenceDateOrToday(date time.Time, now time.Time) time.Time {
	if date.IsZero() {
		return TruncateDate(now)
	}
	return TruncateDate(date)
}

// FormatDate formats a date as YYYY-MM-DD
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
