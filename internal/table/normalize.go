package table

import (
	"fmt"
	"strings"
	"unicode"
)

// LocationColumn is the derived column holding the whitespace-stripped region
// name used as the join key for map geometry.
const LocationColumn = "Location"

const (
	DefaultLocationLabel = "地区"
	DefaultTotalLabel    = "全国"
)

// ParseError reports a raw table too degenerate to normalize.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse table: " + e.Reason
}

// Options names the labels Normalize recognizes.
type Options struct {
	// LocationLabel is the synthesized header name of the region column.
	LocationLabel string
	// TotalLabel is the Location value of the nationwide aggregate row.
	TotalLabel string
}

// DefaultOptions returns the labels used by the census tables.
func DefaultOptions() Options {
	return Options{
		LocationLabel: DefaultLocationLabel,
		TotalLabel:    DefaultTotalLabel,
	}
}

// Row is one data row of a normalized table.
type Row struct {
	Index  int               `json:"index"`
	Values map[string]string `json:"values"`
}

// Get returns the value of column in this row.
func (r Row) Get(column string) (string, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// Location returns the derived Location value, if the table has one.
func (r Row) Location() (string, bool) {
	return r.Get(LocationColumn)
}

// Normalized is a census table reduced to a title, unique column names and
// data rows.
type Normalized struct {
	Title   string   `json:"title"`
	Marker  string   `json:"marker"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// HasColumn reports whether name is one of the table's columns.
func (t *Normalized) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// HasLocation reports whether a Location column was derived.
func (t *Normalized) HasLocation() bool {
	return t.HasColumn(LocationColumn)
}

// Normalize converts a raw grid into a Normalized table. It is pure: the same
// input always yields the same output.
//
// The value at row 1, column 0 is the header marker; every row whose first
// cell equals it is a header row. Each column's header values are merged with
// MergeHeader. Data rows are all rows after the title row that are not header
// rows. When a column is named opts.LocationLabel, a Location value is derived
// for every row and the row whose Location equals opts.TotalLabel is dropped.
func Normalize(raw Raw, opts Options) (*Normalized, error) {
	if raw.Rows() < 2 {
		return nil, &ParseError{Reason: fmt.Sprintf("need at least 2 rows to find the header marker, got %d", raw.Rows())}
	}
	width := raw.Cols()
	if width == 0 {
		return nil, &ParseError{Reason: "table has no columns"}
	}

	marker := raw.Cell(1, 0)

	var headerRows []int
	for r := 0; r < raw.Rows(); r++ {
		if raw.Cell(r, 0) == marker {
			headerRows = append(headerRows, r)
		}
	}

	// Two column indices can merge to the same name; the first one wins.
	columns := make([]string, 0, width)
	keep := make([]int, 0, width)
	seen := map[string]bool{}
	for c := 0; c < width; c++ {
		values := make([]string, 0, len(headerRows))
		for _, r := range headerRows {
			values = append(values, raw.Cell(r, c))
		}
		name := MergeHeader(values)
		if seen[name] {
			continue
		}
		seen[name] = true
		columns = append(columns, name)
		keep = append(keep, c)
	}

	rows := make([]Row, 0, raw.Rows())
	for r := 1; r < raw.Rows(); r++ {
		if raw.Cell(r, 0) == marker {
			continue
		}
		values := make(map[string]string, len(columns)+1)
		for i, c := range keep {
			values[columns[i]] = raw.Cell(r, c)
		}
		rows = append(rows, Row{Values: values})
	}

	t := &Normalized{
		Title:   raw.Cell(0, 0),
		Marker:  marker,
		Columns: columns,
		Rows:    rows,
	}

	if opts.LocationLabel != "" && t.HasColumn(opts.LocationLabel) {
		t.deriveLocation(opts)
	}

	for i := range t.Rows {
		t.Rows[i].Index = i
	}
	return t, nil
}

func (t *Normalized) deriveLocation(opts Options) {
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		loc := StripSpace(row.Values[opts.LocationLabel])
		if opts.TotalLabel != "" && loc == opts.TotalLabel {
			continue
		}
		row.Values[LocationColumn] = loc
		kept = append(kept, row)
	}
	t.Rows = kept

	if !t.HasColumn(LocationColumn) {
		t.Columns = append(t.Columns, LocationColumn)
	}
}

// MergeHeader merges the header values of one column, top to bottom, into a
// single label. A value already seen higher up is dropped, the remaining
// values have all whitespace removed, and empty results are skipped before
// joining with "-".
func MergeHeader(values []string) string {
	seen := make(map[string]bool, len(values))
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		if s := StripSpace(v); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "-")
}

// StripSpace removes every Unicode whitespace character from s, including the
// ideographic space the census pages pad labels with.
func StripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
