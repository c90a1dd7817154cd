// Package projection turns one column of a normalized table into the
// (location, value) pairs a choropleth map is drawn from.
package projection

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pfrederiksen/geodash/internal/table"
)

var (
	// ErrColumnNotFound is returned when the requested column is not in the table.
	ErrColumnNotFound = errors.New("column not found")
	// ErrNoLocation is returned for tables without a derived Location column.
	ErrNoLocation = errors.New("table has no location column")
)

// CoercionError reports a cell of the value column that is not a number.
type CoercionError struct {
	Row      int
	Location string
	Column   string
	Value    string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("column %q is not numeric: row %d (%s) has %q", e.Column, e.Row, e.Location, e.Value)
}

// Point is one location and its value.
type Point struct {
	Location string  `json:"location"`
	Value    float64 `json:"value"`
}

// Dataset is a map-ready projection of one table column.
type Dataset struct {
	Title  string  `json:"title"`
	Column string  `json:"column"`
	Points []Point `json:"points"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Locations returns the locations of the dataset in row order.
func (d *Dataset) Locations() []string {
	out := make([]string, len(d.Points))
	for i, p := range d.Points {
		out[i] = p.Location
	}
	return out
}

// Project pairs every row's Location with its value in column. The whole
// projection fails with *CoercionError if any value is not numeric; no
// partial dataset is returned.
func Project(t *table.Normalized, column string) (*Dataset, error) {
	if !t.HasColumn(column) {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}
	if !t.HasLocation() {
		return nil, ErrNoLocation
	}

	d := &Dataset{
		Title:  t.Title,
		Column: column,
		Points: make([]Point, 0, len(t.Rows)),
	}

	for _, row := range t.Rows {
		loc, _ := row.Location()
		raw, _ := row.Get(column)
		v, ok := ParseNumber(raw)
		if !ok {
			return nil, &CoercionError{
				Row:      row.Index,
				Location: loc,
				Column:   column,
				Value:    raw,
			}
		}
		d.Points = append(d.Points, Point{Location: loc, Value: v})
	}

	if len(d.Points) > 0 {
		d.Min, d.Max = math.Inf(1), math.Inf(-1)
		for _, p := range d.Points {
			d.Min = math.Min(d.Min, p.Value)
			d.Max = math.Max(d.Max, p.Value)
		}
	}
	return d, nil
}

// ParseNumber parses a table cell as a finite number. Surrounding whitespace
// is ignored.
func ParseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// NumericColumns lists, in column order, the columns other than the location
// columns whose every cell parses as a number. Tables without rows or without
// a Location column have none.
func NumericColumns(t *table.Normalized) []string {
	out := []string{}
	if len(t.Rows) == 0 || !t.HasLocation() {
		return out
	}

	for _, col := range t.Columns {
		if col == table.LocationColumn {
			continue
		}
		numeric := true
		for _, row := range t.Rows {
			v, _ := row.Get(col)
			if _, ok := ParseNumber(v); !ok {
				numeric = false
				break
			}
		}
		if numeric {
			out = append(out, col)
		}
	}
	return out
}
