package table

// Raw is a rectangular grid of text cells as extracted from a page. Cell (0,0)
// holds the table title.
type Raw struct {
	Cells [][]string `json:"cells"`
}

// NewRaw copies cells into a Raw, padding short rows with empty strings so
// every row has the same width.
func NewRaw(cells [][]string) Raw {
	width := 0
	for _, row := range cells {
		if len(row) > width {
			width = len(row)
		}
	}

	out := make([][]string, len(cells))
	for i, row := range cells {
		padded := make([]string, width)
		copy(padded, row)
		out[i] = padded
	}
	return Raw{Cells: out}
}

// Rows returns the number of rows.
func (r Raw) Rows() int {
	return len(r.Cells)
}

// Cols returns the width of the widest row.
func (r Raw) Cols() int {
	width := 0
	for _, row := range r.Cells {
		if len(row) > width {
			width = len(row)
		}
	}
	return width
}

// Cell returns the text at (row, col), or "" outside the grid.
func (r Raw) Cell(row, col int) string {
	if row < 0 || row >= len(r.Cells) {
		return ""
	}
	cells := r.Cells[row]
	if col < 0 || col >= len(cells) {
		return ""
	}
	return cells[col]
}
