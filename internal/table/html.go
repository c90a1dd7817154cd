package table

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Line breaks, or runs of two or more spaces (including ideographic and
// non-breaking spaces), collapse to a single space.
var reCellSpace = regexp.MustCompile(`[\r\n]+|[\s\p{Zs}]{2,}`)

// span is a rowspan cell still covering rows below the one it started in.
type span struct {
	remaining int
	text      string
}

// ParseHTML extracts the first table of an HTML document into a Raw grid.
// Cells spanning several columns or rows are repeated in every position they
// cover.
func ParseHTML(r io.Reader) (Raw, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Raw{}, fmt.Errorf("parsing HTML: %w", err)
	}

	tbl := doc.Find("table").First()
	if tbl.Length() == 0 {
		return Raw{}, &ParseError{Reason: "document contains no table"}
	}

	// Rows of nested tables belong to those tables, not this one.
	rows := tbl.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(tbl)
	})

	grid := make([][]string, 0, rows.Length())
	pending := map[int]*span{}

	rows.Each(func(_ int, tr *goquery.Selection) {
		var row []string
		put := func(col int, text string) {
			for len(row) <= col {
				row = append(row, "")
			}
			row[col] = text
		}

		col := 0
		fillPending := func() {
			for {
				sp, ok := pending[col]
				if !ok {
					return
				}
				put(col, sp.text)
				sp.remaining--
				if sp.remaining == 0 {
					delete(pending, col)
				}
				col++
			}
		}

		tr.ChildrenFiltered("td,th").Each(func(_ int, cell *goquery.Selection) {
			fillPending()

			text := cleanCellText(cell.Text())
			colspan := spanAttr(cell, "colspan")
			rowspan := spanAttr(cell, "rowspan")

			for i := 0; i < colspan; i++ {
				put(col+i, text)
				if rowspan > 1 {
					pending[col+i] = &span{remaining: rowspan - 1, text: text}
				}
			}
			col += colspan
		})

		// Spans continuing past the last cell of this row.
		for c := range pending {
			if c < col {
				continue
			}
			sp := pending[c]
			put(c, sp.text)
			sp.remaining--
			if sp.remaining == 0 {
				delete(pending, c)
			}
		}

		if len(row) > 0 {
			grid = append(grid, row)
		}
	})

	return NewRaw(grid), nil
}

func cleanCellText(s string) string {
	return strings.TrimSpace(reCellSpace.ReplaceAllString(s, " "))
}

func spanAttr(cell *goquery.Selection, name string) int {
	value, ok := cell.Attr(name)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
