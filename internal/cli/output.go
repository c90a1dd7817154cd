package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pfrederiksen/geodash/internal/catalog"
	"github.com/pfrederiksen/geodash/internal/journal"
	"github.com/pfrederiksen/geodash/internal/projection"
	"github.com/pfrederiksen/geodash/internal/table"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// CatalogResult is the JSON form of the catalog command.
type CatalogResult struct {
	Count   int                 `json:"count"`
	Entries []catalog.Entry     `json:"entries"`
	Changes *catalog.DiffResult `json:"changes,omitempty"`
}

// TableResult is the JSON form of the show command.
type TableResult struct {
	Title     string              `json:"title"`
	Columns   []string            `json:"columns"`
	Rows      []map[string]string `json:"rows"`
	RowCount  int                 `json:"row_count"`
	Truncated bool                `json:"truncated,omitempty"`
}

// WriteCatalog writes catalog entries.
func WriteCatalog(w io.Writer, entries []catalog.Entry, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, CatalogResult{Count: len(entries), Entries: entries})
	case FormatText:
		if len(entries) == 0 {
			fmt.Fprintln(w, "No tables found.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for i, e := range entries {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", i, e.Path, e.Name)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(w, "\nTotal: %d tables\n", len(entries))
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteReload writes a refreshed catalog followed by what changed since the
// previous one.
func WriteReload(w io.Writer, entries []catalog.Entry, diff *catalog.DiffResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, CatalogResult{Count: len(entries), Entries: entries, Changes: diff})
	case FormatText:
		if err := WriteCatalog(w, entries, format); err != nil {
			return err
		}
		if diff == nil || diff.Empty() {
			fmt.Fprintln(w, "No changes.")
			return nil
		}
		fmt.Fprintln(w)
		for _, e := range diff.Added {
			fmt.Fprintf(w, "+ %s  %s\n", e.Path, e.Name)
		}
		for _, e := range diff.Removed {
			fmt.Fprintf(w, "- %s  %s\n", e.Path, e.Name)
		}
		for _, r := range diff.Renamed {
			fmt.Fprintf(w, "~ %s  %s -> %s\n", r.Path, r.OldName, r.NewName)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteTable writes a normalized table. A positive limit caps the number of
// rows written.
func WriteTable(w io.Writer, t *table.Normalized, format OutputFormat, limit int) error {
	rows := t.Rows
	truncated := false
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
		truncated = true
	}

	switch format {
	case FormatJSON:
		result := TableResult{
			Title:     t.Title,
			Columns:   t.Columns,
			Rows:      make([]map[string]string, len(rows)),
			RowCount:  len(t.Rows),
			Truncated: truncated,
		}
		for i, row := range rows {
			result.Rows[i] = row.Values
		}
		return writeJSON(w, result)
	case FormatText:
		fmt.Fprintln(w, t.Title)
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(t.Columns, "\t"))
		for _, row := range rows {
			cells := make([]string, len(t.Columns))
			for i, col := range t.Columns {
				cells[i] = row.Values[col]
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if truncated {
			fmt.Fprintf(w, "\n%d of %d rows\n", len(rows), len(t.Rows))
		} else {
			fmt.Fprintf(w, "\nTotal: %d rows\n", len(t.Rows))
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteDataset writes the points of a projection.
func WriteDataset(w io.Writer, d *projection.Dataset, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, d)
	case FormatText:
		fmt.Fprintf(w, "%s: %s\n\n", d.Title, d.Column)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
		for _, p := range d.Points {
			fmt.Fprintf(tw, "%s\t%s\t\n", p.Location, formatValue(p.Value))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if len(d.Points) > 0 {
			fmt.Fprintf(w, "\nMin: %s  Max: %s  Locations: %d\n", formatValue(d.Min), formatValue(d.Max), len(d.Points))
		} else {
			fmt.Fprintln(w, "No locations.")
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteColumns writes a list of column names.
func WriteColumns(w io.Writer, columns []string, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, map[string][]string{"numeric_columns": columns})
	case FormatText:
		if len(columns) == 0 {
			fmt.Fprintln(w, "No numeric columns.")
			return nil
		}
		for _, c := range columns {
			fmt.Fprintln(w, c)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// HistoryResult is the JSON form of the history command.
type HistoryResult struct {
	Counts  map[string]int  `json:"counts"`
	Entries []journal.Entry `json:"entries"`
}

// WriteHistory writes journal entries followed by the per-source totals.
func WriteHistory(w io.Writer, entries []journal.Entry, counts map[string]int, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, HistoryResult{Counts: counts, Entries: entries})
	case FormatText:
		if len(entries) == 0 {
			fmt.Fprintln(w, "No retrievals recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, e := range entries {
			status := "ok"
			if e.Error != "" {
				status = "FAILED: " + e.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				e.At.Local().Format(time.DateTime), e.Kind, e.Source, e.Target, status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(w, "\nTotal: %d from cache, %d from network\n",
			counts[journal.SourceCache], counts[journal.SourceNetwork])
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// writeJSON outputs results as JSON
func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
