package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pfrederiksen/geodash/internal/catalog"
	"github.com/pfrederiksen/geodash/internal/journal"
	"github.com/pfrederiksen/geodash/internal/projection"
	"github.com/pfrederiksen/geodash/internal/table"
)

func newCensusServer(t *testing.T) *httptest.Server {
	t.Helper()
	files := map[string]string{
		"/6rp/left.htm":       "../../testdata/fixtures/left.htm",
		"/6rp/html/B0101.htm": "../../testdata/fixtures/B0101.htm",
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		data, err := os.ReadFile(file)
		if err != nil {
			t.Errorf("failed to load test fixture: %v", err)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server
}

func runCLI(t *testing.T, server *httptest.Server, dataDir string, args ...string) (string, error) {
	t.Helper()
	base := []string{
		"--data-dir", dataDir,
		"--env-file", filepath.Join(dataDir, "missing.env"),
		"--contents-url", server.URL + "/6rp/left.htm",
		"--log-level", "error",
	}
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(base, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCatalogCommand(t *testing.T) {
	server := newCensusServer(t)
	dataDir := t.TempDir()

	out, err := runCLI(t, server, dataDir, "--format", "json", "catalog")
	if err != nil {
		t.Fatalf("catalog error = %v", err)
	}

	var result CatalogResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if result.Count != 3 || result.Entries[2].Path != "html/fu01.htm" {
		t.Errorf("result = %+v", result)
	}

	out, err = runCLI(t, server, dataDir, "catalog", "--sort", "path")
	if err != nil {
		t.Fatalf("catalog --sort path error = %v", err)
	}
	if !strings.Contains(out, "Total: 3 tables") {
		t.Errorf("text output missing total:\n%s", out)
	}
	if strings.Index(out, "html/A0102.htm") > strings.Index(out, "html/B0101.htm") {
		t.Errorf("entries not sorted by path:\n%s", out)
	}

	out, err = runCLI(t, server, dataDir, "catalog", "--refresh")
	if err != nil {
		t.Fatalf("catalog --refresh error = %v", err)
	}
	if !strings.Contains(out, "No changes.") {
		t.Errorf("refresh output:\n%s", out)
	}
}

func TestShowAndProjectCommands(t *testing.T) {
	server := newCensusServer(t)
	dataDir := t.TempDir()

	out, err := runCLI(t, server, dataDir, "show", "html/B0101.htm", "--limit", "2")
	if err != nil {
		t.Fatalf("show error = %v", err)
	}
	if !strings.Contains(out, "1-1 各地区户数、人口数和性别比") || !strings.Contains(out, "2 of 3 rows") {
		t.Errorf("show output:\n%s", out)
	}

	out, err = runCLI(t, server, dataDir, "--format", "json", "project", "0", "人口数（人）-男", "--sort", "value")
	if err != nil {
		t.Fatalf("project error = %v", err)
	}
	var d projection.Dataset
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if len(d.Points) != 3 || d.Points[0].Location != "内蒙古" {
		t.Errorf("points = %+v, want 内蒙古 first", d.Points)
	}

	out, err = runCLI(t, server, dataDir, "project", "0")
	if err != nil {
		t.Fatalf("project without column error = %v", err)
	}
	if !strings.Contains(out, "户数（户）") {
		t.Errorf("numeric columns output:\n%s", out)
	}

	_, err = runCLI(t, server, dataDir, "project", "0", "地区")
	var ce *projection.CoercionError
	if !errors.As(err, &ce) {
		t.Errorf("project 地区 error = %v, want *projection.CoercionError", err)
	}
}

func TestExportAndHistoryCommands(t *testing.T) {
	server := newCensusServer(t)
	dataDir := t.TempDir()
	out := filepath.Join(t.TempDir(), "b.xlsx")

	if _, err := runCLI(t, server, dataDir, "export", "html/B0101.htm", "-o", out); err != nil {
		t.Fatalf("export error = %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("workbook not written: %v", err)
	}

	text, err := runCLI(t, server, dataDir, "history")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(text, "html/B0101.htm") || !strings.Contains(text, journal.SourceNetwork) {
		t.Errorf("history output:\n%s", text)
	}
	if !strings.Contains(text, "Total: 0 from cache, 2 from network") {
		t.Errorf("history totals:\n%s", text)
	}
}

func TestCommandErrors(t *testing.T) {
	server := newCensusServer(t)
	dataDir := t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{"invalid format", []string{"--format", "xml", "catalog"}},
		{"invalid sort", []string{"catalog", "--sort", "size"}},
		{"unknown table", []string{"show", "no such table"}},
		{"position out of range", []string{"show", "9"}},
		{"missing argument", []string{"show"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, server, dataDir, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := runCLI(t, server, dataDir, "show", "no such table")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("show unknown error = %v, want catalog.ErrNotFound", err)
	}
}

type staticCatalog struct {
	cat *catalog.Catalog
}

func (s staticCatalog) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	return s.cat, nil
}

func TestLookupKey(t *testing.T) {
	src := staticCatalog{cat: catalog.New([]catalog.Entry{
		catalog.NewEntry("a", "html/A1.htm"),
		catalog.NewEntry("b", "html/B1.htm"),
	})}

	tests := []struct {
		arg     string
		want    string
		wantErr bool
	}{
		{"a: html/A1.htm", "a: html/A1.htm", false},
		{"html/B1.htm", "b: html/B1.htm", false},
		{"1", "b: html/B1.htm", false},
		{"2", "", true},
		{"-1", "", true},
		{"unknown", "unknown", false},
	}

	for _, tt := range tests {
		got, err := lookupKey(context.Background(), src, tt.arg)
		if (err != nil) != tt.wantErr {
			t.Errorf("lookupKey(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("lookupKey(%q) = %q, want %q", tt.arg, got, tt.want)
		}
	}
}

func TestExportName(t *testing.T) {
	tests := map[string]string{
		"html/B0101.htm": "B0101.xlsx",
		"fu01.htm":       "fu01.xlsx",
		"":               "table.xlsx",
	}
	for in, want := range tests {
		if got := exportName(in); got != want {
			t.Errorf("exportName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSortEntries(t *testing.T) {
	entries := []catalog.Entry{
		catalog.NewEntry("b", "html/A2.htm"),
		catalog.NewEntry("a", "html/B1.htm"),
		catalog.NewEntry("a", "html/A9.htm"),
	}

	byName := append([]catalog.Entry(nil), entries...)
	sortEntries(byName, SortByName)
	if byName[0].Path != "html/A9.htm" || byName[2].Name != "b" {
		t.Errorf("by name = %+v", byName)
	}

	byPath := append([]catalog.Entry(nil), entries...)
	sortEntries(byPath, SortByPath)
	if byPath[0].Path != "html/A2.htm" || byPath[2].Path != "html/B1.htm" {
		t.Errorf("by path = %+v", byPath)
	}

	doc := append([]catalog.Entry(nil), entries...)
	sortEntries(doc, SortByDocument)
	if !reflect.DeepEqual(doc, entries) {
		t.Error("document order changed")
	}
}

func TestSortPoints(t *testing.T) {
	points := []projection.Point{
		{Location: "上海", Value: 2},
		{Location: "北京", Value: 5},
		{Location: "天津", Value: 2},
	}

	sortPoints(points, SortByValue)
	want := []string{"北京", "上海", "天津"}
	for i, p := range points {
		if p.Location != want[i] {
			t.Errorf("by value [%d] = %s, want %s", i, p.Location, want[i])
		}
	}
}

func TestWriteOutputs(t *testing.T) {
	tbl, err := table.Normalize(table.NewRaw([][]string{
		{"T", ""}, {"地区", "v"}, {"北京", "1.5"},
	}), table.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		write func(*bytes.Buffer) error
		want  string
	}{
		{"empty catalog", func(b *bytes.Buffer) error { return WriteCatalog(b, nil, FormatText) }, "No tables found."},
		{"table", func(b *bytes.Buffer) error { return WriteTable(b, tbl, FormatText, 0) }, "Total: 1 rows"},
		{"table json", func(b *bytes.Buffer) error { return WriteTable(b, tbl, FormatJSON, 0) }, `"row_count": 1`},
		{"dataset", func(b *bytes.Buffer) error {
			return WriteDataset(b, &projection.Dataset{Title: "T", Column: "v", Points: []projection.Point{{Location: "北京", Value: 1.5}}, Min: 1.5, Max: 1.5}, FormatText)
		}, "Max: 1.5"},
		{"reload changes", func(b *bytes.Buffer) error {
			diff := &catalog.DiffResult{
				Added:   []catalog.Entry{catalog.NewEntry("新表", "html/B0102.htm")},
				Renamed: []catalog.Rename{{Path: "html/B0101.htm", OldName: "旧", NewName: "新"}},
			}
			return WriteReload(b, nil, diff, FormatText)
		}, "~ html/B0101.htm  旧 -> 新"},
		{"no columns", func(b *bytes.Buffer) error { return WriteColumns(b, nil, FormatText) }, "No numeric columns."},
		{"empty history", func(b *bytes.Buffer) error { return WriteHistory(b, nil, nil, FormatText) }, "No retrievals recorded."},
		{"failed retrieval", func(b *bytes.Buffer) error {
			return WriteHistory(b, []journal.Entry{{Kind: journal.KindTable, Source: journal.SourceNetwork, Target: "html/X.htm", Error: "boom", At: time.Now()}}, map[string]int{journal.SourceNetwork: 1}, FormatText)
		}, "FAILED: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tt.write(&buf); err != nil {
				t.Fatalf("write error = %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, buf.String())
			}
		})
	}

	if err := WriteCatalog(&bytes.Buffer{}, nil, OutputFormat("xml")); err == nil {
		t.Error("unknown format: expected error")
	}
}
