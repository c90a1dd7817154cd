package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pfrederiksen/geodash/internal/catalog"
	"github.com/pfrederiksen/geodash/internal/config"
	"github.com/pfrederiksen/geodash/internal/fetch"
	"github.com/pfrederiksen/geodash/internal/journal"
	"github.com/pfrederiksen/geodash/internal/logger"
	"github.com/pfrederiksen/geodash/internal/projection"
)

const (
	keyB0101 = "1-1 各地区户数、人口数和性别比: html/B0101.htm"
	keyA0102 = "1-2 各地区分性别的户籍人口: html/A0102.htm"
)

type censusSite struct {
	mu   sync.Mutex
	hits map[string]int
}

func (s *censusSite) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func newCensusSite(t *testing.T) (*httptest.Server, *censusSite) {
	t.Helper()
	files := map[string]string{
		"/6rp/left.htm":       "../../testdata/fixtures/left.htm",
		"/6rp/html/B0101.htm": "../../testdata/fixtures/B0101.htm",
	}
	site := &censusSite{hits: map[string]int{}}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.hits[r.URL.Path]++
		site.mu.Unlock()

		file, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		data, err := os.ReadFile(file)
		if err != nil {
			t.Errorf("failed to load test fixture: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server, site
}

func testConfig(t *testing.T, contentsURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:       dir,
		ContentsURL:   contentsURL,
		IndexFile:     "left.htm",
		TableSuffix:   ".json",
		PageTypes:     catalog.DefaultPageTypes,
		JournalPath:   filepath.Join(dir, "journal.db"),
		UserAgent:     "geodash-test",
		LocationLabel: "地区",
		TotalLabel:    "全国",
		GeoJSONPath:   "../../testdata/fixtures/provinces.geojson",
		GeoAliasFile:  "../../configs/province_aliases.json",
		FeatureIDKey:  "NL_NAME_1",
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	a, err := New(cfg, logger.New(logger.LevelDebug, &logs), logger.NewMetrics())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, &logs
}

func TestApp_CatalogAndTable(t *testing.T) {
	server, site := newCensusSite(t)
	cfg := testConfig(t, server.URL+"/6rp/left.htm")
	a, _ := newTestApp(t, cfg)
	ctx := context.Background()

	cat, err := a.Catalog(ctx)
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	if cat.Len() != 3 || cat.Uniques()[0] != keyB0101 {
		t.Fatalf("Uniques() = %q", cat.Uniques())
	}

	tbl, err := a.Table(ctx, keyB0101)
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	if len(tbl.Rows) != 3 || !tbl.HasLocation() {
		t.Errorf("Table() = %+v", tbl)
	}

	if _, err := os.Stat(filepath.Join(cfg.DataDir, "html", "B0101.htm.json")); err != nil {
		t.Errorf("table not cached: %v", err)
	}

	// served from cache the second time
	if _, err := a.Table(ctx, keyB0101); err != nil {
		t.Fatalf("second Table() error = %v", err)
	}
	if n := site.count("/6rp/html/B0101.htm"); n != 1 {
		t.Errorf("table fetched %d times, want 1", n)
	}
	if _, err := a.Catalog(ctx); err != nil {
		t.Fatal(err)
	}
	if n := site.count("/6rp/left.htm"); n != 1 {
		t.Errorf("index fetched %d times, want 1", n)
	}

	history, err := a.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len(History()) = %d, want 3", len(history))
	}
	if history[0].Kind != journal.KindTable || history[0].Source != journal.SourceCache {
		t.Errorf("newest entry = %+v", history[0])
	}
	if history[2].Kind != journal.KindIndex || history[2].Source != journal.SourceNetwork {
		t.Errorf("oldest entry = %+v", history[2])
	}
}

func TestApp_CacheSurvivesRestart(t *testing.T) {
	server, site := newCensusSite(t)
	cfg := testConfig(t, server.URL+"/6rp/left.htm")

	first, _ := newTestApp(t, cfg)
	if _, err := first.Table(context.Background(), keyB0101); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, _ := newTestApp(t, cfg)
	tbl, err := second.Table(context.Background(), keyB0101)
	if err != nil {
		t.Fatalf("Table() after restart error = %v", err)
	}
	if len(tbl.Rows) != 3 {
		t.Errorf("len(Rows) = %d", len(tbl.Rows))
	}
	if site.count("/6rp/left.htm") != 1 || site.count("/6rp/html/B0101.htm") != 1 {
		t.Errorf("hits = %v, want one fetch per document", site.hits)
	}
}

func TestApp_Errors(t *testing.T) {
	server, _ := newCensusSite(t)
	a, logs := newTestApp(t, testConfig(t, server.URL+"/6rp/left.htm"))
	ctx := context.Background()

	_, err := a.Table(ctx, "no such table: html/X.htm")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Table(unknown) error = %v, want catalog.ErrNotFound", err)
	}
	if !strings.Contains(logs.String(), "Failed to resolve catalog key") {
		t.Error("unknown key not logged")
	}

	_, err = a.Table(ctx, keyA0102)
	var re *fetch.RetrievalError
	if !errors.As(err, &re) {
		t.Errorf("Table(404) error = %v, want *fetch.RetrievalError", err)
	}
	var se *fetch.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("Table(404) status = %v", err)
	}
}

func TestApp_RetrievalErrorWithoutIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	a, _ := newTestApp(t, testConfig(t, server.URL+"/6rp/left.htm"))
	_, err := a.Catalog(context.Background())
	var re *fetch.RetrievalError
	if !errors.As(err, &re) {
		t.Fatalf("Catalog() error = %v, want *fetch.RetrievalError", err)
	}
}

func TestApp_TableWriteFailureIsNotFatal(t *testing.T) {
	server, _ := newCensusSite(t)
	cfg := testConfig(t, server.URL+"/6rp/left.htm")
	a, logs := newTestApp(t, cfg)

	// a directory in place of the cache file makes the write fail
	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "html", "B0101.htm.json", "blocker"), 0755); err != nil {
		t.Fatal(err)
	}

	tbl, err := a.Table(context.Background(), keyB0101)
	if err != nil {
		t.Fatalf("Table() error = %v, want success despite cache write failure", err)
	}
	if len(tbl.Rows) != 3 {
		t.Errorf("len(Rows) = %d", len(tbl.Rows))
	}
	if !strings.Contains(logs.String(), "Failed to cache table") {
		t.Errorf("write failure not logged:\n%s", logs.String())
	}
}

func TestApp_Projection(t *testing.T) {
	server, _ := newCensusSite(t)
	a, _ := newTestApp(t, testConfig(t, server.URL+"/6rp/left.htm"))
	ctx := context.Background()

	d, err := a.Projection(ctx, keyB0101, "人口数（人）-女")
	if err != nil {
		t.Fatalf("Projection() error = %v", err)
	}
	if got := d.Locations(); len(got) != 3 || got[2] != "内蒙古" {
		t.Errorf("Locations() = %q", got)
	}
	if d.Max != 11868078 {
		t.Errorf("Max = %v, want 11868078", d.Max)
	}

	_, err = a.Projection(ctx, keyB0101, "地区")
	var ce *projection.CoercionError
	if !errors.As(err, &ce) {
		t.Errorf("Projection(地区) error = %v, want *projection.CoercionError", err)
	}

	_, err = a.Projection(ctx, keyB0101, "missing")
	if !errors.Is(err, projection.ErrColumnNotFound) {
		t.Errorf("Projection(missing) error = %v, want ErrColumnNotFound", err)
	}
}

func TestApp_Reload(t *testing.T) {
	server, site := newCensusSite(t)
	a, _ := newTestApp(t, testConfig(t, server.URL+"/6rp/left.htm"))
	ctx := context.Background()

	before, err := a.Catalog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	after, diff, err := a.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if !diff.Empty() {
		t.Errorf("Reload() diff = %+v, want no changes", diff)
	}
	if after == before {
		t.Error("Reload() did not replace the catalog")
	}
	current, _ := a.Catalog(ctx)
	if current != after {
		t.Error("Catalog() does not return the reloaded catalog")
	}
	if n := site.count("/6rp/left.htm"); n != 2 {
		t.Errorf("index fetched %d times, want 2", n)
	}
}

func TestApp_LocalContents(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "html"), 0755); err != nil {
		t.Fatal(err)
	}
	for src, dst := range map[string]string{
		"../../testdata/fixtures/left.htm":  filepath.Join(dir, "left.htm"),
		"../../testdata/fixtures/B0101.htm": filepath.Join(dir, "html", "B0101.htm"),
	} {
		data, err := os.ReadFile(src)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	a, _ := newTestApp(t, testConfig(t, filepath.Join(dir, "left.htm")))
	tbl, err := a.Table(context.Background(), keyB0101)
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	if tbl.Title != "1-1 各地区户数、人口数和性别比" {
		t.Errorf("Title = %q", tbl.Title)
	}
}

func TestApp_Geo(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t, "http://127.0.0.1:0/left.htm"))

	c, err := a.Geo()
	if err != nil {
		t.Fatalf("Geo() error = %v", err)
	}
	again, _ := a.Geo()
	if again != c {
		t.Error("Geo() loaded the collection twice")
	}

	keys := strings.Join(c.Keys(), ",")
	if !strings.Contains(keys, "内蒙古") || strings.Contains(keys, "内蒙古自治区") {
		t.Errorf("Keys() = %s, want aliases applied", keys)
	}
}
