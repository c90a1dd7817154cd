// Package app composes the geodash components behind the operations the CLI
// and the dashboard use: list the catalog, resolve a key, load a table
// (cache-or-fetch, then normalize) and project one of its columns.
//
// An App is safe for concurrent use. The catalog is replaced as a whole on
// Reload; tables, catalogs and datasets are never modified once built.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pfrederiksen/geodash/internal/catalog"
	"github.com/pfrederiksen/geodash/internal/config"
	"github.com/pfrederiksen/geodash/internal/fetch"
	"github.com/pfrederiksen/geodash/internal/geo"
	"github.com/pfrederiksen/geodash/internal/journal"
	"github.com/pfrederiksen/geodash/internal/logger"
	"github.com/pfrederiksen/geodash/internal/projection"
	"github.com/pfrederiksen/geodash/internal/storage"
	"github.com/pfrederiksen/geodash/internal/table"
)

// App holds the long-lived components built from a Config.
type App struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *logger.Metrics

	store   *storage.Storage
	fetcher *fetch.Fetcher
	journal *journal.Journal
	loader  *catalog.Loader

	mu      sync.RWMutex
	catalog *catalog.Catalog

	geoMu sync.Mutex
	geo   *geo.Collection
}

// New builds an App. cfg must already be finalized. The caller must Close it.
func New(cfg *config.Config, log *logger.Logger, metrics *logger.Metrics) (*App, error) {
	store, err := storage.New(cfg.DataDir, cfg.IndexFile, cfg.TableSuffix)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	fetcher := fetch.New(fetch.Options{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.FetchTimeout,
		Retries:   cfg.FetchRetries,
		Logger:    log.With(logger.Fields{"component": "fetch"}),
	})

	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		store:   store,
		fetcher: fetcher,
		journal: j,
	}
	a.loader = &catalog.Loader{
		Store:     store,
		Fetcher:   fetcher,
		Log:       log.With(logger.Fields{"component": "catalog"}),
		Metrics:   metrics,
		Journal:   j,
		Source:    cfg.ContentsURL,
		Charset:   cfg.Charset,
		PageTypes: cfg.PageTypes,
	}
	return a, nil
}

// Close releases the journal.
func (a *App) Close() error {
	return a.journal.Close()
}

// Config returns the configuration the App was built with.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Logger returns the App's logger.
func (a *App) Logger() *logger.Logger {
	return a.log
}

// Metrics returns the App's metrics.
func (a *App) Metrics() *logger.Metrics {
	return a.metrics
}

// Catalog returns the current catalog, loading it on first use.
func (a *App) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	a.mu.RLock()
	cat := a.catalog
	a.mu.RUnlock()
	if cat != nil {
		return cat, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.catalog != nil {
		return a.catalog, nil
	}
	cat, err := a.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	a.catalog = cat
	return cat, nil
}

// Reload downloads the contents page again and replaces the catalog,
// reporting how it changed. On failure the previous catalog is kept.
func (a *App) Reload(ctx context.Context) (*catalog.Catalog, *catalog.DiffResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	previous := a.catalog
	if previous == nil {
		// Nothing loaded in this process yet: compare against the cache.
		if cached, err := a.loader.Cached(); err == nil {
			previous = cached
		}
	}

	cat, err := a.loader.Refresh(ctx)
	if err != nil {
		return nil, nil, err
	}
	a.catalog = cat

	diff := catalog.Diff(previous, cat)
	if previous != nil && !diff.Empty() {
		a.log.Info("Catalog changed", logger.Fields{
			"added":   len(diff.Added),
			"removed": len(diff.Removed),
			"renamed": len(diff.Renamed),
		})
	}
	return cat, diff, nil
}

// Resolve maps a catalog key to its table path. Unknown keys are logged and
// returned as catalog.ErrNotFound.
func (a *App) Resolve(ctx context.Context, unique string) (string, error) {
	cat, err := a.Catalog(ctx)
	if err != nil {
		return "", err
	}
	path, err := cat.Resolve(unique)
	if err != nil {
		a.log.Error("Failed to resolve catalog key", logger.Fields{"unique": unique}, err)
		return "", err
	}
	return path, nil
}

// Table returns the normalized table behind a catalog key.
func (a *App) Table(ctx context.Context, unique string) (*table.Normalized, error) {
	rec, err := a.TableRecord(ctx, unique)
	if err != nil {
		return nil, err
	}
	return rec.Table, nil
}

// TableRecord returns the cached record (raw grid and normalized table)
// behind a catalog key, fetching and caching it first if needed.
func (a *App) TableRecord(ctx context.Context, unique string) (*storage.TableRecord, error) {
	path, err := a.Resolve(ctx, unique)
	if err != nil {
		return nil, err
	}

	rec, err := a.store.LoadTable(path)
	switch {
	case err == nil && rec.Table != nil:
		a.metrics.IncrCounter("table.cache_hit")
		a.record(journal.KindTable, path, journal.SourceCache, 0, nil)
		return rec, nil
	case err == nil:
		// Older cache files may hold only the raw grid.
		norm, nerr := table.Normalize(rec.Raw, a.tableOptions())
		if nerr != nil {
			return nil, nerr
		}
		rec.Table = norm
		a.metrics.IncrCounter("table.cache_hit")
		a.record(journal.KindTable, path, journal.SourceCache, 0, nil)
		return rec, nil
	case !errors.Is(err, storage.ErrNotCached):
		a.log.Warn("Failed to read cached table, fetching again", logger.Fields{
			"path":  path,
			"error": err.Error(),
		})
	}

	a.metrics.IncrCounter("table.cache_miss")
	return a.fetchTable(ctx, path)
}

func (a *App) fetchTable(ctx context.Context, path string) (*storage.TableRecord, error) {
	start := time.Now()

	target, err := a.tableURL(path)
	if err != nil {
		return nil, err
	}

	data, err := a.readTable(ctx, target)
	if err != nil {
		a.metrics.IncrCounter("table.fetch_error")
		a.record(journal.KindTable, path, journal.SourceNetwork, 0, err)
		return nil, err
	}
	a.record(journal.KindTable, path, journal.SourceNetwork, len(data), nil)

	r, err := fetch.Decode(data, a.cfg.Charset)
	if err != nil {
		return nil, err
	}
	raw, err := table.ParseHTML(r)
	if err != nil {
		return nil, err
	}
	norm, err := table.Normalize(raw, a.tableOptions())
	if err != nil {
		return nil, err
	}

	rec := &storage.TableRecord{
		Path:      path,
		URL:       target,
		FetchedAt: time.Now().UTC(),
		Raw:       raw,
		Table:     norm,
	}
	if err := a.store.SaveTable(rec); err != nil {
		a.log.Warn("Failed to cache table", logger.Fields{
			"path":  path,
			"error": err.Error(),
		})
	}

	a.metrics.RecordTiming("table.fetch", time.Since(start))
	a.log.Info("Fetched table", logger.Fields{
		"path":    path,
		"title":   norm.Title,
		"columns": len(norm.Columns),
		"rows":    len(norm.Rows),
	})
	return rec, nil
}

// tableURL resolves a table link against the contents page location.
func (a *App) tableURL(path string) (string, error) {
	base, err := url.Parse(a.cfg.ContentsURL)
	if err != nil {
		return "", fmt.Errorf("parsing contents URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		if filepath.IsAbs(path) {
			return path, nil
		}
		return filepath.Join(filepath.Dir(a.cfg.ContentsURL), filepath.FromSlash(path)), nil
	}

	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parsing table path %q: %w", path, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (a *App) readTable(ctx context.Context, target string) ([]byte, error) {
	u, err := url.Parse(target)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return a.fetcher.Get(ctx, target)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, &fetch.RetrievalError{URL: target, Err: err}
	}
	return data, nil
}

func (a *App) tableOptions() table.Options {
	return table.Options{
		LocationLabel: a.cfg.LocationLabel,
		TotalLabel:    a.cfg.TotalLabel,
	}
}

// Projection loads the table behind unique and projects column.
func (a *App) Projection(ctx context.Context, unique, column string) (*projection.Dataset, error) {
	t, err := a.Table(ctx, unique)
	if err != nil {
		return nil, err
	}

	d, err := projection.Project(t, column)
	if err != nil {
		a.metrics.IncrCounter("projection.error")
		a.log.Warn("Projection failed", logger.Fields{
			"unique": unique,
			"column": column,
			"error":  err.Error(),
		})
		return nil, err
	}
	return d, nil
}

// Geo returns the boundary collection, loading it on first use.
func (a *App) Geo() (*geo.Collection, error) {
	a.geoMu.Lock()
	defer a.geoMu.Unlock()
	if a.geo != nil {
		return a.geo, nil
	}

	aliases, err := a.cfg.LoadAliases()
	if err != nil {
		return nil, err
	}
	c, err := geo.Load(a.cfg.GeoJSONPath, a.cfg.FeatureIDKey, aliases)
	if err != nil {
		return nil, err
	}
	a.log.Info("Loaded boundary geometry", logger.Fields{
		"path":     a.cfg.GeoJSONPath,
		"features": len(c.Features),
		"aliases":  len(aliases),
	})
	a.geo = c
	return c, nil
}

// History returns the most recent retrievals, newest first.
func (a *App) History(limit int) ([]journal.Entry, error) {
	return a.journal.Recent(limit)
}

// RetrievalCounts returns how many retrievals were served from each source.
func (a *App) RetrievalCounts() (map[string]int, error) {
	return a.journal.Counts()
}

func (a *App) record(kind, target, source string, n int, err error) {
	e := journal.Entry{
		Kind:   kind,
		Target: target,
		Source: source,
		Bytes:  n,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if jerr := a.journal.Record(e); jerr != nil {
		a.log.Warn("Failed to record retrieval", logger.Fields{"error": jerr.Error()})
	}
}
