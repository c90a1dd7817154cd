package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pfrederiksen/geodash/internal/fetch"
	"github.com/pfrederiksen/geodash/internal/journal"
	"github.com/pfrederiksen/geodash/internal/logger"
	"github.com/pfrederiksen/geodash/internal/storage"
)

// Recorder receives one journal entry per retrieval.
type Recorder interface {
	Record(journal.Entry) error
}

// Loader obtains and parses the contents page.
type Loader struct {
	Store   *storage.Storage
	Fetcher *fetch.Fetcher
	Log     *logger.Logger
	Metrics *logger.Metrics
	Journal Recorder

	// Source is the contents page URL, or a local file path.
	Source string
	// Charset forces a document encoding; empty sniffs it.
	Charset string
	// PageTypes is the set of page-type markers; empty means DefaultPageTypes.
	PageTypes string
}

// Load returns the catalog, reading the cached index when present and
// downloading (then caching) it otherwise. A download failure with nothing
// cached is returned as *fetch.RetrievalError.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	start := time.Now()
	data, err := l.document(ctx)
	if err != nil {
		return nil, err
	}
	return l.build(data, start)
}

// Refresh downloads the index even when a cached copy exists and replaces
// the cache with it.
func (l *Loader) Refresh(ctx context.Context) (*Catalog, error) {
	start := time.Now()
	data, err := l.download(ctx)
	if err != nil {
		return nil, err
	}
	return l.build(data, start)
}

// Cached parses the cached index without touching the network. It returns
// storage.ErrNotCached when there is nothing cached, and is used to compare
// a refreshed catalog with the one the cache held before.
func (l *Loader) Cached() (*Catalog, error) {
	if isLocal(l.Source) {
		return nil, storage.ErrNotCached
	}
	data, err := l.Store.LoadIndex()
	if err != nil {
		return nil, err
	}
	return l.parse(data)
}

func (l *Loader) build(data []byte, start time.Time) (*Catalog, error) {
	cat, err := l.parse(data)
	if err != nil {
		return nil, err
	}

	for _, c := range cat.Collisions() {
		l.Log.Warn("Duplicate catalog key, first entry wins", logger.Fields{
			"unique":  c.Unique,
			"indices": c.Indices,
		})
	}

	l.Metrics.SetGauge("catalog.entries", float64(cat.Len()))
	l.Metrics.RecordTiming("catalog.load", time.Since(start))
	l.Log.Info("Catalog loaded", logger.Fields{
		"entries": cat.Len(),
		"source":  l.Source,
	})
	return cat, nil
}

func (l *Loader) parse(data []byte) (*Catalog, error) {
	r, err := fetch.Decode(data, l.Charset)
	if err != nil {
		return nil, err
	}
	pageTypes := l.PageTypes
	if pageTypes == "" {
		pageTypes = DefaultPageTypes
	}
	return Parse(r, pageTypes)
}

func (l *Loader) document(ctx context.Context) ([]byte, error) {
	if isLocal(l.Source) {
		data, err := os.ReadFile(l.Source)
		if err != nil {
			l.record(journal.SourceCache, 0, err)
			return nil, &fetch.RetrievalError{URL: l.Source, Err: err}
		}
		l.record(journal.SourceCache, len(data), nil)
		return data, nil
	}

	data, err := l.Store.LoadIndex()
	if err == nil {
		l.Metrics.IncrCounter("catalog.cache_hit")
		l.Log.Debug("Using cached index", logger.Fields{"path": l.Store.IndexPath()})
		l.record(journal.SourceCache, len(data), nil)
		return data, nil
	}
	if !errors.Is(err, storage.ErrNotCached) {
		// An unreadable cache is treated like a missing one.
		l.Log.Warn("Failed to read cached index", logger.Fields{
			"path":  l.Store.IndexPath(),
			"error": err.Error(),
		})
	}

	l.Metrics.IncrCounter("catalog.cache_miss")
	return l.download(ctx)
}

func (l *Loader) download(ctx context.Context) ([]byte, error) {
	if l.Fetcher == nil {
		return nil, &fetch.RetrievalError{URL: l.Source, Err: fmt.Errorf("no fetcher configured")}
	}

	data, err := l.Fetcher.Get(ctx, l.Source)
	if err != nil {
		l.Metrics.IncrCounter("catalog.fetch_error")
		l.record(journal.SourceNetwork, 0, err)
		return nil, err
	}
	l.record(journal.SourceNetwork, len(data), nil)

	if err := l.Store.SaveIndex(data); err != nil {
		l.Log.Warn("Failed to cache index", logger.Fields{
			"path":  l.Store.IndexPath(),
			"error": err.Error(),
		})
	}
	return data, nil
}

func (l *Loader) record(source string, n int, err error) {
	if l.Journal == nil {
		return
	}
	e := journal.Entry{
		Kind:   journal.KindIndex,
		Target: l.Source,
		Source: source,
		Bytes:  n,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if jerr := l.Journal.Record(e); jerr != nil {
		l.Log.Warn("Failed to record retrieval", logger.Fields{"error": jerr.Error()})
	}
}

func isLocal(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return true
	}
	return u.Scheme != "http" && u.Scheme != "https"
}
