package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pfrederiksen/geodash/internal/table"
)

// ErrNotCached is returned when the requested document has no cached copy.
var ErrNotCached = errors.New("not cached")

// TableRecord is the cached form of one statistics table: the raw grid as
// fetched and the table normalized from it.
type TableRecord struct {
	Path      string            `json:"path"`
	URL       string            `json:"url"`
	FetchedAt time.Time         `json:"fetched_at"`
	Raw       table.Raw         `json:"raw"`
	Table     *table.Normalized `json:"table,omitempty"`
}

// Storage handles the on-disk cache
type Storage struct {
	dataDir     string
	indexFile   string
	tableSuffix string
}

// New creates a new Storage instance rooted at dataDir, creating it if needed.
func New(dataDir, indexFile, tableSuffix string) (*Storage, error) {
	if strings.HasPrefix(dataDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, dataDir[2:])
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	if indexFile == "" {
		indexFile = "left.htm"
	}
	if tableSuffix == "" {
		tableSuffix = ".json"
	}

	return &Storage{
		dataDir:     dataDir,
		indexFile:   indexFile,
		tableSuffix: tableSuffix,
	}, nil
}

// DataDir returns the cache root.
func (s *Storage) DataDir() string {
	return s.dataDir
}

// IndexPath returns the path of the cached contents index.
func (s *Storage) IndexPath() string {
	return filepath.Join(s.dataDir, s.indexFile)
}

// LoadIndex returns the cached contents index exactly as it was fetched.
func (s *Storage) LoadIndex() ([]byte, error) {
	data, err := os.ReadFile(s.IndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotCached
		}
		return nil, fmt.Errorf("reading index: %w", err)
	}
	return data, nil
}

// SaveIndex writes the contents index to the cache.
func (s *Storage) SaveIndex(data []byte) error {
	if err := writeFileAtomic(s.IndexPath(), data); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}

// TablePath maps a table's logical path (as linked from the index, e.g.
// "html/B0101.htm") to its cache file. Absolute URLs contribute only their
// path. Paths escaping the data directory are rejected.
func (s *Storage) TablePath(logical string) (string, error) {
	p := logical
	if u, err := url.Parse(logical); err == nil && u.Scheme != "" {
		p = u.Path
	}
	p = strings.TrimLeft(filepath.ToSlash(p), "/")

	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid table path: %q", logical)
	}
	return filepath.Join(s.dataDir, clean+s.tableSuffix), nil
}

// LoadTable loads the cached record for a table path.
func (s *Storage) LoadTable(logical string) (*TableRecord, error) {
	path, err := s.TablePath(logical)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotCached
		}
		return nil, fmt.Errorf("reading table cache: %w", err)
	}

	var rec TableRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing table cache %s: %w", path, err)
	}
	return &rec, nil
}

// SaveTable writes a table record, creating the directories that mirror the
// table's path segments.
func (s *Storage) SaveTable(rec *TableRecord) error {
	path, err := s.TablePath(rec.Path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating table cache directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding table: %w", err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("writing table cache: %w", err)
	}
	return nil
}

// writeFileAtomic writes to a sibling temp file and renames it into place so
// readers never see a partial document.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
