// Package journal records every document retrieval in a SQLite database.
//
// Each time the index or a table is obtained, the app layer records where it
// came from (cache or network), how large it was and whether it failed. The
// history command and the dashboard read it back to show what has been
// fetched and when.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Source values for Entry.Source.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
)

// Kind values for Entry.Kind.
const (
	KindIndex = "index"
	KindTable = "table"
)

// Entry is one recorded retrieval.
type Entry struct {
	ID     int64     `json:"id"`
	Kind   string    `json:"kind"`
	Target string    `json:"target"`
	Source string    `json:"source"`
	Bytes  int       `json:"bytes"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

type Journal struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	j := &Journal{conn: conn, now: time.Now}
	if err := j.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.conn.Close()
}

func (j *Journal) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS retrievals (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  target TEXT NOT NULL,
  source TEXT NOT NULL,
  bytes INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_retrievals_target ON retrievals(target);
`
	_, err := j.conn.Exec(schema)
	return err
}

// Record stores one retrieval. A zero At is replaced with the current time.
func (j *Journal) Record(e Entry) error {
	if e.At.IsZero() {
		e.At = j.now()
	}
	var errText any
	if e.Error != "" {
		errText = e.Error
	}
	_, err := j.conn.Exec(
		`INSERT INTO retrievals (kind, target, source, bytes, error, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Kind, e.Target, e.Source, e.Bytes, errText, e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording retrieval: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.conn.Query(
		`SELECT id, kind, target, source, bytes, error, at FROM retrievals ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			errText sql.NullString
			at      string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Target, &e.Source, &e.Bytes, &errText, &at); err != nil {
			return nil, err
		}
		e.Error = errText.String
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parsing time of retrieval %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of retrievals per source.
func (j *Journal) Counts() (map[string]int, error) {
	rows, err := j.conn.Query(`SELECT source, COUNT(*) FROM retrievals GROUP BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		out[source] = n
	}
	return out, rows.Err()
}
