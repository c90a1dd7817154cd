package catalog

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultPageTypes are the leading path-type markers of table pages on the
// census site.
const DefaultPageTypes = "ABf"

// ErrNotFound is returned by Resolve when no entry has the requested key.
var ErrNotFound = errors.New("catalog entry not found")

// Entry is one table link of the contents page.
type Entry struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Unique string `json:"unique"`
}

// NewEntry builds an Entry, deriving its Unique key from name and path.
func NewEntry(name, path string) Entry {
	return Entry{
		Name:   name,
		Path:   path,
		Unique: UniqueKey(name, path),
	}
}

// UniqueKey returns the display key of a table link.
func UniqueKey(name, path string) string {
	return name + ": " + path
}

// Collision records a Unique key shared by more than one entry.
type Collision struct {
	Unique string `json:"unique"`
	// Indices are the positions of the entries sharing the key, in order.
	Indices []int `json:"indices"`
}

// Catalog is the ordered list of table links found on the contents page.
// It is never modified after Parse returns it.
type Catalog struct {
	entries []Entry
}

// New builds a Catalog from entries in the given order.
func New(entries []Entry) *Catalog {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return &Catalog{entries: out}
}

// Entries returns a copy of the entries in document order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Uniques returns the Unique keys in document order.
func (c *Catalog) Uniques() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Unique
	}
	return out
}

// Resolve returns the path of the first entry whose Unique key equals key.
func (c *Catalog) Resolve(key string) (string, error) {
	for _, e := range c.entries {
		if e.Unique == key {
			return e.Path, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, key)
}

// Collisions reports Unique keys that occur more than once. Resolve still
// returns the first of them.
func (c *Catalog) Collisions() []Collision {
	positions := map[string][]int{}
	var order []string
	for i, e := range c.entries {
		if _, ok := positions[e.Unique]; !ok {
			order = append(order, e.Unique)
		}
		positions[e.Unique] = append(positions[e.Unique], i)
	}

	var out []Collision
	for _, key := range order {
		if idx := positions[key]; len(idx) > 1 {
			out = append(out, Collision{Unique: key, Indices: idx})
		}
	}
	return out
}

// LinkPattern returns the pattern table links must contain for the given set
// of page-type markers.
func LinkPattern(pageTypes string) (*regexp.Regexp, error) {
	if pageTypes == "" {
		return nil, fmt.Errorf("empty page type set")
	}
	return regexp.Compile(`html/[` + regexp.QuoteMeta(pageTypes) + `].*\.htm`)
}

// Parse scans an HTML contents document for table links. Documents without
// any matching link yield an empty Catalog.
func Parse(r io.Reader, pageTypes string) (*Catalog, error) {
	pattern, err := LinkPattern(pageTypes)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	entries := make([]Entry, 0)
	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !pattern.MatchString(href) {
			return
		}
		entries = append(entries, NewEntry(strings.TrimSpace(sel.Text()), href))
	})

	return &Catalog{entries: entries}, nil
}
