package catalog

import "sort"

// Rename is a table whose link path is unchanged but whose display name
// differs between two catalogs.
type Rename struct {
	Path    string `json:"path"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

// DiffResult contains the results of comparing two catalogs
type DiffResult struct {
	Added   []Entry  `json:"added"`
	Removed []Entry  `json:"removed"`
	Renamed []Rename `json:"renamed"`
}

// Empty reports whether the catalogs listed the same tables under the same
// names.
func (d *DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Renamed) == 0
}

// Diff compares current against previous, matching entries by link path.
// A nil previous catalog counts as empty. Results are sorted by path.
func Diff(previous, current *Catalog) *DiffResult {
	result := &DiffResult{
		Added:   make([]Entry, 0),
		Removed: make([]Entry, 0),
		Renamed: make([]Rename, 0),
	}

	if previous == nil {
		previous = New(nil)
	}
	if current == nil {
		current = New(nil)
	}

	before := indexByPath(previous)
	after := indexByPath(current)

	for path, cur := range after {
		prev, exists := before[path]
		if !exists {
			result.Added = append(result.Added, cur)
			continue
		}
		if prev.Name != cur.Name {
			result.Renamed = append(result.Renamed, Rename{
				Path:    path,
				OldName: prev.Name,
				NewName: cur.Name,
			})
		}
	}
	for path, prev := range before {
		if _, exists := after[path]; !exists {
			result.Removed = append(result.Removed, prev)
		}
	}

	// Sort for consistent output
	sort.Slice(result.Added, func(i, j int) bool { return result.Added[i].Path < result.Added[j].Path })
	sort.Slice(result.Removed, func(i, j int) bool { return result.Removed[i].Path < result.Removed[j].Path })
	sort.Slice(result.Renamed, func(i, j int) bool { return result.Renamed[i].Path < result.Renamed[j].Path })

	return result
}

// indexByPath maps each link path to its first entry.
func indexByPath(c *Catalog) map[string]Entry {
	idx := make(map[string]Entry, c.Len())
	for _, e := range c.entries {
		if _, ok := idx[e.Path]; !ok {
			idx[e.Path] = e
		}
	}
	return idx
}
