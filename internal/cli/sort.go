package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pfrederiksen/geodash/internal/catalog"
	"github.com/pfrederiksen/geodash/internal/projection"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByDocument SortOrder = "document"
	SortByName     SortOrder = "name"
	SortByPath     SortOrder = "path"
	SortByLocation SortOrder = "location"
	SortByValue    SortOrder = "value"
)

func parseEntrySort(s string) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(s)); o {
	case SortByDocument, SortByName, SortByPath:
		return o, nil
	}
	return "", fmt.Errorf("invalid sort order: %s (must be 'document', 'name' or 'path')", s)
}

func parsePointSort(s string) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(s)); o {
	case SortByDocument, SortByLocation, SortByValue:
		return o, nil
	}
	return "", fmt.Errorf("invalid sort order: %s (must be 'document', 'location' or 'value')", s)
}

// sortEntries sorts catalog entries in place. Document order is left as is.
func sortEntries(entries []catalog.Entry, order SortOrder) {
	switch order {
	case SortByName:
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Name != entries[j].Name {
				return entries[i].Name < entries[j].Name
			}
			// If names are equal, sort by path
			return entries[i].Path < entries[j].Path
		})
	case SortByPath:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Path < entries[j].Path
		})
	}
}

// sortPoints sorts projection points in place; by value, largest first.
func sortPoints(points []projection.Point, order SortOrder) {
	switch order {
	case SortByLocation:
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].Location < points[j].Location
		})
	case SortByValue:
		sort.SliceStable(points, func(i, j int) bool {
			if points[i].Value != points[j].Value {
				return points[i].Value > points[j].Value
			}
			return points[i].Location < points[j].Location
		})
	}
}
