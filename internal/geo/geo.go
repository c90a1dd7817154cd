// Package geo loads the province boundary geometry the choropleth is drawn
// on and aligns its feature names with the location names of the census
// tables.
//
// Boundary files name some provinces by their full administrative title
// ("广西壮族自治区") while the tables use the short form ("广西"). An alias
// table read from configuration rewrites the feature ID property so the two
// join.
package geo

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pfrederiksen/geodash/internal/projection"
)

// DefaultFeatureIDKey is the feature property holding the native-script
// province name in GADM-derived boundary files.
const DefaultFeatureIDKey = "NL_NAME_1"

// Feature is one GeoJSON feature. Geometry is passed through untouched.
type Feature struct {
	Type       string                 `json:"type"`
	ID         json.RawMessage        `json:"id,omitempty"`
	Properties map[string]interface{} `json:"properties"`
	Geometry   json.RawMessage        `json:"geometry"`
}

// Collection is a GeoJSON FeatureCollection whose features are keyed by
// FeatureIDKey.
type Collection struct {
	Type         string    `json:"type"`
	Features     []Feature `json:"features"`
	FeatureIDKey string    `json:"-"`
}

// Load reads a FeatureCollection from path. See Parse.
func Load(path, featureIDKey string, aliases map[string]string) (*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening boundary file: %w", err)
	}
	defer f.Close()

	c, err := Parse(f, featureIDKey, aliases)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a FeatureCollection and rewrites each feature's
// properties[featureIDKey] through aliases. Names without an alias are kept.
func Parse(r io.Reader, featureIDKey string, aliases map[string]string) (*Collection, error) {
	if featureIDKey == "" {
		featureIDKey = DefaultFeatureIDKey
	}

	var c Collection
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding GeoJSON: %w", err)
	}
	if c.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected a FeatureCollection, got %q", c.Type)
	}
	c.FeatureIDKey = featureIDKey

	for i := range c.Features {
		props := c.Features[i].Properties
		if props == nil {
			continue
		}
		name, ok := props[featureIDKey].(string)
		if !ok {
			continue
		}
		if alias, ok := aliases[name]; ok {
			props[featureIDKey] = alias
		}
	}
	return &c, nil
}

// Keys returns the feature names, sorted. Features without a string name are
// skipped.
func (c *Collection) Keys() []string {
	seen := map[string]bool{}
	keys := []string{}
	for _, f := range c.Features {
		name, ok := f.Properties[c.FeatureIDKey].(string)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}

// Unmatched returns the dataset locations, in dataset order, that have no
// feature to be drawn on.
func (c *Collection) Unmatched(d *projection.Dataset) []string {
	known := map[string]bool{}
	for _, k := range c.Keys() {
		known[k] = true
	}

	out := []string{}
	for _, loc := range d.Locations() {
		if !known[loc] {
			out = append(out, loc)
		}
	}
	return out
}

// FeatureIDPath is the Plotly featureidkey addressing the feature name.
func (c *Collection) FeatureIDPath() string {
	return "properties." + c.FeatureIDKey
}
