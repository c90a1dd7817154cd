// Package catalog loads the census contents page and lists the statistics
// tables it links to.
//
// The contents page is a frame of anchors. Only links of the form
// "html/<type>....htm" point at tables, where <type> is one of a fixed set of
// page-type markers (A for long-form tables, B for short-form totals, f for
// appendix pages). Each kept link becomes an Entry whose Unique key
// ("<name>: <path>") is what the dashboard shows in its table selector and
// what Resolve maps back to a path.
//
// The document is obtained cache-first: a cached copy is used when present,
// otherwise it is downloaded and written to the cache before parsing. A failed
// cache write is logged and does not fail the load.
package catalog
