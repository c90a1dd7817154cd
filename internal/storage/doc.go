// Package storage provides the on-disk cache for census documents.
//
// The contents index is cached as a single file with a fixed name in the data
// directory. Each statistics table is cached as a JSON record whose file path
// mirrors the table's logical path with a fixed suffix appended
// (html/B0101.htm becomes <dataDir>/html/B0101.htm.json); intermediate
// directories are created on demand. The default location is
// ~/.local/share/geodash/.
package storage
