// Package table turns census HTML tables into normalized records.
//
// The census pages present each table for people, not programs: the header
// spans several rows (merged cells are repeated on every row they cover, and a
// fixed label such as "地区" is repeated in the first column of each header
// row), labels carry padding whitespace, and a nationwide total row sits among
// the regional rows. ParseHTML extracts the first table of a page into a
// rectangular Raw grid; Normalize detects the header rows, merges their labels
// into unique column names, drops header and total rows, and derives the
// Location column used to join rows to map geometry.
package table
