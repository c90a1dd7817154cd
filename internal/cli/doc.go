// Package cli implements the command-line interface for geodash.
//
// The cli package provides the Cobra-based CLI: listing the census catalog,
// printing and projecting tables, exporting them to xlsx, serving the
// dashboard and showing the retrieval journal. Output is text or JSON. Every
// command builds its configuration once (flags over environment over .env)
// and runs against an app.App.
package cli
