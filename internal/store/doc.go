// Package store implements the relational storage side of the sync
// pipeline: a database/sql wrapper with pluggable SQL dialects (SQLite,
// PostgreSQL, MySQL), a table state cache, declarative index provisioning,
// the shadow-table batch writer, and the blue/green table swap.
//
// The blue/green refresh pattern: a run populates <table>_new in full while
// readers keep using <table>; a separate swap invocation then drops <table>
// and renames <table>_new into its place, so readers never see a
// partially-refreshed table.
package store
