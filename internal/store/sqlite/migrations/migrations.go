// Package migrations embeds the SQLite schema for the local bookmark replica.
package migrations

import "embed"

// FS holds the goose migration files.
//
//go:embed *.sql
var FS embed.FS
