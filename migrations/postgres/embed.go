// Package migrations embeds the SQL schema for the pg user store.
package migrations

import "embed"

// FS contains the ordered migration files.
//
//go:embed *.sql
var FS embed.FS
