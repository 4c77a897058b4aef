// Package migrations embeds the SQLite schema migrations applied by goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
