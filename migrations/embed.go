// Package migrations embeds the server's SQL schema migrations.
//
// Pass FS to (*database.DB).Migrate at startup.
package migrations

import "embed"

// FS holds every *.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
