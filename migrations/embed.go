// Package migrations embeds the SQL migrations of the pipeline run journal.
package migrations

import "embed"

// FS holds the embedded *.up.sql and *.down.sql files.
//
//go:embed *.sql
var FS embed.FS
