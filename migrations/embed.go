package migrations

import "embed"

// FS holds the ordered schema migrations applied by cmd/migrate.
//
//go:embed *.sql
var FS embed.FS
