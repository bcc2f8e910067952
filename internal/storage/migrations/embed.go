package migrations

import "embed"

// FS embeds the SQLite schema migrations, applied in file name order.
//
//go:embed *.sql
var FS embed.FS

// Postgres embeds the PostgreSQL migrations under postgres/.
//
//go:embed postgres/*.sql
var Postgres embed.FS
