// Package migrations embeds the goose schema migrations for each supported
// metadata dialect.
package migrations

import (
	"embed"

	"github.com/dmitrijs2005/treevault/internal/dbx"
)

//go:embed sqlite/*.sql
var SQLite embed.FS

//go:embed postgres/*.sql
var Postgres embed.FS

// For returns the embedded migration set for d, the directory inside it and
// the goose dialect name.
func For(d dbx.Dialect) (fsys embed.FS, dir string, gooseDialect string) {
	if d == dbx.Postgres {
		return Postgres, "postgres", "pgx"
	}
	return SQLite, "sqlite", "sqlite3"
}
