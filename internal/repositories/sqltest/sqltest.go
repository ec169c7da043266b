// Package sqltest opens migrated in-memory SQLite databases for tests.
package sqltest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dmitrijs2005/treevault/internal/dbx"
	"github.com/dmitrijs2005/treevault/internal/migrations"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// Open returns a fresh in-memory database with the schema applied and
// foreign keys enforced. The pool is pinned to one connection because every
// :memory: connection is a separate database.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`PRAGMA foreign_keys = ON`)
	require.NoError(t, err)

	fsys, dir, dialect := migrations.For(dbx.SQLite)
	goose.SetBaseFS(fsys)
	require.NoError(t, goose.SetDialect(dialect))
	goose.SetLogger(goose.NopLogger())
	require.NoError(t, goose.UpContext(context.Background(), db, dir))

	return db
}
