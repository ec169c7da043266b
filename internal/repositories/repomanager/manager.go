// Package repomanager vends dialect-specific repositories bound to a
// dbx.DBTX and applies the embedded goose migrations.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/treevault/internal/dbx"
	"github.com/dmitrijs2005/treevault/internal/migrations"
	"github.com/dmitrijs2005/treevault/internal/repositories/nodes"
	"github.com/dmitrijs2005/treevault/internal/repositories/tasks"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Nodes(db dbx.DBTX) nodes.Repository
	Tasks(db dbx.DBTX) tasks.Repository
	Dialect() dbx.Dialect
}

// SQLRepositoryManager serves both supported dialects.
type SQLRepositoryManager struct {
	dialect dbx.Dialect
}

// New returns a manager for d.
func New(d dbx.Dialect) *SQLRepositoryManager {
	return &SQLRepositoryManager{dialect: d}
}

func (m *SQLRepositoryManager) Dialect() dbx.Dialect {
	return m.dialect
}

func (m *SQLRepositoryManager) Nodes(db dbx.DBTX) nodes.Repository {
	return nodes.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Tasks(db dbx.DBTX) tasks.Repository {
	return tasks.NewSQLRepository(db, m.dialect)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations points goose at the embedded migrations for the manager's
// dialect and applies them.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	fsys, dir, dialect := migrations.For(m.dialect)

	goose.SetBaseFS(fsys)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return gooseUpContext(ctx, db, dir)
}

// Open connects to the metadata database for driver/dsn and returns the
// handle with a matching manager. Migrations are not applied.
func Open(driver, dsn string) (*sql.DB, *SQLRepositoryManager, error) {
	d, ok := dbx.ParseDialect(driver)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, nil, err
	}
	if d == dbx.SQLite {
		// one writer; the busy_timeout pragma in the DSN covers readers
		db.SetMaxOpenConns(1)
	}
	return db, New(d), nil
}
