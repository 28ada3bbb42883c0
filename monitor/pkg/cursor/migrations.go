package cursor

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// goose keeps its base FS and dialect in package globals.
var migrationMutex = sync.Mutex{}

func runMigrations(db *sql.DB, fsys embed.FS, dialect, dir string) error {
	migrationMutex.Lock()
	defer migrationMutex.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to run %s migrations: %w", dialect, err)
	}

	return nil
}

// RunSQLiteMigrations applies the embedded SQLite schema.
func RunSQLiteMigrations(db *sql.DB) error {
	return runMigrations(db, sqliteMigrations, "sqlite", "migrations/sqlite")
}

// RunPostgresMigrations applies the embedded Postgres schema.
func RunPostgresMigrations(db *sql.DB) error {
	return runMigrations(db, postgresMigrations, "postgres", "migrations/postgres")
}
