// Package migrations holds the goose SQL migrations for the voice room
// registry and config store, embedded into the binary and applied on
// startup.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var fs embed.FS

// Up applies all pending migrations against the given database.
func Up(db *sql.DB) (err error) {
	goose.SetBaseFS(fs)

	if err = goose.SetDialect("postgres"); err != nil {
		err = fmt.Errorf("set migration dialect: %w", err)
		return
	}

	if err = goose.Up(db, "."); err != nil {
		err = fmt.Errorf("apply migrations: %w", err)
		return
	}

	return
}
