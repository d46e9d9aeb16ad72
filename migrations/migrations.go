// Package migrations embeds the SQL schema migrations and applies them at
// startup with golang-migrate. The schema is owned by this service; running
// migrations on boot keeps a single-binary deployment simple.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var fs embed.FS

// Run applies all pending migrations against the given database handle.
// It is a no-op when the schema is already current.
func Run(db *sql.DB) error {
	source, err := iofs.New(fs, ".")
	if err != nil {
		return fmt.Errorf("migrations: load embedded source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrations: init postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrations: init migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: apply: %w", err)
	}
	return nil
}
