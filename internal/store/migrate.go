package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/falconq/falconq/migrations"
)

func newMigrator(connString string) (*migrate.Migrate, *sql.DB, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, nil, fmt.Errorf("store: open migration connection: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("store: create migration driver: %w", err)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("store: load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("store: create migrator: %w", err)
	}

	return m, db, nil
}

// MigrateUp applies every pending migration to the database at connString.
// It opens its own database/sql connection (lib/pq driver) separate from the
// pgx pool used for normal query traffic, the way noisefs's
// ComplianceDatabase.MigrateToLatest keeps migration and query connections
// apart.
func MigrateUp(connString string) error {
	m, db, err := newMigrator(connString)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: apply migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back every applied migration.
func MigrateDown(connString string) error {
	m, db, err := newMigrator(connString)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: roll back migrations: %w", err)
	}
	return nil
}
