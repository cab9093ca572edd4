package migrations

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func sqliteMigrator(db *sql.DB) (*migrate.Migrate, source.Driver, error) {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite driver: %w", err)
	}
	src, err := iofs.New(sqlMigrations, "sql")
	if err != nil {
		return nil, nil, fmt.Errorf("migrations source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, nil, fmt.Errorf("migrate instance: %w", err)
	}
	return m, src, nil
}

// closeMigrator releases the migration source. migrate.Close is not used
// because the sqlite database driver's Close also closes the *sql.DB it
// wraps, and that handle is owned by the caller.
func closeMigrator(src source.Driver) error {
	if src == nil {
		return nil
	}
	return src.Close()
}

// SqliteUp applies all pending migrations.
func SqliteUp(db *sql.DB) error {
	m, src, err := sqliteMigrator(db)
	if err != nil {
		return err
	}
	defer closeMigrator(src)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations up: %w", err)
	}
	return nil
}

// SqliteDown rolls back the given number of migrations (default 1 if steps <= 0).
func SqliteDown(db *sql.DB, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	m, src, err := sqliteMigrator(db)
	if err != nil {
		return err
	}
	defer closeMigrator(src)

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations down: %w", err)
	}
	return nil
}

// SqliteVersion returns the current migration version.
func SqliteVersion(db *sql.DB) (uint, bool, error) {
	m, src, err := sqliteMigrator(db)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(src)

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, dirty, fmt.Errorf("migrations version: %w", err)
	}
	return version, dirty, nil
}
