package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/talk/internal/store/migrations"
)

// SchemaVersion is the schema version the embedded migrations end at.
const SchemaVersion = 1

// ErrDirty is returned when a previous migration stopped halfway. The
// database needs manual repair before it can be used.
var ErrDirty = errors.New("database schema is dirty")

// MigrateResult describes what a Migrate call did.
type MigrateResult struct {
	From    uint // 0 for a fresh database
	Version uint
	Changed bool
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

// Migrate applies every pending migration. A database left dirty by an
// interrupted migration is refused with ErrDirty.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return nil, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return nil, fmt.Errorf("%w at version %d", ErrDirty, from)
	}

	res := &MigrateResult{From: from, Version: from}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return res, nil
		}
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	res.Version = version
	res.Changed = version != from
	return res, nil
}
