package migrator

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"

	"github.com/amacneil/dbmate/v2/pkg/dbmate"

	"smart-tank-dashboard/backend/pkg/dialect"
	"smart-tank-dashboard/backend/pkg/utils"
)

const migrationsDir = "migrations"

// Migrator applies the embedded schema migrations of one dialect.
type Migrator struct {
	db      *dbmate.DB
	dialect dialect.Dialect
	l       *slog.Logger
}

// Status summarises the migrations known to the migrator.
type Status struct {
	Applied int
	Pending int
}

// New creates a migrator for connString. SQLite expects a file path, PostgreSQL a URL.
func New(l *slog.Logger, d dialect.Dialect, connString string) (*Migrator, error) {
	return newMigrator(l, d, d.MigrationFS(), connString)
}

func newMigrator(l *slog.Logger, d dialect.Dialect, fsys fs.FS, connString string) (*Migrator, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	if connString == "" {
		return nil, errors.New("connection string is required")
	}

	if _, err := fs.ReadDir(fsys, migrationsDir); err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var (
		u   *url.URL
		err error
	)

	switch d {
	case dialect.SQLite:
		u, err = sqliteURL(connString)
	case dialect.PostgreSQL:
		u, err = postgresURL(connString)
	}

	if err != nil {
		return nil, err
	}

	db := dbmate.New(u)
	db.Strict = true
	db.FS = fsys
	db.MigrationsDir = []string{migrationsDir}
	db.AutoDumpSchema = false

	l = l.With(slog.String("component", "db-migrator"), slog.String("dialect", d.String()))
	db.Log = utils.NewSlogWriter(l)

	return &Migrator{db: db, dialect: d, l: l}, nil
}

// Migrate creates the database if needed and applies pending migrations.
func (m *Migrator) Migrate() error {
	m.l.Info("Migrating database")

	if err := m.db.CreateAndMigrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Status counts applied and pending migrations.
func (m *Migrator) Status() (Status, error) {
	migrations, err := m.db.FindMigrations()
	if err != nil {
		return Status{}, fmt.Errorf("failed to list migrations: %w", err)
	}

	var s Status
	for _, mig := range migrations {
		if mig.Applied {
			s.Applied++
		} else {
			s.Pending++
		}
	}

	return s, nil
}
