package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kdimtricp/cinesuggest/internal/logging"
)

type Migration struct {
	Version string
	Name    string
	SQL     string
}

// MigrationStatus is one migration file and whether it has been applied.
type MigrationStatus struct {
	Migration
	Applied   bool
	AppliedAt *time.Time
}

type Migrator struct {
	db     *sql.DB
	dbType string
	log    zerolog.Logger
}

func NewMigrator(db *DB) *Migrator {
	return &Migrator{
		db:     db.conn,
		dbType: db.dbType,
		log:    logging.Component("migrator"),
	}
}

// Initialize creates the tracking table. SQLite builds its schema on open and
// is never migrated.
func (m *Migrator) Initialize(ctx context.Context) error {
	if m.dbType != "postgres" {
		return nil
	}

	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) AppliedMigrations(ctx context.Context) (map[string]time.Time, error) {
	applied := make(map[string]time.Time)

	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// LoadMigrations reads *.sql files named "<version>_<name>.sql", sorted by
// version.
func (m *Migrator) LoadMigrations(migrationsPath string) ([]Migration, error) {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			m.log.Warn().Str("file", entry.Name()).Msg("skipping invalid migration filename")
			continue
		}

		content, err := os.ReadFile(filepath.Join(migrationsPath, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    entry.Name(),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *Migrator) ApplyMigration(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", migration.Name, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1)",
		migration.Version,
	); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", migration.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", migration.Name, err)
	}

	m.log.Info().Str("migration", migration.Name).Msg("applied migration")
	return nil
}

// Run applies every pending migration and returns how many ran.
func (m *Migrator) Run(ctx context.Context, migrationsPath string) (int, error) {
	if m.dbType != "postgres" {
		m.log.Debug().Str("db_type", m.dbType).Msg("skipping migrations")
		return 0, nil
	}

	statuses, err := m.Status(ctx, migrationsPath)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, s := range statuses {
		if s.Applied {
			continue
		}
		if err := m.ApplyMigration(ctx, s.Migration); err != nil {
			return applied, fmt.Errorf("migration failed: %w", err)
		}
		applied++
	}

	if applied == 0 {
		m.log.Info().Msg("no pending migrations")
	} else {
		m.log.Info().Int("count", applied).Msg("migrations applied")
	}
	return applied, nil
}

// Status lists the migrations found on disk with their applied state.
func (m *Migrator) Status(ctx context.Context, migrationsPath string) ([]MigrationStatus, error) {
	migrations, err := m.LoadMigrations(migrationsPath)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(migrations))
	if m.dbType != "postgres" {
		for _, mig := range migrations {
			out = append(out, MigrationStatus{Migration: mig})
		}
		return out, nil
	}

	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	for _, mig := range migrations {
		s := MigrationStatus{Migration: mig}
		if at, ok := applied[mig.Version]; ok {
			s.Applied = true
			s.AppliedAt = &at
		}
		out = append(out, s)
	}
	return out, nil
}
