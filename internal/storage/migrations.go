package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// ErrNoMigration indicates no migration has been applied yet.
var ErrNoMigration = errors.New("no migration")

// MigrationManager applies numbered SQL migrations from an fs.FS (usually an
// embed.FS compiled into a backend) and tracks the applied version in a
// schema_migrations table.
//
// Files are named NNN_name.up.sql; anything else is ignored. Migrations are
// forward-only. Placeholders in the bookkeeping statements use "?", so the
// manager serves SQLite-dialect databases only.
type MigrationManager struct {
	db     *sql.DB
	source fs.FS
}

type migration struct {
	version uint
	name    string
	upFile  string
}

// NewMigrationManager creates a new MigrationManager for the given database
// and migration source.
func NewMigrationManager(db *sql.DB, source fs.FS) (*MigrationManager, error) {
	if db == nil {
		return nil, fmt.Errorf("migrations: database connection is required")
	}
	if source == nil {
		return nil, fmt.Errorf("migrations: migration source is required")
	}

	mgr := &MigrationManager{db: db, source: source}

	if err := mgr.ensureSchemaTable(); err != nil {
		return nil, fmt.Errorf("migrations: failed to create schema table: %w", err)
	}

	return mgr, nil
}

// ensureSchemaTable creates the schema_migrations table if it doesn't exist.
func (mgr *MigrationManager) ensureSchemaTable() error {
	_, err := mgr.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Up applies all pending migrations in ascending version order.
// Returns nil if already up-to-date.
func (mgr *MigrationManager) Up() error {
	migrations, err := mgr.loadMigrations()
	if err != nil {
		return fmt.Errorf("migrations: failed to load migration files: %w", err)
	}

	currentVersion, err := mgr.Version()
	if err != nil && !errors.Is(err, ErrNoMigration) {
		return fmt.Errorf("migrations: failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		stmt, err := fs.ReadFile(mgr.source, m.upFile)
		if err != nil {
			return fmt.Errorf("migrations: failed to read %s: %w", m.upFile, err)
		}

		if _, err := mgr.db.Exec(string(stmt)); err != nil {
			return fmt.Errorf("migrations: failed to apply version %d (%s): %w", m.version, m.name, err)
		}

		if _, err := mgr.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("migrations: failed to record version %d: %w", m.version, err)
		}
	}

	return nil
}

// Version returns the highest applied migration version.
// Returns (0, ErrNoMigration) when no migration has been applied.
func (mgr *MigrationManager) Version() (uint, error) {
	var version uint
	err := mgr.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("migrations: failed to query version: %w", err)
	}

	if version == 0 {
		return 0, ErrNoMigration
	}

	return version, nil
}

// loadMigrations lists the migration files at the root of the source.
// Returns migrations sorted by version ascending.
func (mgr *MigrationManager) loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(mgr.source, ".")
	if err != nil {
		return nil, fmt.Errorf("migrations: failed to read directory: %w", err)
	}

	migrationMap := make(map[uint]*migration)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		underscoreIdx := strings.Index(name, "_")
		if underscoreIdx < 0 {
			continue
		}
		versionInt, err := strconv.ParseUint(name[:underscoreIdx], 10, 64)
		if err != nil {
			continue
		}
		rest := name[underscoreIdx+1:]
		if !strings.HasSuffix(rest, ".up.sql") {
			continue
		}

		migrationMap[uint(versionInt)] = &migration{
			version: uint(versionInt),
			name:    strings.TrimSuffix(rest, ".up.sql"),
			upFile:  name,
		}
	}

	migrations := make([]migration, 0, len(migrationMap))
	for _, m := range migrationMap {
		migrations = append(migrations, *m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})

	return migrations, nil
}
