package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one numbered schema change, loaded from migrations/NNN_name.sql
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// initMigrations ensures the schema_migrations table exists
func initMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	return err
}

// getCurrentVersion returns the current schema version, 0 for a new journal
func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// loadMigrations returns the embedded migrations sorted by version. Files not
// named NNN_name.sql are ignored.
func loadMigrations() ([]Migration, error) {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	var migrations []Migration
	for _, name := range names {
		prefix, rest, ok := strings.Cut(strings.TrimSuffix(path.Base(name), ".sql"), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}

		content, err := migrationFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		migrations = append(migrations, Migration{Version: version, Name: rest, SQL: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", migrations[i].Version)
		}
	}

	return migrations, nil
}

// backupDatabase snapshots the journal before migrating. VACUUM INTO includes
// pages still in the WAL, which a plain file copy would miss.
func backupDatabase(db *sql.DB, dbPath string, currentVersion int) error {
	// Nothing to protect in a new journal
	if currentVersion == 0 {
		var tables int
		if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name != 'schema_migrations'").Scan(&tables); err != nil {
			return err
		}
		if tables == 0 {
			return nil
		}
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil
	}

	backupPath := fmt.Sprintf("%s.backup-v%d-%s", dbPath, currentVersion, time.Now().Format("20060102-150405"))
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	log.Printf("Created database backup: %s", filepath.Base(backupPath))
	return nil
}

// runMigrations applies all pending migrations, backing up first
func runMigrations(db *sql.DB, dbPath string) error {
	if err := initMigrations(db); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	var pending []Migration
	for _, m := range migrations {
		if m.Version > currentVersion {
			pending = append(pending, m)
		}
	}

	if len(pending) == 0 {
		log.Printf("Database is up to date (version %d)", currentVersion)
		return nil
	}

	if err := backupDatabase(db, dbPath, currentVersion); err != nil {
		return fmt.Errorf("failed to backup database: %w", err)
	}

	log.Printf("Running %d pending migration(s) from version %d to %d",
		len(pending), currentVersion, pending[len(pending)-1].Version)

	for _, m := range pending {
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w\nRestore from backup if needed", m.Version, m.Name, err)
		}
		log.Printf("Applied migration %d: %s", m.Version, m.Name)
	}

	return nil
}

// applyMigration applies a single migration in a transaction
func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration SQL failed: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
