package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationName = regexp.MustCompile(`^(\d+)_[A-Za-z0-9_]+\.(up|down)\.sql$`)

// Migration is one versioned schema change with its rollback file.
type Migration struct {
	Version string
	UpPath  string
	// DownPath is empty when the migration has no rollback file.
	DownPath string
}

// Name is the up file name recorded in schema_migrations.
func (m Migration) Name() string {
	return filepath.Base(m.UpPath)
}

// ListMigrations reads migrationsDir and returns its migrations in version order.
func ListMigrations(migrationsDir string) ([]Migration, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		m := byVersion[match[1]]
		if m == nil {
			m = &Migration{Version: match[1]}
			byVersion[match[1]] = m
		}
		path := filepath.Join(migrationsDir, entry.Name())
		target := &m.UpPath
		if match[2] == "down" {
			target = &m.DownPath
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %s", match[2], match[1])
		}
		*target = path
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpPath == "" {
			return nil, fmt.Errorf("migration %s has no up file", m.Version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// ApplyMigrations runs every migration not yet recorded, each in its own
// transaction, and returns the names it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	migrations, err := ListMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0)
	for _, m := range migrations {
		version := m.Name()
		if migrated, err := isMigrated(ctx, db, version); err != nil {
			return applied, err
		} else if migrated {
			continue
		}
		contents, err := os.ReadFile(m.UpPath)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", version, err)
		}
		if err := runInTx(ctx, db, version, string(contents), `INSERT INTO schema_migrations(version) VALUES($1)`); err != nil {
			return applied, err
		}
		applied = append(applied, version)
	}
	return applied, nil
}

// RollbackLast reverts the newest applied migration and returns its name, or ""
// when nothing is applied.
func RollbackLast(ctx context.Context, db *sql.DB, migrationsDir string) (string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return "", err
	}
	migrations, err := ListMigrations(migrationsDir)
	if err != nil {
		return "", err
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		migrated, err := isMigrated(ctx, db, m.Name())
		if err != nil {
			return "", err
		}
		if !migrated {
			continue
		}
		if m.DownPath == "" {
			return "", fmt.Errorf("migration %s has no down file", m.Name())
		}
		contents, err := os.ReadFile(m.DownPath)
		if err != nil {
			return "", fmt.Errorf("read migration %s: %w", m.DownPath, err)
		}
		if err := runInTx(ctx, db, m.Name(), string(contents), `DELETE FROM schema_migrations WHERE version=$1`); err != nil {
			return "", err
		}
		return m.Name(), nil
	}
	return "", nil
}

func runInTx(ctx context.Context, db *sql.DB, version, script, record string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", version, err)
	}
	if strings.TrimSpace(script) != "" {
		if _, err := tx.ExecContext(ctx, script); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", version, err)
		}
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}

// MigrationStatus reports, in version order, whether each migration is applied.
func MigrationStatus(ctx context.Context, db *sql.DB, migrationsDir string) ([]Migration, []bool, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, nil, err
	}
	migrations, err := ListMigrations(migrationsDir)
	if err != nil {
		return nil, nil, err
	}
	applied := make([]bool, len(migrations))
	for i, m := range migrations {
		if applied[i], err = isMigrated(ctx, db, m.Name()); err != nil {
			return nil, nil, err
		}
	}
	return migrations, applied, nil
}
