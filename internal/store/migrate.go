package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrations returns the embedded migration files for dialect.
func Migrations(dialect Dialect) (fs.FS, error) {
	return fs.Sub(migrationsFS, path.Join("migrations", string(dialect)))
}

func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	migrations, err := Migrations(dialect)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	return applyMigrationsFS(ctx, db, dialect, migrations, ".up.sql", false)
}

// RollbackMigrations runs every down file in reverse order.
func RollbackMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	migrations, err := Migrations(dialect)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	return applyMigrationsFS(ctx, db, dialect, migrations, ".down.sql", true)
}

func applyMigrationsFS(ctx context.Context, db *sql.DB, dialect Dialect, migrations fs.FS, suffix string, down bool) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	if down {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}

	for _, file := range files {
		version := strings.TrimSuffix(file, suffix)
		migrated, err := isMigrated(ctx, db, dialect, version)
		if err != nil {
			return err
		}
		if migrated != down {
			continue
		}

		contents, err := fs.ReadFile(migrations, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", file, err)
		}
		for _, stmt := range splitStatements(string(contents)) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("execute migration %s: %w", file, err)
			}
		}

		record := `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`
		args := []any{version, formatTime(time.Now())}
		if down {
			record = `DELETE FROM schema_migrations WHERE version = ?`
			args = args[:1]
		}
		if _, err := tx.ExecContext(ctx, rebind(dialect, record), args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// splitStatements lets drivers without multi-statement support run a file.
func splitStatements(contents string) []string {
	parts := strings.Split(contents, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at VARCHAR(40) NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, dialect Dialect, version string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, rebind(dialect, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return count > 0, nil
}
