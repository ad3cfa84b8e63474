package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL UNIQUE,
	applied_at DATETIME NOT NULL
)`

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, in filename order, one transaction per file. This
// mirrors the Alembic-style versioned migration approach: each revision is
// a standalone, idempotently-tracked script rather than one monolithic
// InitSchema call.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	pending, err := findPendingMigrations(ctx, db)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		log.Debug().Msg("no pending migrations")
		return nil
	}

	return applyMigrations(ctx, db, pending)
}

func findPendingMigrations(ctx context.Context, db *sql.DB) ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var all []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		all = append(all, e.Name())
	}
	sort.Strings(all)

	applied := map[string]bool{}
	rows, err := db.QueryContext(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pending []string
	for _, name := range all {
		if !applied[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

func applyMigrations(ctx context.Context, db *sql.DB, filenames []string) error {
	for _, name := range filenames {
		content, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", name, err)
		}

		for _, stmt := range splitStatements(string(content)) {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`,
			name, time.Now().UTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}

		log.Info().Str("migration", name).Msg("applied migration")
	}
	return nil
}

// splitStatements splits a migration file on semicolon-newline boundaries.
// Migration files are written one statement per block; this keeps the
// runner free of a full SQL parser.
func splitStatements(content string) []string {
	return strings.Split(content, ";\n")
}
