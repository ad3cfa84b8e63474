// Package database owns AniBridge's embedded SQLite connection and its
// versioned schema migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/Zzackllack/AniBridge-sub000/internal/config"
)

// Connect opens the embedded SQLite database at cfg.DataDir/anibridge.db,
// tunes the pool for a single-writer embedded workload, and applies any
// pending migrations before returning.
func Connect(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s/anibridge.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.DataDir)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite has one writer; keep the pool small to avoid lock contention,
	// matching the embedded (not client-server) deployment model.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	log.Info().Str("path", cfg.DataDir).Msg("database connected")
	return db, nil
}

// Close closes the database, tolerating a nil receiver.
func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// WithTimeout is a small helper for bounding one-off maintenance queries
// (cleanup sweeps, startup recovery) to a sane ceiling.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}
