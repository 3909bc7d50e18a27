// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

// Package localstore owns the persistent local mirror of the remote roster
// data: a SQLite database with one table per entity, versioned schema
// migrations, and a logical data-migration ledger tracked through the
// database_version setting.
package localstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"

	"github.com/matchkeep/go-rostersync/events"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the handle every sync component receives. It is an explicit
// dependency, not a package-level singleton, so tests can run against
// isolated databases.
type Store struct {
	db         *sql.DB
	path       string
	logger     *slog.Logger
	dispatcher *events.Dispatcher
	cols       *tableColumns
}

// Option customizes a Store at open time.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithDispatcher sets the dispatcher that receives data:changed signals.
func WithDispatcher(d *events.Dispatcher) Option {
	return func(s *Store) { s.dispatcher = d }
}

// Open opens (or creates) the local store at path and brings its schema to
// the latest version. Open is idempotent. When the schema upgrade fails with
// a key-constraint violation or a dirty migration state, the store is deleted
// and recreated from scratch at the current schema: a deliberate, lossy
// last-resort recovery. Any other failure is fatal to app startup.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = events.NewDispatcher(s.logger)
	}

	if err := s.openAndMigrate(); err != nil {
		if !needsRebuild(err) {
			return nil, fmt.Errorf("failed to open local store: %w", err)
		}
		s.logger.Warn("schema upgrade failed, rebuilding local store from scratch",
			"path", path, "error", err)
		if s.db != nil {
			_ = s.db.Close()
			s.db = nil
		}
		if err := removeDatabase(path); err != nil {
			return nil, fmt.Errorf("failed to remove broken local store: %w", err)
		}
		if err := s.openAndMigrate(); err != nil {
			return nil, fmt.Errorf("failed to recreate local store: %w", err)
		}
	}
	return s, nil
}

// DB exposes the underlying connection for components that run their own SQL.
func (s *Store) DB() *sql.DB { return s.db }

// Dispatcher exposes the signal dispatcher shared with the engine.
func (s *Store) Dispatcher() *events.Dispatcher { return s.dispatcher }

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) openAndMigrate() error {
	if err := runMigrations(s.path); err != nil {
		return err
	}

	db, err := sql.Open("sqlite3", s.path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	s.cols = &tableColumns{
		cache: make(map[string][]string),
		sets:  make(map[string]map[string]struct{}),
	}
	return nil
}

// runMigrations applies the embedded DDL chain up to the latest version.
func runMigrations(dbPath string) error {
	migrationsDir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access migrations directory: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsDir, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	normalized := filepath.ToSlash(dbPath)
	if filepath.IsAbs(dbPath) && normalized[0] != '/' {
		normalized = "/" + normalized
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, "sqlite3://"+normalized)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply schema migrations: %w", err)
	}
	return nil
}

// needsRebuild classifies migration failures that the destructive reset is
// allowed to recover from: dirty migration state (a previous upgrade died
// partway) and constraint or in-place key-change rejections.
func needsRebuild(err error) bool {
	var dirty migrate.ErrDirty
	if errors.As(err, &dirty) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint, sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "dirty") ||
		strings.Contains(msg, "duplicate column")
}

// removeDatabase deletes the database file and its WAL sidecars.
func removeDatabase(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
