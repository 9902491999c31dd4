// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store is the SQLite-backed view of the ZoneMinder database used by
// the daemon controller: monitor definitions, named run states and server
// statistics rows.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/zmlive/internal/persistence/sqlite"
)

const schemaVersion = 1

var (
	ErrMonitorNotFound = errors.New("monitor not found")
	ErrStateNotFound   = errors.New("state not found")
)

// Store wraps the connection pool.
type Store struct {
	DB *sql.DB
}

// Open opens (and migrates) the database at path.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	cfg := sqlite.DefaultConfig()
	if busyTimeout > 0 {
		cfg.BusyTimeout = busyTimeout
	}
	db, err := sqlite.Open(ctx, path, cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var current int
	if err := s.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS Monitors (
		Id INTEGER PRIMARY KEY,
		Name TEXT NOT NULL,
		Function TEXT NOT NULL DEFAULT 'Monitor',
		Enabled INTEGER NOT NULL DEFAULT 1,
		Codec TEXT NOT NULL DEFAULT 'h264',
		FifoPath TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS States (
		Id INTEGER PRIMARY KEY AUTOINCREMENT,
		Name TEXT NOT NULL UNIQUE,
		Definition TEXT NOT NULL,
		IsActive INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS Server_Stats (
		Id INTEGER PRIMARY KEY AUTOINCREMENT,
		TimeStamp INTEGER NOT NULL,
		CpuLoad REAL NOT NULL,
		CpuUsagePercent REAL NOT NULL,
		TotalMem INTEGER NOT NULL,
		FreeMem INTEGER NOT NULL,
		TotalSwap INTEGER NOT NULL,
		FreeSwap INTEGER NOT NULL,
		TotalDisk INTEGER NOT NULL,
		FreeDisk INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_server_stats_ts ON Server_Stats(TimeStamp);
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Ping reports database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Verify runs a quick integrity check and returns the first problem found.
func (s *Store) Verify(ctx context.Context) error {
	issues, err := sqlite.VerifyIntegrity(ctx, s.DB, sqlite.QuickCheck)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("store: integrity check: %s", issues[0])
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.DB.Close()
}
