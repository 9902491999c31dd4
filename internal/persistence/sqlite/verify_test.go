// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndVerify(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "zm.db")

	db, err := Open(ctx, path, DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		_, err = db.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", strings.Repeat("x", 64))
		require.NoError(t, err)
	}

	for _, mode := range []CheckMode{QuickCheck, FullCheck} {
		issues, err := VerifyIntegrity(ctx, db, mode)
		require.NoError(t, err)
		assert.Nil(t, issues, string(mode))
	}

	var journal string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", strings.ToLower(journal))
}

func TestOpen_MissingDirectory(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope", "zm.db"), DefaultConfig())
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	cfg := DefaultConfig()
	assert.Contains(t, DSN("/var/lib/zm.db", cfg), "busy_timeout(5000)")
	assert.Contains(t, DSN("/var/lib/zm.db", cfg), "journal_mode(WAL)")

	cfg.ReadOnly = true
	ro := DSN("/var/lib/zm.db", cfg)
	assert.Contains(t, ro, "mode=ro")
	assert.NotContains(t, ro, "journal_mode")
}
