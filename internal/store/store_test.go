// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/zmlive/internal/sysstats"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "zm.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zm.db")
	s, err := Open(context.Background(), path, time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Verify(context.Background()))
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path, time.Second)
	require.NoError(t, err)
	defer s.Close()
	var v int
	require.NoError(t, s.DB.QueryRow("PRAGMA user_version").Scan(&v))
	assert.Equal(t, schemaVersion, v)
}

func TestMonitors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Monitor(ctx, 1)
	assert.ErrorIs(t, err, ErrMonitorNotFound)

	require.NoError(t, s.PutMonitor(ctx, Monitor{ID: 1, Name: "Front", Enabled: true}))
	require.NoError(t, s.PutMonitor(ctx, Monitor{ID: 2, Name: "Yard", Function: FunctionModect, Codec: "h265", Enabled: true}))

	m, err := s.Monitor(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Monitor{ID: 1, Name: "Front", Function: FunctionMonitor, Enabled: true, Codec: "h264"}, m)

	require.NoError(t, s.SetMonitorFunction(ctx, 2, FunctionNone, false))
	all, err := s.Monitors(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, FunctionNone, all[1].Function)
	assert.False(t, all[1].Enabled)

	assert.ErrorIs(t, s.SetMonitorFunction(ctx, 9, FunctionRecord, true), ErrMonitorNotFound)
}

func TestParseStateDefinition(t *testing.T) {
	got, err := ParseStateDefinition("1:Modect:1, 2:None:0,3:Record")
	require.NoError(t, err)
	assert.Equal(t, []MonitorState{
		{MonitorID: 1, Function: FunctionModect, Enabled: true},
		{MonitorID: 2, Function: FunctionNone, Enabled: false},
		{MonitorID: 3, Function: FunctionRecord, Enabled: true},
	}, got)

	got, err = ParseStateDefinition("")
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, bad := range []string{"x:Modect:1", "1:Dance:1", "1", "1:Modect:1:9"} {
		_, err := ParseStateDefinition(bad)
		assert.Error(t, err, bad)
	}
}

func TestStates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.State(ctx, "night")
	assert.ErrorIs(t, err, ErrStateNotFound)

	require.NoError(t, s.PutState(ctx, "day", "1:Monitor:1"))
	require.NoError(t, s.PutState(ctx, "night", "1:Modect:1"))
	require.NoError(t, s.PutState(ctx, "night", "1:Record:1"))
	require.NoError(t, s.ActivateState(ctx, "night"))

	st, err := s.State(ctx, "night")
	require.NoError(t, err)
	assert.Equal(t, "1:Record:1", st.Definition)
	assert.True(t, st.IsActive)

	day, err := s.State(ctx, "day")
	require.NoError(t, err)
	assert.False(t, day.IsActive)

	assert.ErrorIs(t, s.ActivateState(ctx, "weekend"), ErrStateNotFound)
}

func TestServerStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, ok, err := s.LatestServerStats(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	t0 := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.InsertServerStats(ctx, t0, sysstats.Stats{CPULoad: 0.1}))
	require.NoError(t, s.InsertServerStats(ctx, t0.Add(time.Minute), sysstats.Stats{
		CPULoad: 1.5, TotalMem: 2048, FreeMem: 1024, TotalDisk: 100, FreeDisk: 40,
	}))

	st, at, ok, err := s.LatestServerStats(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), at)
	assert.InDelta(t, 1.5, st.CPULoad, 1e-9)
	assert.Equal(t, uint64(60), st.UsedDisk)

	n, err := s.PruneServerStats(ctx, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
