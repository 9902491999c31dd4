// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/zmlive/internal/store"
	"github.com/ManuGH/zmlive/internal/supervisor"
)

func TestDBStateApplier_StartsCaptureWithoutRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zmc"), []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	sup := supervisor.New(supervisor.Config{
		ShutdownTimeout: time.Second,
		Paths:           supervisor.PathResolver{BinDir: dir},
	}, supervisor.WithCatalog([]supervisor.ProcessDefinition{
		{Name: "zmc", Command: "zmc", AutoRestart: true, Priority: 10},
	}))
	t.Cleanup(func() { _, _ = sup.PackageStop(context.Background()) })

	st, err := store.Open(ctx, filepath.Join(dir, "zm.db"), 0)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.PutMonitor(ctx, store.Monitor{ID: 3, Name: "Porch"}))
	require.NoError(t, st.PutState(ctx, "day", "3:Modect:1"))

	svc := NewService(sup, WithStateApplier(&DBStateApplier{Store: st, Capture: sup}))
	resp := svc.Execute(ctx, Command{Kind: CmdState, StateName: "day"})
	require.True(t, resp.Success, resp.Message)

	status, err := sup.StatusOf("zmc -m 3")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateRunning, status.State)
}
