// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package control

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/zmlive/internal/store"
	"github.com/ManuGH/zmlive/internal/supervisor"
)

type recordingCapture struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingCapture) Restart(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "restart "+id)
	return nil
}

func (r *recordingCapture) Stop(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "stop "+id)
	return fmt.Errorf("%w: %s", supervisor.ErrNotRunning, id)
}

func TestDBStateApplier(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "zm.db"), 0)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.PutMonitor(ctx, store.Monitor{ID: 1, Name: "Front", Enabled: true}))
	require.NoError(t, st.PutMonitor(ctx, store.Monitor{ID: 2, Name: "Yard", Enabled: true}))
	require.NoError(t, st.PutState(ctx, "night", "1:Modect:1,2:None:0"))

	capture := &recordingCapture{}
	svc := NewService(newFakeSupervisor(), WithStateApplier(&DBStateApplier{Store: st, Capture: capture}))

	resp := svc.Execute(ctx, Command{Kind: CmdState, StateName: "night"})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, "State 'night' applied to 2 monitors", resp.Message)

	sort.Strings(capture.calls)
	assert.Equal(t, []string{"restart zmc -m 1", "stop zmc -m 2"}, capture.calls)

	m1, err := st.Monitor(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.FunctionModect, m1.Function)
	m2, err := st.Monitor(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, store.FunctionNone, m2.Function)
	assert.False(t, m2.Enabled)

	night, err := st.State(ctx, "night")
	require.NoError(t, err)
	assert.True(t, night.IsActive)

	resp = svc.Execute(ctx, Command{Kind: CmdState, StateName: "holiday"})
	assert.False(t, resp.Success)
	assert.Equal(t, "state 'holiday' not found", resp.Message)
}

func TestDBStateApplier_UnknownMonitor(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "zm.db"), 0)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.PutState(ctx, "away", "7:Record:1"))

	a := &DBStateApplier{Store: st, Capture: &recordingCapture{}}
	res, err := a.ApplyState(ctx, "away")
	assert.ErrorIs(t, err, store.ErrMonitorNotFound)
	require.Len(t, res.Monitors, 1)
	assert.NotEmpty(t, res.Monitors[0].Error)

	away, err := st.State(ctx, "away")
	require.NoError(t, err)
	assert.False(t, away.IsActive, "failed states are not activated")
}
