// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startGroup(t *testing.T, script string) (*exec.Cmd, chan error) {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	return cmd, waitCh
}

func TestSet_MakesGroupLeader(t *testing.T) {
	cmd, waitCh := startGroup(t, "sleep 10")
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pgid, "PID should be PGID leader")

	forced, _ := Terminate(cmd, waitCh, 2*time.Second)
	assert.False(t, forced)
}

func TestTerminate_EscalatesToSIGKILL(t *testing.T) {
	// The shell ignores TERM, so only KILL ends it.
	cmd, waitCh := startGroup(t, "trap '' TERM; while true; do sleep 0.05; done")
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	forced, err := Terminate(cmd, waitCh, 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, forced)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	assert.Eventually(t, func() bool {
		return syscall.Kill(-cmd.Process.Pid, syscall.Signal(0)) == syscall.ESRCH
	}, 2*time.Second, 20*time.Millisecond, "process group should be gone")
}

func TestKill_NilAndExited(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGTERM))

	cmd, waitCh := startGroup(t, "exit 0")
	<-waitCh
	assert.NoError(t, Kill(cmd, syscall.SIGTERM))
}

func TestTerminate_NilCommand(t *testing.T) {
	forced, err := Terminate(nil, nil, time.Millisecond)
	assert.False(t, forced)
	assert.NoError(t, err)
}

func TestAlive(t *testing.T) {
	assert.False(t, Alive(0))
	cmd, waitCh := startGroup(t, "sleep 10")
	assert.True(t, Alive(cmd.Process.Pid))
	_, _ = Terminate(cmd, waitCh, time.Second)
}
