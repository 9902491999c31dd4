// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"os/exec"
	"time"

	"github.com/ManuGH/zmlive/internal/metrics"
)

// ManagedProcess is the runtime record of one daemon id.
// All fields are guarded by Supervisor.mu.
type ManagedProcess struct {
	ID      string
	Name    string
	Command string
	Args    []string

	State           State
	LastStateChange time.Time
	StartedAt       time.Time // zero unless Running
	RestartCount    uint32
	CurrentBackoff  time.Duration
	AutoRestart     bool
	MonitorID       *uint32
	TermSentAt      time.Time

	def  ProcessDefinition
	proc *child

	// hang tracking
	lastTicks    uint64
	lastActivity time.Time
	hung         bool
}

// child is a spawned OS process and its reaper.
type child struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{} // closed after Wait returns
	err  error         // valid after done is closed
}

func spawnChild(cmd *exec.Cmd) (*child, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	c := &child{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	go func() {
		c.err = cmd.Wait()
		close(c.done)
	}()
	return c, nil
}

// waitResult returns a channel that yields the Wait result once the child is reaped.
// Each caller gets its own channel.
func (c *child) waitResult() <-chan error {
	ch := make(chan error, 1)
	go func() {
		<-c.done
		ch <- c.err
	}()
	return ch
}

// exited reports whether the child has been reaped.
func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (p *ManagedProcess) setState(s State, now time.Time) {
	p.State = s
	p.LastStateChange = now
	metrics.SetDaemonState(p.ID, s.String())
}

// PID returns the child pid or 0.
func (p *ManagedProcess) PID() int {
	if p.proc == nil {
		return 0
	}
	return p.proc.pid
}

// Uptime is now - StartedAt for running processes.
func (p *ManagedProcess) Uptime(now time.Time) time.Duration {
	if p.State != StateRunning || p.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(p.StartedAt)
}

// ProcessStatus is an immutable snapshot of a managed process.
type ProcessStatus struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Command         string        `json:"command"`
	Args            []string      `json:"args"`
	Description     string        `json:"description,omitempty"`
	State           State         `json:"state"`
	PID             int           `json:"pid,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	UptimeSeconds   int64         `json:"uptime_seconds"`
	RestartCount    uint32        `json:"restart_count"`
	CurrentBackoff  time.Duration `json:"current_backoff_ns"`
	AutoRestart     bool          `json:"auto_restart"`
	MonitorID       *uint32       `json:"monitor_id,omitempty"`
	LastStateChange time.Time     `json:"last_state_change"`
	Priority        uint8         `json:"priority"`
}

func (p *ManagedProcess) snapshot(now time.Time) ProcessStatus {
	st := ProcessStatus{
		ID:              p.ID,
		Name:            p.Name,
		Command:         p.Command,
		Args:            append([]string(nil), p.Args...),
		Description:     p.def.Description,
		State:           p.State,
		PID:             p.PID(),
		UptimeSeconds:   int64(p.Uptime(now) / time.Second),
		RestartCount:    p.RestartCount,
		CurrentBackoff:  p.CurrentBackoff,
		AutoRestart:     p.AutoRestart,
		LastStateChange: p.LastStateChange,
		Priority:        p.def.Priority,
	}
	if !p.StartedAt.IsZero() && p.State == StateRunning {
		t := p.StartedAt
		st.StartedAt = &t
	}
	if p.MonitorID != nil {
		id := *p.MonitorID
		st.MonitorID = &id
	}
	return st
}
