// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuGH/zmlive/internal/supervisor"
)

// fakeSupervisor records calls and keeps a tiny process table.
type fakeSupervisor struct {
	mu       sync.Mutex
	running  bool
	procs    map[string]supervisor.State
	calls    []string
	startErr error
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{procs: map[string]supervisor.State{}}
}

func (f *fakeSupervisor) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeSupervisor) Startup(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("startup")
	f.running = true
	return nil
}

func (f *fakeSupervisor) ShutdownAll(context.Context) (supervisor.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("shutdown")
	f.running = false
	var rep supervisor.Report
	for id, st := range f.procs {
		if st == supervisor.StateRunning {
			rep.Succeeded++
		}
		f.procs[id] = supervisor.StateStopped
	}
	return rep, nil
}

func (f *fakeSupervisor) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSupervisor) Status() []supervisor.ProcessStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]supervisor.ProcessStatus, 0, len(f.procs))
	for id, st := range f.procs {
		out = append(out, supervisor.ProcessStatus{ID: id, State: st})
	}
	return out
}

func (f *fakeSupervisor) StatusOf(id string) (supervisor.ProcessStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.procs[id]
	if !ok {
		return supervisor.ProcessStatus{}, fmt.Errorf("%w: %s", supervisor.ErrDaemonNotFound, id)
	}
	return supervisor.ProcessStatus{ID: id, State: st}, nil
}

func (f *fakeSupervisor) Start(_ context.Context, id string, _ []string) (supervisor.StartOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start " + id)
	if f.startErr != nil {
		return supervisor.Started, f.startErr
	}
	if f.procs[id] == supervisor.StateRunning {
		return supervisor.AlreadyRunning, nil
	}
	f.procs[id] = supervisor.StateRunning
	return supervisor.Started, nil
}

func (f *fakeSupervisor) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop " + id)
	st, ok := f.procs[id]
	if !ok {
		return fmt.Errorf("%w: %s", supervisor.ErrDaemonNotFound, id)
	}
	if st != supervisor.StateRunning {
		return fmt.Errorf("%w: %s", supervisor.ErrNotRunning, id)
	}
	f.procs[id] = supervisor.StateStopped
	return nil
}

func (f *fakeSupervisor) Restart(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("restart " + id)
	f.procs[id] = supervisor.StateRunning
	return nil
}

func (f *fakeSupervisor) Reload(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reload " + id)
	if f.procs[id] != supervisor.StateRunning {
		return fmt.Errorf("%w: %s", supervisor.ErrNotRunning, id)
	}
	return nil
}

func (f *fakeSupervisor) LogRotate() (supervisor.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("logrot")
	var rep supervisor.Report
	for _, st := range f.procs {
		if st == supervisor.StateRunning {
			rep.Succeeded++
		}
	}
	return rep, nil
}

func (f *fakeSupervisor) PackageStart(context.Context) (supervisor.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pkg_start")
	return supervisor.Report{Succeeded: 2, Skipped: 1}, nil
}

func (f *fakeSupervisor) PackageStop(context.Context) (supervisor.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pkg_stop")
	return supervisor.Report{Succeeded: 3}, nil
}

func (f *fakeSupervisor) PackageRestart(context.Context) (supervisor.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pkg_restart")
	return supervisor.Report{Succeeded: 3}, nil
}

func (f *fakeSupervisor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
