// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor launches, monitors, restarts and stops the ZoneMinder
// worker daemons.
//
// Each daemon id (for example "zmc -m 5") maps to one ManagedProcess. The
// process table is guarded by a single RWMutex; the pid map has its own lock.
// A background health loop reaps exited children, detects hung processes and
// respawns crashed ones with exponential backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/metrics"
	"github.com/ManuGH/zmlive/internal/procgroup"
)

// Config tunes the supervisor.
type Config struct {
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
	MaxHangDelay    time.Duration
	HealthInterval  time.Duration
	StartupDelay    time.Duration
	ShutdownTimeout time.Duration
	DBProbeTimeout  time.Duration
	Paths           PathResolver
	// Env is appended to the daemon environment.
	Env []string
}

func (c *Config) applyDefaults() {
	if c.MinBackoff <= 0 {
		c.MinBackoff = 5 * time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = 900 * time.Second
		if c.MaxBackoff < c.MinBackoff {
			c.MaxBackoff = c.MinBackoff
		}
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.DBProbeTimeout <= 0 {
		c.DBProbeTimeout = 30 * time.Second
	}
}

type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithCatalog replaces the default ZoneMinder catalog.
func WithCatalog(defs []ProcessDefinition) Option {
	return func(s *Supervisor) { s.catalog = NewCatalog(defs) }
}

// WithActivitySampler enables hang detection with sampler.
func WithActivitySampler(sampler ActivitySampler) Option {
	return func(s *Supervisor) { s.activity = sampler }
}

// WithDBProbe gates requires_db daemons on probe.
func WithDBProbe(probe DBProbe) Option {
	return func(s *Supervisor) { s.db = probe }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

func withClock(c clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// StartOutcome distinguishes a fresh spawn from a no-op start.
type StartOutcome int

const (
	Started StartOutcome = iota
	AlreadyRunning
)

// Report counts the results of a bulk operation.
type Report struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Supervisor owns the process table.
type Supervisor struct {
	cfg      Config
	catalog  *Catalog
	activity ActivitySampler
	db       DBProbe
	clock    clock
	logger   zerolog.Logger

	mu      sync.RWMutex
	procs   map[string]*ManagedProcess
	running bool

	pidMu sync.Mutex
	pids  map[int]string

	loopStop chan struct{}
	loopDone chan struct{}
}

// New creates a supervisor. Catalog entries flagged as roster members are
// registered as stopped processes.
func New(cfg Config, opts ...Option) *Supervisor {
	cfg.applyDefaults()
	s := &Supervisor{
		cfg:    cfg,
		clock:  realClock{},
		logger: log.WithComponent("supervisor"),
		procs:  make(map[string]*ManagedProcess),
		pids:   make(map[int]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog = NewCatalog(DefaultCatalog())
	}
	for _, def := range s.catalog.Definitions() {
		if def.Roster {
			_ = s.Add(def.Name)
		}
	}
	return s
}

// Catalog exposes the definition catalog.
func (s *Supervisor) Catalog() *Catalog { return s.catalog }

// Register adds def to the catalog and creates a stopped record with id def.Name.
func (s *Supervisor) Register(def ProcessDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: definition without name", ErrDaemonNotFound)
	}
	if def.Command == "" {
		def.Command = def.Name
	}
	s.catalog.Put(def)
	return s.Add(def.Name)
}

// Add creates a stopped record for id if none exists. The command of id must
// be in the catalog.
func (s *Supervisor) Add(id string) error {
	name, args, err := ParseDaemonCommand(id, nil)
	if err != nil {
		return err
	}
	def, ok := s.catalog.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDaemonNotFound, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, exists := s.procs[id]; exists {
		p.def = def
		return nil
	}
	s.procs[id] = s.newRecord(id, def, args)
	return nil
}

func (s *Supervisor) newRecord(id string, def ProcessDefinition, args []string) *ManagedProcess {
	now := s.clock.Now()
	p := &ManagedProcess{
		ID:             id,
		Name:           def.Name,
		Command:        def.Command,
		Args:           args,
		AutoRestart:    def.AutoRestart,
		CurrentBackoff: s.cfg.MinBackoff,
		def:            def,
	}
	if m, ok := ExtractMonitorID(args); ok {
		p.MonitorID = &m
	}
	p.setState(StateStopped, now)
	return p
}

// Deregister removes a record that has no live process.
func (s *Supervisor) Deregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDaemonNotFound, id)
	}
	if p.State.HasProcess() || p.State == StateRestarting {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, p.State)
	}
	delete(s.procs, id)
	metrics.ForgetDaemon(id)
	return nil
}

// ListIDs returns all registered ids, sorted.
func (s *Supervisor) ListIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Running reports whether Startup was called and ShutdownAll was not.
func (s *Supervisor) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Status returns a snapshot of every process sorted by priority, then id.
func (s *Supervisor) Status() []ProcessStatus {
	now := s.clock.Now()
	s.mu.RLock()
	out := make([]ProcessStatus, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, p.snapshot(now))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// StatusOf returns the snapshot of one process.
func (s *Supervisor) StatusOf(id string) (ProcessStatus, error) {
	now := s.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.procs[id]
	if !ok {
		return ProcessStatus{}, fmt.Errorf("%w: %s", ErrDaemonNotFound, id)
	}
	return p.snapshot(now), nil
}

// IDForPID maps a child pid back to its daemon id.
func (s *Supervisor) IDForPID(pid int) (string, bool) {
	s.pidMu.Lock()
	defer s.pidMu.Unlock()
	id, ok := s.pids[pid]
	return id, ok
}

func (s *Supervisor) trackPID(pid int, id string) {
	s.pidMu.Lock()
	s.pids[pid] = id
	s.pidMu.Unlock()
}

func (s *Supervisor) untrackPID(pid int) {
	s.pidMu.Lock()
	delete(s.pids, pid)
	s.pidMu.Unlock()
}

// Start spawns the daemon identified by id with extra args appended.
// A running daemon yields AlreadyRunning and no error.
func (s *Supervisor) Start(ctx context.Context, id string, extra []string) (StartOutcome, error) {
	name, args, err := ParseDaemonCommand(id, extra)
	if err != nil {
		return Started, err
	}
	def, ok := s.catalog.Lookup(name)
	if !ok {
		return Started, fmt.Errorf("%w: %s", ErrDaemonNotFound, name)
	}

	if s.isActive(id) {
		return AlreadyRunning, nil
	}

	if def.RequiresDB && s.db != nil {
		probeCtx, cancel := context.WithTimeout(ctx, s.cfg.DBProbeTimeout)
		err := s.db.Ping(probeCtx)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str(log.FieldEvent, "supervisor.db_unavailable").
				Str(log.FieldDaemon, id).Msg("database not reachable, refusing to start daemon")
			return Started, fmt.Errorf("%w: %s: %v", ErrDatabaseUnavailable, id, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.procs[id]
	if !exists {
		p = s.newRecord(id, def, args)
	}
	if p.State == StateRunning || p.State == StateStarting {
		return AlreadyRunning, nil
	}
	if !p.State.AcceptsStart() {
		return Started, fmt.Errorf("%w: cannot start %s while %s", ErrInvalidTransition, id, p.State)
	}
	if def.Singleton {
		for otherID, other := range s.procs {
			if otherID != id && other.Name == def.Name && (other.State.HasProcess() || other.State == StateRestarting) {
				return Started, fmt.Errorf("%w: %s runs as %q", ErrSingletonConflict, def.Name, otherID)
			}
		}
	}

	if !exists {
		s.procs[id] = p
	}
	p.def = def
	p.Args = args
	p.AutoRestart = def.AutoRestart
	if m, ok := ExtractMonitorID(args); ok {
		p.MonitorID = &m
	} else {
		p.MonitorID = nil
	}
	// Operator starts begin a fresh failure history.
	p.RestartCount = 0
	p.CurrentBackoff = s.cfg.MinBackoff

	if err := s.spawnLocked(p); err != nil {
		return Started, err
	}
	return Started, nil
}

func (s *Supervisor) isActive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.procs[id]
	return ok && (p.State == StateRunning || p.State == StateStarting)
}

// spawnLocked execs p. Caller holds s.mu.
func (s *Supervisor) spawnLocked(p *ManagedProcess) error {
	path, err := s.cfg.Paths.Resolve(p.Command)
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldEvent, "supervisor.resolve_failed").
			Str(log.FieldDaemon, p.ID).Msg("daemon executable not found")
		return err
	}

	now := s.clock.Now()
	p.setState(StateStarting, now)

	cmd := exec.Command(path, p.Args...) // #nosec G204 -- path resolved from the daemon catalog
	procgroup.Set(cmd)
	cmd.Env = append(os.Environ(), s.cfg.Env...)

	c, err := spawnChild(cmd)
	if err != nil {
		p.setState(StateFailed, s.clock.Now())
		metrics.IncDaemonSpawnFailure(p.ID)
		s.logger.Error().Err(err).Str(log.FieldEvent, "supervisor.spawn_failed").
			Str(log.FieldDaemon, p.ID).Str(log.FieldPath, path).Msg("failed to spawn daemon")
		return fmt.Errorf("%w: %s: %v", ErrSpawnFailed, p.ID, err)
	}

	now = s.clock.Now()
	p.proc = c
	p.StartedAt = now
	p.TermSentAt = time.Time{}
	p.hung = false
	p.lastTicks = 0
	p.lastActivity = now
	p.setState(StateRunning, now)
	s.trackPID(c.pid, p.ID)

	s.logger.Info().Str(log.FieldEvent, "supervisor.spawned").
		Str(log.FieldDaemon, p.ID).Int(log.FieldPID, c.pid).
		Uint32(log.FieldRestarts, p.RestartCount).Msg("daemon started")
	return nil
}

// Stop terminates id: SIGTERM to the process group, SIGKILL after the
// shutdown timeout.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	p, ok := s.procs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDaemonNotFound, id)
	}
	if !p.State.AcceptsStop() {
		state := p.State
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, state)
	}

	p.AutoRestart = false
	if p.proc == nil {
		// Restarting: nothing to signal.
		p.setState(StateStopped, s.clock.Now())
		s.mu.Unlock()
		return nil
	}
	c := p.proc
	p.TermSentAt = s.clock.Now()
	p.setState(StateStopping, p.TermSentAt)
	s.mu.Unlock()

	grace := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < grace {
			grace = remaining
		}
	}
	forced, waitErr := procgroup.Terminate(c.cmd, c.waitResult(), grace)

	s.mu.Lock()
	s.untrackPID(c.pid)
	if p.proc == c {
		p.proc = nil
	}
	p.StartedAt = time.Time{}
	p.TermSentAt = time.Time{}
	p.setState(StateStopped, s.clock.Now())
	s.mu.Unlock()

	s.logger.Info().Str(log.FieldEvent, "supervisor.stopped").
		Str(log.FieldDaemon, id).Int(log.FieldPID, c.pid).
		Bool("forced", forced).AnErr("exit", waitErr).Msg("daemon stopped")
	return nil
}

// Restart stops id if it is running and starts it again with its stored args.
// An id without a record is started fresh when its command is in the catalog.
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	if err := s.Stop(ctx, id); err != nil {
		switch {
		case errors.Is(err, ErrNotRunning):
		case errors.Is(err, ErrDaemonNotFound) && s.known(id):
		default:
			return err
		}
	}
	metrics.IncDaemonRestart(id, "manual")
	_, err := s.Start(ctx, id, nil)
	return err
}

func (s *Supervisor) known(id string) bool {
	name, _, err := ParseDaemonCommand(id, nil)
	if err != nil {
		return false
	}
	_, ok := s.catalog.Lookup(name)
	return ok
}

// Reload sends SIGHUP to a running daemon.
func (s *Supervisor) Reload(id string) error {
	s.mu.RLock()
	p, ok := s.procs[id]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrDaemonNotFound, id)
	}
	if p.State != StateRunning || p.proc == nil {
		state := p.State
		s.mu.RUnlock()
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, state)
	}
	c := p.proc
	s.mu.RUnlock()

	return s.sighup(id, c)
}

func (s *Supervisor) sighup(id string, c *child) error {
	if err := procgroup.Signal(c.cmd, syscall.SIGHUP); err != nil {
		if errors.Is(err, procgroup.ErrUnsupported) {
			return fmt.Errorf("%w: SIGHUP", ErrSignalUnsupported)
		}
		return fmt.Errorf("signal %s: %w", id, err)
	}
	s.logger.Debug().Str(log.FieldEvent, "supervisor.reloaded").Str(log.FieldDaemon, id).
		Int(log.FieldPID, c.pid).Msg("sent SIGHUP")
	return nil
}

// LogRotate sends SIGHUP to every running daemon.
func (s *Supervisor) LogRotate() (Report, error) {
	type target struct {
		id string
		c  *child
	}
	s.mu.RLock()
	targets := make([]target, 0, len(s.procs))
	for id, p := range s.procs {
		if p.State == StateRunning && p.proc != nil {
			targets = append(targets, target{id, p.proc})
		}
	}
	s.mu.RUnlock()

	var rep Report
	var errs []error
	for _, t := range targets {
		if err := s.sighup(t.id, t.c); err != nil {
			rep.Failed++
			errs = append(errs, err)
			continue
		}
		rep.Succeeded++
	}
	return rep, errors.Join(errs...)
}

// byPriority returns the records ordered by priority, reversed if desc.
func (s *Supervisor) byPriority(desc bool) []*ManagedProcess {
	s.mu.RLock()
	list := make([]*ManagedProcess, 0, len(s.procs))
	for _, p := range s.procs {
		list = append(list, p)
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.def.Priority != b.def.Priority {
			if desc {
				return a.def.Priority > b.def.Priority
			}
			return a.def.Priority < b.def.Priority
		}
		if desc {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
	return list
}

// PackageStart starts every registered daemon in priority order.
func (s *Supervisor) PackageStart(ctx context.Context) (Report, error) {
	var rep Report
	var errs []error
	for _, p := range s.byPriority(false) {
		outcome, err := s.Start(ctx, p.ID, nil)
		switch {
		case err != nil:
			rep.Failed++
			errs = append(errs, err)
		case outcome == AlreadyRunning:
			rep.Skipped++
		default:
			rep.Succeeded++
		}
	}
	return rep, errors.Join(errs...)
}

// PackageStop stops every daemon in reverse priority order. Daemons sharing a
// priority are stopped concurrently.
func (s *Supervisor) PackageStop(ctx context.Context) (Report, error) {
	var (
		rep  Report
		errs []error
		mu   sync.Mutex
	)

	list := s.byPriority(true)
	for i := 0; i < len(list); {
		j := i
		for j < len(list) && list[j].def.Priority == list[i].def.Priority {
			j++
		}
		var g errgroup.Group
		for _, p := range list[i:j] {
			id := p.ID
			g.Go(func() error {
				err := s.Stop(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					rep.Succeeded++
				case errors.Is(err, ErrNotRunning):
					rep.Skipped++
				default:
					rep.Failed++
					errs = append(errs, err)
				}
				return nil
			})
		}
		_ = g.Wait()
		i = j
	}
	return rep, errors.Join(errs...)
}

// PackageRestart stops and then starts the full roster.
func (s *Supervisor) PackageRestart(ctx context.Context) (Report, error) {
	if _, err := s.PackageStop(ctx); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "supervisor.pkg_stop_partial").Msg("package stop reported failures")
	}
	return s.PackageStart(ctx)
}

// Startup marks the supervisor running and boots the health loop. It is idempotent.
func (s *Supervisor) Startup(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.loopStop = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.healthLoop(s.loopStop, s.loopDone)
	s.logger.Info().Str(log.FieldEvent, "supervisor.startup").
		Dur("startup_delay", s.cfg.StartupDelay).Dur("interval", s.cfg.HealthInterval).
		Msg("supervisor started")
	return nil
}

// ShutdownAll stops the health loop and every daemon in reverse priority order.
func (s *Supervisor) ShutdownAll(ctx context.Context) (Report, error) {
	s.mu.Lock()
	stop, done := s.loopStop, s.loopDone
	s.running = false
	s.loopStop, s.loopDone = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	rep, err := s.PackageStop(ctx)
	s.logger.Info().Str(log.FieldEvent, "supervisor.shutdown").
		Int("stopped", rep.Succeeded).Int("failed", rep.Failed).Msg("supervisor shut down")
	return rep, err
}
