// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/shutdown"
	"github.com/ManuGH/zmlive/internal/supervisor"
	"github.com/ManuGH/zmlive/internal/version"
)

// Supervisor is the process table the service drives.
type Supervisor interface {
	Startup(ctx context.Context) error
	ShutdownAll(ctx context.Context) (supervisor.Report, error)
	Running() bool
	Status() []supervisor.ProcessStatus
	StatusOf(id string) (supervisor.ProcessStatus, error)
	Start(ctx context.Context, id string, extra []string) (supervisor.StartOutcome, error)
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	Reload(id string) error
	LogRotate() (supervisor.Report, error)
	PackageStart(ctx context.Context) (supervisor.Report, error)
	PackageStop(ctx context.Context) (supervisor.Report, error)
	PackageRestart(ctx context.Context) (supervisor.Report, error)
}

// StateApplier applies a named run state.
type StateApplier interface {
	ApplyState(ctx context.Context, name string) (StateResult, error)
}

// StatusData is the payload of a status response.
type StatusData struct {
	Running bool                       `json:"running"`
	Daemons []supervisor.ProcessStatus `json:"daemons"`
}

// Service executes commands against the supervisor. Both the socket server
// and the HTTP API call it.
type Service struct {
	sup      Supervisor
	states   StateApplier
	shutdown *shutdown.Broadcast
	logger   zerolog.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithStateApplier sets the collaborator used by the state command.
func WithStateApplier(a StateApplier) ServiceOption {
	return func(s *Service) { s.states = a }
}

// WithShutdownBroadcast makes the shutdown command fire b.
func WithShutdownBroadcast(b *shutdown.Broadcast) ServiceOption {
	return func(s *Service) { s.shutdown = b }
}

// NewService builds a service for sup.
func NewService(sup Supervisor, opts ...ServiceOption) *Service {
	s := &Service{sup: sup, logger: log.WithComponent("control")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs c. Failures are reported in the response, never as panics.
func (s *Service) Execute(ctx context.Context, c Command) Response {
	if err := c.Validate(); err != nil {
		return Fail(err.Error())
	}

	switch c.Kind {
	case CmdStartup:
		if s.sup.Running() {
			return OK("Supervisor already running", nil)
		}
		if err := s.sup.Startup(ctx); err != nil {
			return Fail(fmt.Sprintf("startup failed: %v", err))
		}
		return OK("Supervisor started", nil)

	case CmdShutdown:
		return s.Shutdown(ctx)

	case CmdStatus:
		return OK("Status retrieved", StatusData{Running: s.sup.Running(), Daemons: s.sup.Status()})

	case CmdCheck:
		if s.sup.Running() {
			return OK("running", nil)
		}
		return OK("stopped", nil)

	case CmdLogrot:
		rep, err := s.sup.LogRotate()
		if err != nil {
			return Response{Message: fmt.Sprintf("Log rotation signalled to %d daemons, %d failed", rep.Succeeded, rep.Failed)}
		}
		return OK(fmt.Sprintf("Log rotation signalled to %d daemons", rep.Succeeded), rep)

	case CmdVersion:
		return OK(version.Version, map[string]string{
			"version": version.Version, "commit": version.Commit, "date": version.Date,
		})

	case CmdStart:
		return s.StartDaemon(ctx, c.Daemon, c.Args)
	case CmdStop:
		return s.daemonAction(supervisor.DaemonID(c.Daemon, c.Args), "stopped", func(id string) error {
			return s.sup.Stop(ctx, id)
		})
	case CmdRestart:
		return s.daemonAction(supervisor.DaemonID(c.Daemon, c.Args), "restarted", func(id string) error {
			return s.sup.Restart(ctx, id)
		})
	case CmdReload:
		return s.daemonAction(supervisor.DaemonID(c.Daemon, c.Args), "reloaded", s.sup.Reload)

	case CmdPkgStart:
		return packageResponse(ctx, "Package start", s.sup.PackageStart)
	case CmdPkgStop:
		return packageResponse(ctx, "Package stop", s.sup.PackageStop)
	case CmdPkgRestart:
		return packageResponse(ctx, "Package restart", s.sup.PackageRestart)

	case CmdState:
		return s.ApplyState(ctx, c.StateName)
	}
	return Fail(fmt.Sprintf("%v: %s", ErrUnknownCommand, c.Kind))
}

// StartDaemon starts daemon with args. An already running daemon is a success.
func (s *Service) StartDaemon(ctx context.Context, daemon string, args []string) Response {
	id := supervisor.DaemonID(daemon, args)
	outcome, err := s.sup.Start(ctx, id, nil)
	if err != nil {
		return Fail(err.Error())
	}
	st, _ := s.sup.StatusOf(id)
	if outcome == supervisor.AlreadyRunning {
		return OK(fmt.Sprintf("'%s' already running", id), st)
	}
	return OK(fmt.Sprintf("'%s' started", id), st)
}

func (s *Service) daemonAction(id, verb string, fn func(string) error) Response {
	if err := fn(id); err != nil {
		return Fail(err.Error())
	}
	st, _ := s.sup.StatusOf(id)
	return OK(fmt.Sprintf("'%s' %s", id, verb), st)
}

func packageResponse(ctx context.Context, what string, op func(context.Context) (supervisor.Report, error)) Response {
	rep, err := op(ctx)
	msg := fmt.Sprintf("%s: %d ok, %d skipped, %d failed", what, rep.Succeeded, rep.Skipped, rep.Failed)
	if err != nil && rep.Succeeded == 0 && rep.Skipped == 0 {
		return Fail(msg)
	}
	return OK(msg, rep)
}

// Shutdown stops every daemon in reverse priority order, marks the
// supervisor stopped and fires the global shutdown broadcast.
func (s *Service) Shutdown(ctx context.Context) Response {
	rep, err := s.sup.ShutdownAll(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "control.shutdown_partial").Msg("some daemons did not stop cleanly")
	}
	if s.shutdown != nil {
		s.shutdown.Trigger()
	}
	return OK(fmt.Sprintf("Shutdown complete: %d stopped, %d failed", rep.Succeeded, rep.Failed), rep)
}

// ApplyState applies name through the configured applier. Without one the
// command succeeds as a no-op.
func (s *Service) ApplyState(ctx context.Context, name string) Response {
	if s.states == nil {
		return OK(fmt.Sprintf("State '%s' accepted (no state store configured)", name), StateResult{Name: name})
	}
	res, err := s.states.ApplyState(ctx, name)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return Fail(fmt.Sprintf("state '%s' not found", name))
		}
		return Fail(fmt.Sprintf("apply state '%s': %v", name, err))
	}
	return OK(fmt.Sprintf("State '%s' applied to %d monitors", name, len(res.Monitors)), res)
}
