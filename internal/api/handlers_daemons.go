// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/zmlive/internal/control"
	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/metrics"
	"github.com/ManuGH/zmlive/internal/supervisor"
	"github.com/ManuGH/zmlive/internal/sysstats"
)

const (
	metricsFormat = "http"
	maxBodyBytes  = 64 << 10
)

// DaemonListResponse is returned by GET /api/v1/daemons.
type DaemonListResponse struct {
	Running bool                       `json:"running"`
	Daemons []supervisor.ProcessStatus `json:"daemons"`
}

// DaemonActionResponse is returned by the per-daemon actions.
type DaemonActionResponse struct {
	Message string                   `json:"message"`
	Daemon  supervisor.ProcessStatus `json:"daemon"`
}

// DaemonStartRequest is the optional body of a start request.
type DaemonStartRequest struct {
	// Args are appended to the catalog arguments for this spawn only.
	Args []string `json:"args,omitempty"`
}

// ReportResponse is returned by bulk operations.
type ReportResponse struct {
	Message string            `json:"message"`
	Report  supervisor.Report `json:"report"`
}

// SystemStatusResponse is returned by GET /api/v1/system/status.
type SystemStatusResponse struct {
	Running bool                       `json:"running"`
	Daemons []supervisor.ProcessStatus `json:"daemons"`
	Stats   *sysstats.Stats            `json:"stats,omitempty"`
}

// CommandResponse wraps a control service reply.
type CommandResponse struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// daemonID normalizes the {id} path segment, e.g. "zmc  -m 1" to "zmc -m 1".
// It writes a 400 and returns false when the segment does not parse.
func daemonID(w http.ResponseWriter, r *http.Request) (string, bool) {
	cmd, args, err := supervisor.ParseDaemonCommand(chi.URLParam(r, "id"), nil)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "INVALID_DAEMON", err.Error())
		return "", false
	}
	return supervisor.DaemonID(cmd, args), true
}

func (s *Server) handleListDaemons(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, DaemonListResponse{
		Running: s.deps.Supervisor.Running(),
		Daemons: s.deps.Supervisor.Status(),
	})
}

func (s *Server) handleGetDaemon(w http.ResponseWriter, r *http.Request) {
	id, ok := daemonID(w, r)
	if !ok {
		return
	}
	st, err := s.deps.Supervisor.StatusOf(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStartDaemon(w http.ResponseWriter, r *http.Request) {
	id, ok := daemonID(w, r)
	if !ok {
		return
	}
	var req DaemonStartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	outcome, err := s.deps.Supervisor.Start(r.Context(), id, req.Args)
	metrics.IncControlCommand(string(control.CmdStart), metricsFormat, err == nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg := fmt.Sprintf("'%s' started", id)
	if outcome == supervisor.AlreadyRunning {
		msg = fmt.Sprintf("'%s' already running", id)
	}
	s.writeDaemon(w, r, http.StatusOK, id, msg)
}

func (s *Server) handleStopDaemon(w http.ResponseWriter, r *http.Request) {
	s.daemonAction(w, r, control.CmdStop, "stopped", func(id string) error {
		return s.deps.Supervisor.Stop(r.Context(), id)
	})
}

func (s *Server) handleRestartDaemon(w http.ResponseWriter, r *http.Request) {
	s.daemonAction(w, r, control.CmdRestart, "restarted", func(id string) error {
		return s.deps.Supervisor.Restart(r.Context(), id)
	})
}

func (s *Server) handleReloadDaemon(w http.ResponseWriter, r *http.Request) {
	s.daemonAction(w, r, control.CmdReload, "reloaded", s.deps.Supervisor.Reload)
}

func (s *Server) daemonAction(w http.ResponseWriter, r *http.Request, kind control.Kind, verb string, fn func(string) error) {
	id, ok := daemonID(w, r)
	if !ok {
		return
	}
	err := fn(id)
	metrics.IncControlCommand(string(kind), metricsFormat, err == nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeDaemon(w, r, http.StatusOK, id, fmt.Sprintf("'%s' %s", id, verb))
}

func (s *Server) writeDaemon(w http.ResponseWriter, r *http.Request, status int, id, msg string) {
	st, err := s.deps.Supervisor.StatusOf(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "api.daemon_action").
		Str(log.FieldDaemon, id).
		Str("state", st.State.String()).
		Msg(msg)
	writeJSON(w, status, DaemonActionResponse{Message: msg, Daemon: st})
}

// handleReloadAll signals every running daemon to reopen its logs.
func (s *Server) handleReloadAll(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Supervisor.LogRotate()
	metrics.IncControlCommand(string(control.CmdLogrot), metricsFormat, err == nil)
	if err != nil && rep.Succeeded == 0 {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReportResponse{
		Message: fmt.Sprintf("Log rotation signalled to %d daemons, %d failed", rep.Succeeded, rep.Failed),
		Report:  rep,
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := SystemStatusResponse{
		Running: s.deps.Supervisor.Running(),
		Daemons: s.deps.Supervisor.Status(),
	}
	if s.deps.Stats != nil {
		if st, err := s.deps.Stats.Collect(r.Context()); err == nil {
			resp.Stats = &st
		} else {
			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Warn().Err(err).
				Str(log.FieldEvent, "api.stats_failed").Msg("system stats unavailable")
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeProblem(w, r, http.StatusServiceUnavailable, "STATS_UNAVAILABLE", "system stats are not collected")
		return
	}
	st, err := s.deps.Stats.Collect(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStartup(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, control.Command{Kind: control.CmdStartup})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, control.Command{Kind: control.CmdShutdown})
}

func (s *Server) handleApplyState(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, control.Command{Kind: control.CmdState, StateName: chi.URLParam(r, "name")})
}

// execute runs cmd through the control service, the same path the socket uses.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd control.Command) {
	resp := s.deps.Control.Execute(r.Context(), cmd)
	metrics.IncControlCommand(string(cmd.Kind), metricsFormat, resp.Success)
	if !resp.Success {
		writeProblem(w, r, http.StatusUnprocessableEntity, "COMMAND_FAILED", resp.Message)
		return
	}
	writeJSON(w, http.StatusOK, CommandResponse{Message: resp.Message, Data: resp.Data})
}
