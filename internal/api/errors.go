// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ManuGH/zmlive/internal/api/problem"
	"github.com/ManuGH/zmlive/internal/live"
	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/session"
	"github.com/ManuGH/zmlive/internal/source"
	"github.com/ManuGH/zmlive/internal/supervisor"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable is checked in order with errors.Is.
var errorTable = []errorMapping{
	{supervisor.ErrDaemonNotFound, http.StatusNotFound, "DAEMON_NOT_FOUND"},
	{supervisor.ErrExecutableNotFound, http.StatusNotFound, "EXECUTABLE_NOT_FOUND"},
	{supervisor.ErrNotRunning, http.StatusConflict, "DAEMON_NOT_RUNNING"},
	{supervisor.ErrSingletonConflict, http.StatusConflict, "SINGLETON_CONFLICT"},
	{supervisor.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{supervisor.ErrDatabaseUnavailable, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE"},
	{supervisor.ErrSignalUnsupported, http.StatusNotImplemented, "SIGNAL_UNSUPPORTED"},
	{supervisor.ErrSpawnFailed, http.StatusInternalServerError, "SPAWN_FAILED"},
	{live.ErrSessionExists, http.StatusConflict, "SESSION_EXISTS"},
	{live.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
	{live.ErrServiceUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	{live.ErrNoProtocol, http.StatusBadRequest, "NO_PROTOCOL"},
	{source.ErrSourceUnavailable, http.StatusNotFound, "SOURCE_UNAVAILABLE"},
	{source.ErrSourceNotFound, http.StatusNotFound, "SOURCE_NOT_FOUND"},
	{session.ErrMaxSessions, http.StatusTooManyRequests, "MAX_SESSIONS"},
	{session.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
}

func statusFor(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// writeError maps err onto a problem response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "api.request_failed").
			Str("code", code).
			Msg("request failed")
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeProblem(w, r, status, code, err.Error())
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	problem.Write(w, r, status, "api/"+strings.ToLower(code), http.StatusText(status), code, detail, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
