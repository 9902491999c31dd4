// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/zmlive/internal/live"
	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/session"
)

// LiveListResponse is returned by GET /api/v1/live.
type LiveListResponse struct {
	Available []string            `json:"available"`
	Sessions  []live.SessionStats `json:"sessions"`
}

func monitorID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "monitorID"), 10, 32)
	if err != nil || id == 0 {
		writeProblem(w, r, http.StatusBadRequest, "INVALID_MONITOR", "monitor id must be a positive integer")
		return 0, false
	}
	return uint32(id), true
}

func (s *Server) handleListLive(w http.ResponseWriter, _ *http.Request) {
	sessions := s.deps.Live.ListSessions()
	if sessions == nil {
		sessions = []live.SessionStats{}
	}
	writeJSON(w, http.StatusOK, LiveListResponse{Available: s.deps.Live.Available(), Sessions: sessions})
}

func (s *Server) handleGetLive(w http.ResponseWriter, r *http.Request) {
	id, ok := monitorID(w, r)
	if !ok {
		return
	}
	st, err := s.deps.Live.GetStats(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleStartLive starts a live session. An empty body enables every
// available protocol.
func (s *Server) handleStartLive(w http.ResponseWriter, r *http.Request) {
	id, ok := monitorID(w, r)
	if !ok {
		return
	}
	cfg, err := decodeLiveConfig(w, r, s.deps.Live.Available())
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := s.deps.Live.StartSession(r.Context(), id, cfg); err != nil {
		writeError(w, r, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "api.live_started").
		Uint32(log.FieldMonitorID, id).
		Strs("protocols", cfg.Protocols()).
		Msg("live session started")

	st, err := s.deps.Live.GetStats(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleStopLive(w http.ResponseWriter, r *http.Request) {
	id, ok := monitorID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Live.StopSession(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeLiveConfig(w http.ResponseWriter, r *http.Request, available []string) (live.LiveConfig, error) {
	var cfg live.LiveConfig
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(&cfg)
	if errors.Is(err, io.EOF) {
		return defaultLiveConfig(available), nil
	}
	return cfg, err
}

func defaultLiveConfig(available []string) live.LiveConfig {
	var cfg live.LiveConfig
	for _, p := range available {
		switch p {
		case session.ProtocolHLS:
			cfg.EnableHLS = true
		case session.ProtocolMSE:
			cfg.EnableMSE = true
		case session.ProtocolWebRTC:
			cfg.EnableWebRTC = true
		}
	}
	return cfg
}
