// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the structured HTTP API: daemon control, system status,
// live session control and the HLS, MSE and WebRTC delivery endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/api/middleware"
	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/control"
	"github.com/ManuGH/zmlive/internal/health"
	"github.com/ManuGH/zmlive/internal/live"
	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/sysstats"
	"github.com/ManuGH/zmlive/internal/webrtc"
)

// LiveService controls live sessions. *live.Coordinator satisfies it.
type LiveService interface {
	StartSession(ctx context.Context, monitorID uint32, cfg live.LiveConfig) error
	StopSession(ctx context.Context, monitorID uint32) error
	GetStats(monitorID uint32) (live.SessionStats, error)
	ListSessions() []live.SessionStats
	Available() []string
}

// StatsCollector samples host resource usage. *sysstats.Collector satisfies it.
type StatsCollector interface {
	Collect(ctx context.Context) (sysstats.Stats, error)
}

// Deps are the collaborators behind the API. Nil delivery handlers leave
// their routes unmounted.
type Deps struct {
	Supervisor control.Supervisor
	Control    *control.Service
	Stats      StatsCollector
	Live       LiveService
	Health     *health.Manager

	// HLS is mounted at /hls/{monitorID}.
	HLS http.Handler
	// MSE serves GET /mse/{monitorID}/ws.
	MSE    http.Handler
	WebRTC *webrtc.Signaling
}

// Server owns the API router.
type Server struct {
	cfg    config.AppConfig
	deps   Deps
	router *chi.Mux
	logger zerolog.Logger
}

// New builds the router for cfg. Supervisor and Control are required.
func New(cfg config.AppConfig, deps Deps) (*Server, error) {
	if deps.Supervisor == nil || deps.Control == nil {
		return nil, fmt.Errorf("api: supervisor and control service are required")
	}
	trusted, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	s := &Server{cfg: cfg, deps: deps, logger: log.WithComponent("api")}

	var tracing string
	if cfg.Telemetry.Enabled {
		tracing = cfg.Telemetry.ServiceName
	}
	s.router = middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            len(cfg.Server.AllowedOrigins) > 0,
		AllowedOrigins:        cfg.Server.AllowedOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        tracing,
		EnableLogging:         true,
		RateLimit:             cfg.Server.RateLimit,
		TrustedProxies:        trusted,
	})
	s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router

	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.ServeHealth)
		r.Get("/readyz", s.deps.Health.ServeReady)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/daemons", func(r chi.Router) {
			r.Get("/", s.handleListDaemons)
			r.Post("/reload", s.handleReloadAll)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDaemon)
				r.Post("/start", s.handleStartDaemon)
				r.Post("/stop", s.handleStopDaemon)
				r.Post("/restart", s.handleRestartDaemon)
				r.Post("/reload", s.handleReloadDaemon)
			})
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleSystemStatus)
			r.Get("/stats", s.handleSystemStats)
			r.Post("/startup", s.handleStartup)
			r.Post("/shutdown", s.handleShutdown)
		})

		r.Post("/states/{name}/apply", s.handleApplyState)

		if s.deps.Live != nil {
			r.Route("/live", func(r chi.Router) {
				r.Get("/", s.handleListLive)
				r.Get("/{monitorID}", s.handleGetLive)
				r.Post("/{monitorID}/start", s.handleStartLive)
				r.Post("/{monitorID}/stop", s.handleStopLive)
			})
		}

		if sig := s.deps.WebRTC; sig != nil {
			r.Route("/webrtc", func(r chi.Router) {
				r.Post("/{monitorID}/offer", sig.HandleOffer)
				r.Get("/sessions", sig.HandleSessions)
				r.Get("/sessions/{sessionID}", sig.HandleStats)
				r.Delete("/sessions/{sessionID}", sig.HandleHangup)
			})
		}
	})

	if s.deps.HLS != nil {
		r.Mount("/hls/{monitorID}", s.deps.HLS)
	}
	if s.deps.MSE != nil {
		r.Get("/mse/{monitorID}/ws", s.deps.MSE.ServeHTTP)
	}
	if s.deps.WebRTC != nil {
		r.Get("/webrtc/ws", s.deps.WebRTC.ServeWS)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "NOT_FOUND", "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" not allowed")
	})
}
