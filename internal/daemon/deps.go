// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/control"
)

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// Config is the full application configuration
	Config config.AppConfig

	// APIHandler is the HTTP handler for the API server
	APIHandler http.Handler

	// MetricsHandler is the HTTP handler for Prometheus metrics (if enabled)
	MetricsHandler http.Handler
	MetricsAddr    string

	// ControlServer serves the local control socket. Optional.
	ControlServer *control.Server

	// Background loops run for the lifetime of the manager.
	Background []BackgroundTask
}

// BackgroundTask is a named loop that returns once ctx is done.
type BackgroundTask struct {
	Name string
	Run  func(ctx context.Context)
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	// Config validation is done by config.Loader
	return nil
}
