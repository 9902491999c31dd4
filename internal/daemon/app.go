// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/shutdown"
	"github.com/ManuGH/zmlive/internal/supervisor"
)

// App owns the long-lived runtime lifecycle (PID file, config watcher,
// reload signal, shutdown broadcast) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.ConfigHolder
	shutdown     *shutdown.Broadcast
	pidFile      string
	reloadSignal os.Signal
}

// AppOption customizes an App.
type AppOption func(*App)

// WithConfigHolder enables the config watcher and SIGHUP reload.
func WithConfigHolder(h *config.ConfigHolder) AppOption {
	return func(a *App) { a.cfgHolder = h }
}

// WithShutdownBroadcast ends Run when b fires, e.g. after a "shutdown"
// control command.
func WithShutdownBroadcast(b *shutdown.Broadcast) AppOption {
	return func(a *App) { a.shutdown = b }
}

// WithPIDFile writes the daemon PID to path for the lifetime of Run.
func WithPIDFile(path string) AppOption {
	return func(a *App) { a.pidFile = path }
}

// NewApp creates a new App orchestrator.
func NewApp(logger zerolog.Logger, manager Manager, opts ...AppOption) *App {
	a := &App{
		logger:       logger,
		manager:      manager,
		reloadSignal: syscall.SIGHUP,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	if a.pidFile != "" {
		if err := supervisor.WritePIDFile(a.pidFile, os.Getpid()); err != nil {
			return err
		}
		defer func() {
			if err := supervisor.RemovePIDFile(a.pidFile); err != nil {
				a.logger.Warn().Err(err).Str(log.FieldPath, a.pidFile).Msg("failed to remove pid file")
			}
		}()
	}

	if a.shutdown != nil {
		var cancel context.CancelFunc
		ctx, cancel = a.shutdown.Context(ctx)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		defer a.cfgHolder.Stop()
	}

	// Log level follows reloads; everything else needs a restart.
	if a.cfgHolder != nil {
		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					log.Configure(log.Config{
						Level:   cfg.Log.Level,
						Service: cfg.Log.Service,
						Version: cfg.Version,
					})
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(context.Background()); err != nil {
						a.logger.Warn().
							Err(err).
							Str(log.FieldEvent, "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
