// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the zmdc components together and runs them until
// shutdown.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/api"
	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/control"
	"github.com/ManuGH/zmlive/internal/health"
	"github.com/ManuGH/zmlive/internal/hls"
	"github.com/ManuGH/zmlive/internal/live"
	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/mse"
	"github.com/ManuGH/zmlive/internal/session"
	"github.com/ManuGH/zmlive/internal/shutdown"
	"github.com/ManuGH/zmlive/internal/source"
	"github.com/ManuGH/zmlive/internal/store"
	"github.com/ManuGH/zmlive/internal/supervisor"
	"github.com/ManuGH/zmlive/internal/sysstats"
	"github.com/ManuGH/zmlive/internal/telemetry"
	"github.com/ManuGH/zmlive/internal/version"
	"github.com/ManuGH/zmlive/internal/webrtc"
)

const dbPingTimeout = 2 * time.Second

// Daemon is a fully wired zmdc instance.
type Daemon struct {
	cfg        config.AppConfig
	logger     zerolog.Logger
	supervisor *supervisor.Supervisor
	control    *control.Service
	live       *live.Coordinator
	api        *api.Server
	manager    Manager
	app        *App
}

// New builds every component from cfg. holder enables hot reload and may be
// nil. Resources opened before a failure are released.
func New(ctx context.Context, cfg config.AppConfig, holder *config.ConfigHolder) (*Daemon, error) {
	if cfg.Version == "" {
		cfg.Version = version.Version
	}
	logger := log.WithComponent("daemon")

	var closers []func()
	fail := func(err error) (*Daemon, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Telemetry initialization failed, continuing without tracing")
		tel = nil
		cfg.Telemetry.Enabled = false
	} else if tel.Enabled() {
		logger.Info().
			Str("service", cfg.Telemetry.ServiceName).
			Str("endpoint", cfg.Telemetry.Endpoint).
			Float64("sampling_rate", cfg.Telemetry.SamplingRate).
			Msg("Telemetry initialized")
		closers = append(closers, func() { _ = tel.Shutdown(context.Background()) })
	}

	var db *store.Store
	if cfg.Database.Path != "" {
		db, err = store.Open(ctx, cfg.Database.Path, cfg.Database.BusyTimeout)
		if err != nil {
			return fail(fmt.Errorf("open database: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
	}

	supOpts := []supervisor.Option{}
	if sampler, err := supervisor.NewProcActivity("/proc"); err == nil {
		supOpts = append(supOpts, supervisor.WithActivitySampler(sampler))
	} else {
		logger.Warn().Err(err).Msg("procfs unavailable, hang detection disabled")
	}
	if db != nil {
		supOpts = append(supOpts, supervisor.WithDBProbe(db))
	}
	sup := supervisor.New(supervisor.Config{
		MinBackoff:      cfg.Supervisor.MinBackoff,
		MaxBackoff:      cfg.Supervisor.MaxBackoff,
		MaxHangDelay:    cfg.Supervisor.MaxHangDelay,
		HealthInterval:  cfg.Supervisor.HealthInterval,
		StartupDelay:    cfg.Supervisor.StartupDelay,
		ShutdownTimeout: cfg.Supervisor.ShutdownTimeout,
		DBProbeTimeout:  cfg.Supervisor.DBProbeTimeout,
		Paths:           supervisor.PathResolver{
			BinDir:     cfg.Paths.BinDir,
			ScriptDir:  cfg.Paths.ScriptDir,
			SearchPATH: true,
		},
	}, supOpts...)
	for _, id := range cfg.Supervisor.Daemons {
		if err := sup.Add(id); err != nil {
			return fail(fmt.Errorf("configured daemon %q: %w", id, err))
		}
	}

	bc := shutdown.New()
	svcOpts := []control.ServiceOption{control.WithShutdownBroadcast(bc)}
	if db != nil {
		svcOpts = append(svcOpts, control.WithStateApplier(&control.DBStateApplier{Store: db, Capture: sup}))
	}
	svc := control.NewService(sup, svcOpts...)
	ctrl := control.NewServer(control.ServerConfig{
		SocketPath:     cfg.Control.SocketPath,
		MaxConnections: cfg.Control.MaxConnections,
		ReadTimeout:    cfg.Control.ReadTimeout,
	}, svc)

	static, err := source.NewStaticMonitors(cfg.FIFO.Dir, cfg.FIFO.Monitors)
	if err != nil {
		return fail(fmt.Errorf("fifo monitors: %w", err))
	}
	var lookup source.Chain
	if db != nil {
		lookup = append(lookup, source.StoreMonitors{Store: db, FifoDir: cfg.FIFO.Dir})
	}
	lookup = append(lookup, static)
	router := source.NewRouter(source.Config{
		FifoDir:        cfg.FIFO.Dir,
		MaxOpenRetries: cfg.FIFO.MaxOpenRetries,
		RetryInterval:  cfg.FIFO.RetryInterval,
		ReadBufferSize: cfg.FIFO.ReadBufferSize,
		VideoBuffer:    cfg.Live.VideoBufferSize,
		AudioBuffer:    cfg.Live.AudioBufferSize,
	}, lookup)
	closers = append(closers, router.Close)

	apiDeps := api.Deps{Supervisor: sup, Control: svc}
	liveOpts := []live.Option{
		live.WithStartupTimeout(cfg.Live.StartupTimeout),
		live.WithShutdown(bc),
	}
	var background []BackgroundTask
	// Hooks run LIFO: live, sinks, router, supervisor, database, telemetry.
	var sinkHooks []namedHook

	if cfg.HLS.Enabled {
		hlsMgr := hls.NewManager(cfg.HLS)
		liveOpts = append(liveOpts, live.WithHLS(hlsMgr))
		apiDeps.HLS = hlsMgr.Routes()
		background = append(background, sweeperTask(session.Sweeper{
			Name:     "hls_idle",
			Interval: cfg.HLS.SessionIdleTimeout / 2,
			Sweep:    hlsMgr.SweepIdle,
		}))
		sinkHooks = append(sinkHooks, namedHook{"hls", func(context.Context) error {
			hlsMgr.Close()
			return nil
		}})
	}
	if cfg.WebRTC.Enabled {
		rtc, err := webrtc.NewManager(cfg.WebRTC)
		if err != nil {
			return fail(fmt.Errorf("webrtc: %w", err))
		}
		liveOpts = append(liveOpts, live.WithWebRTC(rtc))
		apiDeps.WebRTC = webrtc.NewSignaling(rtc, cfg.Server.AllowedOrigins)
		background = append(background, sweeperTask(session.Sweeper{
			Name:     "webrtc_stale",
			Interval: cfg.WebRTC.CleanupInterval,
			Sweep:    rtc.Sweep,
		}))
		sinkHooks = append(sinkHooks, namedHook{"webrtc", func(context.Context) error {
			rtc.Close()
			return nil
		}})
	}
	if cfg.MSE.Enabled {
		mseMgr := mse.NewManager(cfg.MSE, mse.WithAllowedOrigins(cfg.Server.AllowedOrigins))
		liveOpts = append(liveOpts, live.WithMSE(mseMgr))
		apiDeps.MSE = mseMgr
		sinkHooks = append(sinkHooks, namedHook{"mse", mseMgr.Close})
	}

	coord := live.NewCoordinator(router, liveOpts...)
	apiDeps.Live = coord

	collector := sysstats.New("/proc", cfg.Paths.EventsDir)
	apiDeps.Stats = collector

	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewSupervisorChecker(sup.Running))
	hm.RegisterChecker(health.NewDirChecker("fifo_dir", cfg.FIFO.Dir, true))
	hm.RegisterChecker(health.NewDirChecker("events_dir", cfg.Paths.EventsDir, false))
	if db != nil {
		hm.RegisterChecker(health.NewPingChecker("database", dbPingTimeout, db.Ping))
	}
	apiDeps.Health = hm

	apiSrv, err := api.New(cfg, apiDeps)
	if err != nil {
		return fail(err)
	}

	if db != nil && cfg.Database.StatsInterval > 0 {
		rec := &statsRecorder{
			src:       collector,
			sink:      db,
			interval:  cfg.Database.StatsInterval,
			retention: cfg.Database.StatsRetention,
			logger:    log.WithComponent("stats"),
		}
		background = append(background, rec.task())
	}
	if len(cfg.Supervisor.Daemons) > 0 {
		background = append(background, autostartTask(sup, cfg.Supervisor.Daemons, logger))
	}

	serverCfg, err := config.ServerConfigFor(cfg)
	if err != nil {
		return fail(fmt.Errorf("server config: %w", err))
	}
	deps := Deps{
		Logger:        logger,
		Config:        cfg,
		APIHandler:    apiSrv.Handler(),
		ControlServer: ctrl,
		Background:    background,
	}
	if cfg.Metrics.Enabled {
		deps.MetricsHandler = metricsMux()
		deps.MetricsAddr = cfg.Metrics.ListenAddr
	}
	mgr, err := NewManager(serverCfg, deps)
	if err != nil {
		return fail(err)
	}

	if tel != nil {
		mgr.RegisterShutdownHook("telemetry", tel.Shutdown)
	}
	if db != nil {
		mgr.RegisterShutdownHook("database", func(context.Context) error { return db.Close() })
	}
	mgr.RegisterShutdownHook("supervisor", func(ctx context.Context) error {
		_, err := sup.ShutdownAll(ctx)
		return err
	})
	mgr.RegisterShutdownHook("source_router", func(context.Context) error {
		router.Close()
		return nil
	})
	for _, h := range sinkHooks {
		mgr.RegisterShutdownHook(h.name, h.hook)
	}
	mgr.RegisterShutdownHook("live", coord.Shutdown)

	appOpts := []AppOption{WithShutdownBroadcast(bc), WithPIDFile(cfg.Supervisor.PIDFile)}
	if holder != nil {
		appOpts = append(appOpts, WithConfigHolder(holder))
	}

	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		supervisor: sup,
		control:    svc,
		live:       coord,
		api:        apiSrv,
		manager:    mgr,
		app:        NewApp(logger, mgr, appOpts...),
	}, nil
}

// Run starts the supervisor and blocks until ctx is done or a "shutdown"
// control command arrives.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info().
		Str("version", d.cfg.Version).
		Str("listen", d.cfg.Server.ListenAddr).
		Str(log.FieldSocketPath, d.cfg.Control.SocketPath).
		Msg("Starting zmdc daemon")

	if err := d.supervisor.Startup(ctx); err != nil {
		return fmt.Errorf("supervisor startup: %w", err)
	}
	return d.app.Run(ctx)
}

// Handler returns the API handler.
func (d *Daemon) Handler() http.Handler { return d.api.Handler() }

// Supervisor returns the process supervisor.
func (d *Daemon) Supervisor() *supervisor.Supervisor { return d.supervisor }

// Control returns the command executor shared by the socket and the API.
func (d *Daemon) Control() *control.Service { return d.control }

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func sweeperTask(s session.Sweeper) BackgroundTask {
	return BackgroundTask{Name: s.Name, Run: s.Run}
}

// autostartTask starts the configured daemons once. Failures are logged and
// left to the operator.
func autostartTask(sup *supervisor.Supervisor, ids []string, logger zerolog.Logger) BackgroundTask {
	return BackgroundTask{Name: "autostart", Run: func(ctx context.Context) {
		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}
			if _, err := sup.Start(ctx, id, nil); err != nil {
				logger.Warn().Err(err).Str(log.FieldDaemon, id).Str(log.FieldEvent, "daemon.autostart_failed").Msg("configured daemon did not start")
			}
		}
	}}
}

// WaitForShutdown waits for interrupt/termination signals.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
