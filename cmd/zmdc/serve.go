// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/daemon"
	"github.com/ManuGH/zmlive/internal/health"
	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon controller in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	// Safe defaults until the config is loaded.
	log.Configure(log.Config{Level: "info", Service: "zmdc", Version: version.Version})
	logger := log.WithComponent("main")

	loader := config.NewLoader(opts.config, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str(log.FieldPath, opts.config).
			Msg("failed to load configuration")
		return err
	}
	if cmd.Flags().Changed("socket") {
		cfg.Control.SocketPath = opts.socket
	}

	log.Configure(log.Config{Level: cfg.Log.Level, Service: cfg.Log.Service, Version: cfg.Version})
	if opts.config != "" {
		logger.Info().Str(log.FieldEvent, "config.loaded").Str("source", "file").Str(log.FieldPath, opts.config).Msg("loaded configuration from file")
	} else {
		logger.Info().Str(log.FieldEvent, "config.loaded").Str("source", "env+defaults").Msg("loaded configuration from environment and defaults")
	}

	ctx, stop := daemon.WaitForShutdown()
	defer stop()

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "startup.check_failed").Msg("startup checks failed, verify configuration and permissions")
		return err
	}

	var holder *config.ConfigHolder
	if opts.config != "" {
		holder = config.NewConfigHolder(cfg, loader)
	}

	d, err := daemon.New(ctx, cfg, holder)
	if err != nil {
		return fmt.Errorf("initialize daemon: %w", err)
	}
	logger.Info().
		Str(log.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("listen", cfg.Server.ListenAddr).
		Str(log.FieldSocketPath, cfg.Control.SocketPath).
		Msg("starting zmdc")

	if err := d.Run(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("daemon stopped with error")
		return err
	}
	logger.Info().Str(log.FieldEvent, "shutdown.complete").Msg("zmdc stopped")
	return nil
}
