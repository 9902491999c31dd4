// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command zmdc runs the ZoneMinder daemon controller and talks to a
// running instance over its control socket.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/version"
)

type rootOptions struct {
	socket  string
	config  string
	timeout time.Duration
	jsonOut bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "zmdc:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "zmdc",
		Short:         "ZoneMinder daemon controller and live streaming server",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&opts.socket, "socket", config.ParseString("ZM_CONTROL_SOCKET", config.DefaultSocketPath), "control socket path")
	flags.StringVar(&opts.config, "config", config.ParseString("ZM_CONFIG", ""), "path to config file (YAML)")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "control request timeout")
	flags.BoolVar(&opts.jsonOut, "json", false, "print raw JSON replies")

	root.AddCommand(
		newServeCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(opts),
		newStateCmd(opts),
		newPackageCmd(opts),
	)
	root.AddCommand(newSimpleCmds(opts)...)
	root.AddCommand(newDaemonCmds(opts)...)
	return root
}
