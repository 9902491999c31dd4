// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/ManuGH/zmlive/internal/control"
	"github.com/ManuGH/zmlive/internal/supervisor"
	"github.com/ManuGH/zmlive/internal/version"
)

// send delivers c to the running controller. A reply with success=false
// becomes an error carrying the server message.
func send(cmd *cobra.Command, opts *rootOptions, c control.Command) (control.Response, error) {
	resp, err := control.Do(cmd.Context(), opts.socket, opts.timeout, c)
	if err != nil {
		return resp, fmt.Errorf("zmdc not reachable at %s: %w", opts.socket, err)
	}
	if !resp.Success {
		return resp, errors.New(resp.Message)
	}
	return resp, nil
}

func printReply(w io.Writer, opts *rootOptions, resp control.Response) error {
	if !opts.jsonOut {
		_, err := fmt.Fprintln(w, resp.Message)
		return err
	}
	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func runCommand(opts *rootOptions, build func(args []string) control.Command) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		resp, err := send(cmd, opts, build(args))
		if err != nil {
			return err
		}
		return printReply(cmd.OutOrStdout(), opts, resp)
	}
}

// newSimpleCmds builds the commands that take no arguments.
func newSimpleCmds(opts *rootOptions) []*cobra.Command {
	simple := []struct {
		kind  control.Kind
		short string
	}{
		{control.CmdStartup, "Start the configured daemons"},
		{control.CmdShutdown, "Stop every daemon and the controller"},
		{control.CmdCheck, "Report whether the supervisor is running"},
		{control.CmdLogrot, "Signal every daemon to reopen its logs"},
	}
	cmds := make([]*cobra.Command, 0, len(simple))
	for _, s := range simple {
		kind := s.kind
		cmds = append(cmds, &cobra.Command{
			Use:   string(kind),
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE:  runCommand(opts, func([]string) control.Command { return control.Command{Kind: kind} }),
		})
	}
	return cmds
}

// newDaemonCmds builds start/stop/restart/reload. "zmdc start zmc -m 1" and
// "zmdc start 'zmc -m 1'" address the same daemon.
func newDaemonCmds(opts *rootOptions) []*cobra.Command {
	daemons := []struct {
		kind  control.Kind
		short string
	}{
		{control.CmdStart, "Start a daemon"},
		{control.CmdStop, "Stop a daemon"},
		{control.CmdRestart, "Restart a daemon"},
		{control.CmdReload, "Send a daemon its reload signal"},
	}
	cmds := make([]*cobra.Command, 0, len(daemons))
	for _, d := range daemons {
		kind := d.kind
		c := &cobra.Command{
			Use:   string(kind) + " <daemon> [args...]",
			Short: d.short,
			Args:  cobra.MinimumNArgs(1),
			RunE: runCommand(opts, func(args []string) control.Command {
				return control.Command{Kind: kind, Daemon: args[0], Args: args[1:]}
			}),
		}
		// Daemon arguments such as -m belong to the daemon, not to zmdc.
		c.Flags().SetInterspersed(false)
		cmds = append(cmds, c)
	}
	return cmds
}

func newStateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state <name>",
		Short: "Apply a named run state",
		Args:  cobra.ExactArgs(1),
		RunE: runCommand(opts, func(args []string) control.Command {
			return control.Command{Kind: control.CmdState, StateName: args[0]}
		}),
	}
}

func newPackageCmd(opts *rootOptions) *cobra.Command {
	pkg := &cobra.Command{
		Use:   "package",
		Short: "Run a package-level start, stop or restart",
	}
	for _, k := range []control.Kind{control.CmdPkgStart, control.CmdPkgStop, control.CmdPkgRestart} {
		kind := k
		verb := strings.TrimPrefix(string(kind), "pkg_")
		pkg.AddCommand(&cobra.Command{
			Use:   verb,
			Short: "Package " + verb,
			Args:  cobra.NoArgs,
			RunE:  runCommand(opts, func([]string) control.Command { return control.Command{Kind: kind} }),
		})
	}
	return pkg
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print client and server versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "client:", version.String())
			resp, err := send(cmd, opts, control.Command{Kind: control.CmdVersion})
			if err != nil {
				fmt.Fprintln(out, "server: unavailable")
				return err
			}
			fmt.Fprintln(out, "server:", resp.Message)
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every managed daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := send(cmd, opts, control.Command{Kind: control.CmdStatus})
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printReply(cmd.OutOrStdout(), opts, resp)
			}
			var data control.StatusData
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			return renderStatus(cmd.OutOrStdout(), data)
		},
	}
}

func renderStatus(w io.Writer, data control.StatusData) error {
	state := "stopped"
	if data.Running {
		state = "running"
	}
	fmt.Fprintf(w, "supervisor: %s\n\n", state)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DAEMON\tSTATE\tPID\tUPTIME\tRESTARTS\tBACKOFF")
	for _, d := range data.Daemons {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			d.ID, d.State, pidColumn(d), uptimeColumn(d), d.RestartCount, backoffColumn(d.CurrentBackoff))
	}
	return tw.Flush()
}

func pidColumn(d supervisor.ProcessStatus) string {
	if d.PID == 0 {
		return "-"
	}
	return fmt.Sprint(d.PID)
}

func uptimeColumn(d supervisor.ProcessStatus) string {
	if d.State != supervisor.StateRunning || d.UptimeSeconds <= 0 {
		return "-"
	}
	return units.HumanDuration(time.Duration(d.UptimeSeconds) * time.Second)
}

func backoffColumn(b time.Duration) string {
	if b <= 0 {
		return "-"
	}
	return b.String()
}
