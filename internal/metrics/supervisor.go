// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	daemonState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zm_daemon_state",
		Help: "Current daemon state (1 for the active state label, 0 otherwise).",
	}, []string{"daemon", "state"})

	daemonRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_daemon_restarts_total",
		Help: "Total number of daemon restarts performed by the supervisor.",
	}, []string{"daemon", "reason"})

	daemonSpawnFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_daemon_spawn_failures_total",
		Help: "Total number of failed daemon spawns.",
	}, []string{"daemon"})

	daemonHangs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_daemon_hangs_total",
		Help: "Total number of hung daemons detected by the health loop.",
	}, []string{"daemon"})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_proc_terminate_total",
		Help: "Signals sent to process groups during termination, by signal and result.",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_proc_wait_total",
		Help: "Process wait outcomes after termination.",
	}, []string{"outcome"})

	controlCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_control_commands_total",
		Help: "Control socket commands handled, by command, wire format and result.",
	}, []string{"command", "format", "result"})
)

// DaemonStates lists every state label exported by SetDaemonState.
var DaemonStates = []string{"stopped", "starting", "running", "stopping", "failed", "restarting"}

// SetDaemonState flips the state gauge of a daemon to state.
func SetDaemonState(daemon, state string) {
	for _, s := range DaemonStates {
		v := 0.0
		if s == state {
			v = 1
		}
		daemonState.WithLabelValues(daemon, s).Set(v)
	}
}

// ForgetDaemon removes all series of a deregistered daemon.
func ForgetDaemon(daemon string) {
	for _, s := range DaemonStates {
		daemonState.DeleteLabelValues(daemon, s)
	}
}

// IncDaemonRestart counts a restart. reason is "exit" or "hang" or "manual".
func IncDaemonRestart(daemon, reason string) {
	daemonRestarts.WithLabelValues(daemon, reason).Inc()
}

// IncDaemonSpawnFailure counts a failed spawn.
func IncDaemonSpawnFailure(daemon string) {
	daemonSpawnFailures.WithLabelValues(daemon).Inc()
}

// IncDaemonHang counts a hang detection.
func IncDaemonHang(daemon string) {
	daemonHangs.WithLabelValues(daemon).Inc()
}

// IncProcTerminate records a termination signal outcome.
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process was reaped.
func IncProcWait(outcome string) {
	procWait.WithLabelValues(outcome).Inc()
}

// IncControlCommand records one handled control socket command.
func IncControlCommand(command, format string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	controlCommands.WithLabelValues(command, format, result).Inc()
}
