// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sourcePackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_source_packets_total",
		Help: "Packets published by FIFO readers, by monitor and kind.",
	}, []string{"monitor", "kind"})

	sourceBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_source_bytes_total",
		Help: "Payload bytes published by FIFO readers.",
	}, []string{"monitor"})

	sourceLagged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_source_lagged_packets_total",
		Help: "Packets skipped by slow subscribers.",
	}, []string{"monitor"})

	fifoOpenFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_fifo_open_failures_total",
		Help: "Failed FIFO open attempts.",
	}, []string{"monitor"})

	liveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zm_live_sessions",
		Help: "Current number of sessions, by protocol (live, hls, mse, webrtc).",
	}, []string{"protocol"})

	liveSessionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_live_session_outcomes_total",
		Help: "Terminal live session states (stopped, failed, timeout).",
	}, []string{"outcome"})

	liveStartupLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zm_live_startup_seconds",
		Help:    "Time from session start to the first packet.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	})

	sessionLagged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_session_lagged_messages_total",
		Help: "Outbound messages dropped for slow viewer sessions, by protocol.",
	}, []string{"protocol"})

	segmentsProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_segments_produced_total",
		Help: "fMP4 segments produced, by protocol.",
	}, []string{"protocol"})

	segmentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zm_segment_bytes_total",
		Help: "fMP4 bytes produced, by protocol.",
	}, []string{"protocol"})
)

func monitorLabel(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

// ObservePacket records one published packet.
func ObservePacket(monitorID uint32, kind string, size int) {
	m := monitorLabel(monitorID)
	sourcePackets.WithLabelValues(m, kind).Inc()
	sourceBytes.WithLabelValues(m).Add(float64(size))
}

// AddLagged records packets skipped by a lagging subscriber.
func AddLagged(monitorID uint32, n uint64) {
	sourceLagged.WithLabelValues(monitorLabel(monitorID)).Add(float64(n))
}

// AddSessionLagged records messages dropped for a slow viewer session.
func AddSessionLagged(protocol string, n uint64) {
	sessionLagged.WithLabelValues(protocol).Add(float64(n))
}

// IncFIFOOpenFailure records one failed FIFO open.
func IncFIFOOpenFailure(monitorID uint32) {
	fifoOpenFailures.WithLabelValues(monitorLabel(monitorID)).Inc()
}

// SessionOpened bumps the session gauge of protocol.
func SessionOpened(protocol string) { liveSessions.WithLabelValues(protocol).Inc() }

// SessionClosed lowers the session gauge of protocol.
func SessionClosed(protocol string) { liveSessions.WithLabelValues(protocol).Dec() }

// IncLiveOutcome records a terminal live session state.
func IncLiveOutcome(outcome string) { liveSessionOutcomes.WithLabelValues(outcome).Inc() }

// ObserveLiveStartup records the time to the first packet.
func ObserveLiveStartup(d time.Duration) { liveStartupLatency.Observe(d.Seconds()) }

// ObserveSegment records one produced segment.
func ObserveSegment(protocol string, size int) {
	segmentsProduced.WithLabelValues(protocol).Inc()
	segmentBytes.WithLabelValues(protocol).Add(float64(size))
}
