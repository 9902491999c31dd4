// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package live

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/metrics"
	"github.com/ManuGH/zmlive/internal/session"
	"github.com/ManuGH/zmlive/internal/source"
)

type liveSession struct {
	monitorID uint32
	cfg       LiveConfig
	info      source.MonitorInfo
	sinks     []Sink
	video     *source.Subscription[source.Packet]
	health    *source.HealthReceiver
	cancel    context.CancelFunc
	done      chan struct{}
	lagLog    rate.Sometimes
	logger    zerolog.Logger

	mu          sync.Mutex
	state       session.State
	startedAt   time.Time
	firstPacket time.Time
	packets     uint64
	bytes       uint64
	keyframes   uint64
	lagged      uint64
	err         error
}

func (ls *liveSession) setState(st session.State) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if !ls.state.IsTerminal() {
		ls.state = st
	}
}

// finish moves the session to a terminal state once. It reports whether
// the call made the transition.
func (ls *liveSession) finish(st session.State, err error) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.state.IsTerminal() {
		return false
	}
	ls.state = st
	if err != nil {
		ls.err = err
	}
	return true
}

// activate marks the session Active on its first sign of video.
func (ls *liveSession) activate() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.state != session.Starting {
		return
	}
	ls.state = session.Active
	ls.firstPacket = time.Now()
	startup := ls.firstPacket.Sub(ls.startedAt)
	metrics.ObserveLiveStartup(startup)
	ls.logger.Info().Str(log.FieldEvent, "live.session_active").Dur("startup", startup).Msg("first video received")
}

func (ls *liveSession) record(p source.Packet) {
	ls.mu.Lock()
	ls.packets++
	ls.bytes += uint64(len(p.Data))
	if p.Keyframe {
		ls.keyframes++
	}
	ls.mu.Unlock()
}

func (ls *liveSession) stats() SessionStats {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	st := SessionStats{
		MonitorID:     ls.monitorID,
		State:         ls.state,
		Config:        ls.cfg,
		StartedAt:     ls.startedAt,
		Packets:       ls.packets,
		Bytes:         ls.bytes,
		Keyframes:     ls.keyframes,
		Lagged:        ls.lagged,
		Reader:        ls.health.Peek(),
		UptimeSeconds: time.Since(ls.startedAt).Seconds(),
	}
	if !ls.firstPacket.IsZero() {
		first := ls.firstPacket
		st.FirstPacketAt = &first
		st.StartupSeconds = first.Sub(ls.startedAt).Seconds()
	}
	if ls.err != nil {
		st.Error = ls.err.Error()
	}
	return st
}

func (ls *liveSession) deliver(p source.Packet) {
	ls.activate()
	ls.record(p)
	for _, s := range ls.sinks {
		s.Deliver(p)
	}
}

func (ls *liveSession) checkLag() {
	n := ls.video.TakeLagged()
	if n == 0 {
		return
	}
	ls.activate()
	ls.mu.Lock()
	ls.lagged += n
	total := ls.lagged
	ls.mu.Unlock()
	ls.lagLog.Do(func() {
		ls.logger.Warn().
			Str(log.FieldEvent, "live.lagged").
			Uint64("skipped", n).
			Uint64("lagged_total", total).
			Msg("live session fell behind the source")
	})
}

// run multiplexes video, reader health and the startup deadline until the
// session ends.
func (c *Coordinator) run(ctx context.Context, ls *liveSession) {
	startup := time.NewTimer(c.startupTimeout)
	defer startup.Stop()
	deadline := startup.C

	for {
		select {
		case p, ok := <-ls.video.C():
			if !ok {
				c.ended(ls, nil)
				return
			}
			ls.checkLag()
			ls.deliver(p)
			if deadline != nil {
				startup.Stop()
				deadline = nil
			}

		case <-ls.health.Changed():
			h := ls.health.Borrow()
			ls.logger.Debug().
				Str(log.FieldEvent, "live.reader_health").
				Str("state", h.State.String()).
				Int("open_failures", h.OpenFailures).
				Str("last_error", h.LastError).
				Msg("reader health changed")

		case <-ls.health.Closed():
			ls.drain()
			h := ls.health.Borrow()
			var err error
			if h.LastError != "" {
				err = readerError(h.LastError)
			}
			c.ended(ls, err)
			return

		case <-deadline:
			ls.mu.Lock()
			started := ls.state != session.Starting
			ls.mu.Unlock()
			if started {
				deadline = nil
				continue
			}
			if ls.finish(session.Failed, ErrTimeout) {
				metrics.IncLiveOutcome("timeout")
			}
			ls.logger.Warn().
				Str(log.FieldEvent, "live.startup_timeout").
				Dur("timeout", c.startupTimeout).
				Msg("no video before startup timeout")
			return

		case <-ctx.Done():
			return

		case <-c.shutdown.Done():
			return
		}
	}
}

// drain forwards packets the reader published before it exited.
func (ls *liveSession) drain() {
	for {
		select {
		case p, ok := <-ls.video.C():
			if !ok {
				return
			}
			ls.checkLag()
			ls.deliver(p)
		default:
			return
		}
	}
}

func (c *Coordinator) ended(ls *liveSession, err error) {
	if !ls.finish(session.Stopped, err) {
		return
	}
	metrics.IncLiveOutcome("stopped")
	ev := ls.logger.Info()
	if err != nil {
		ev = ls.logger.Warn().Err(err)
	}
	ev.Str(log.FieldEvent, "live.reader_ended").Msg("source reader ended")
}

type readerError string

func (e readerError) Error() string { return string(e) }
