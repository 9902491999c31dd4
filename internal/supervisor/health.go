// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"math"
	"time"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/metrics"
	"github.com/ManuGH/zmlive/internal/procgroup"
)

func (s *Supervisor) healthLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if s.cfg.StartupDelay > 0 {
		delay := time.NewTimer(s.cfg.StartupDelay)
		select {
		case <-stop:
			delay.Stop()
			return
		case <-delay.C:
		}
	}

	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs one health pass: reap exits, sample activity, respawn, kill hung.
func (s *Supervisor) tick() {
	now := s.clock.Now()

	var hung []*child

	s.mu.Lock()
	for _, p := range s.procs {
		s.reapLocked(p, now)
	}

	for _, p := range s.procs {
		if c := s.sampleLocked(p, now); c != nil {
			hung = append(hung, c)
		}
	}

	if s.running {
		for _, p := range s.procs {
			if p.State != StateRestarting || now.Sub(p.LastStateChange) < p.CurrentBackoff {
				continue
			}
			s.logger.Info().Str(log.FieldEvent, "supervisor.respawn").
				Str(log.FieldDaemon, p.ID).Dur(log.FieldBackoff, p.CurrentBackoff).
				Uint32(log.FieldRestarts, p.RestartCount).Msg("backoff elapsed, respawning daemon")
			_ = s.spawnLocked(p)
		}
	}
	s.mu.Unlock()

	for _, c := range hung {
		go func(c *child) {
			_, _ = procgroup.Terminate(c.cmd, c.waitResult(), s.cfg.ShutdownTimeout)
		}(c)
	}
}

// reapLocked handles a child that exited on its own.
func (s *Supervisor) reapLocked(p *ManagedProcess, now time.Time) {
	if p.proc == nil || (p.State != StateRunning && p.State != StateStarting) || !p.proc.exited() {
		return
	}

	c := p.proc
	uptime := now.Sub(p.StartedAt)
	s.untrackPID(c.pid)
	p.proc = nil
	p.StartedAt = time.Time{}
	p.TermSentAt = time.Time{}

	ev := s.logger.Warn().Str(log.FieldEvent, "supervisor.exited").
		Str(log.FieldDaemon, p.ID).Int(log.FieldPID, c.pid).
		AnErr("exit", c.err).Dur("uptime", uptime)

	if !p.AutoRestart {
		p.setState(StateStopped, now)
		ev.Msg("daemon exited")
		return
	}

	if uptime > s.cfg.MaxBackoff {
		// Stable run: treat this as the first failure.
		p.RestartCount = 0
		p.CurrentBackoff = s.cfg.MinBackoff
	} else {
		if p.RestartCount < math.MaxUint32 {
			p.RestartCount++
		}
		p.CurrentBackoff = CalculateBackoff(p.RestartCount, s.cfg.MinBackoff, s.cfg.MaxBackoff)
	}

	reason := "exit"
	if p.hung {
		reason = "hang"
	}
	metrics.IncDaemonRestart(p.ID, reason)
	p.hung = false
	p.setState(StateRestarting, now)
	ev.Dur(log.FieldBackoff, p.CurrentBackoff).Uint32(log.FieldRestarts, p.RestartCount).
		Msg("daemon exited, restart scheduled")
}

// sampleLocked updates CPU activity and returns the child if it is hung.
func (s *Supervisor) sampleLocked(p *ManagedProcess, now time.Time) *child {
	if s.activity == nil || s.cfg.MaxHangDelay <= 0 || !p.def.HangCheck {
		return nil
	}
	if p.State != StateRunning || p.proc == nil || !p.TermSentAt.IsZero() {
		return nil
	}

	ticks, err := s.activity.CPUTicks(p.proc.pid)
	if err != nil {
		return nil
	}
	if ticks != p.lastTicks {
		p.lastTicks = ticks
		p.lastActivity = now
		return nil
	}
	if now.Sub(p.lastActivity) <= s.cfg.MaxHangDelay {
		return nil
	}

	p.hung = true
	p.TermSentAt = now
	metrics.IncDaemonHang(p.ID)
	s.logger.Error().Str(log.FieldEvent, "supervisor.hung").
		Str(log.FieldDaemon, p.ID).Int(log.FieldPID, p.proc.pid).
		Dur("idle", now.Sub(p.lastActivity)).Msg("daemon shows no CPU activity, restarting")
	return p.proc
}
