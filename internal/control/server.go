// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/metrics"
)

// ErrSocketInUse means another controller holds the socket lock.
var ErrSocketInUse = errors.New("control socket in use by another process")

const maxLineBytes = 64 << 10

// ServerConfig configures the socket listener.
type ServerConfig struct {
	SocketPath     string
	MaxConnections int
	ReadTimeout    time.Duration
	// ExecTimeout bounds a single command. Zero means no limit.
	ExecTimeout time.Duration
}

// Server accepts one command per connection on a unix socket.
type Server struct {
	cfg    ServerConfig
	svc    *Service
	logger zerolog.Logger

	lock *flock.Flock
	ln   net.Listener

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewServer returns an unbound server.
func NewServer(cfg ServerConfig, svc *Service) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 32
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	return &Server{
		cfg:    cfg,
		svc:    svc,
		logger: log.WithComponent("control.socket"),
	}
}

// Listen takes the single-instance lock, removes a stale socket file and binds.
func (s *Server) Listen() error {
	path := s.cfg.SocketPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrSocketInUse, path)
	}

	// We hold the lock, so any socket file left behind is stale.
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = lock.Unlock()
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		_ = lock.Unlock()
		return fmt.Errorf("listen %s: %w", path, err)
	}
	// #nosec G302 -- legacy clients run as arbitrary users
	if err := os.Chmod(path, 0o777); err != nil {
		_ = ln.Close()
		_ = lock.Unlock()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.lock = lock
	s.ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	s.logger.Info().Str(log.FieldEvent, "control.listening").
		Str(log.FieldSocketPath, path).Int("max_connections", s.cfg.MaxConnections).
		Msg("control socket listening")
	return nil
}

// Addr returns the socket path.
func (s *Server) Addr() string { return s.cfg.SocketPath }

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("control: Serve called before Listen")
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn().Err(err).Str(log.FieldEvent, "control.accept_failed").Msg("accept failed")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	line, err := bufio.NewReader(io.LimitReader(conn, maxLineBytes)).ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		s.logger.Debug().Err(err).Str(log.FieldEvent, "control.read_failed").Msg("failed to read command")
		return
	}

	resp, format := s.dispatch(ctx, line)

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.ReadTimeout))
	w := bufio.NewWriter(conn)
	_, _ = w.WriteString(resp.Encode(format) + "\n")
	if err := w.Flush(); err != nil {
		s.logger.Debug().Err(err).Str(log.FieldEvent, "control.write_failed").Msg("failed to write response")
	}
}

func (s *Server) dispatch(ctx context.Context, line string) (Response, Format) {
	cmd, format, err := Parse(line)
	if err != nil {
		metrics.IncControlCommand("invalid", string(format), false)
		return Fail(err.Error()), format
	}

	if s.cfg.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ExecTimeout)
		defer cancel()
	}
	start := time.Now()
	resp := s.svc.Execute(ctx, cmd)
	metrics.IncControlCommand(string(cmd.Kind), string(format), resp.Success)

	s.logger.Info().Str(log.FieldEvent, "control.command").
		Str("command", string(cmd.Kind)).Str("daemon", cmd.Daemon).
		Str("format", string(format)).Bool("success", resp.Success).
		Dur("duration", time.Since(start)).Msg(resp.Message)
	return resp, format
}

// Close stops accepting, removes the socket file and releases the lock.
// In-flight connections finish on their own.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.ln != nil {
			err = s.ln.Close()
		}
		if rmErr := os.Remove(s.cfg.SocketPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
		if s.lock != nil {
			if uerr := s.lock.Unlock(); uerr != nil && err == nil {
				err = uerr
			}
		}
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
