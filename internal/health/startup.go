// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/log"
)

// PerformStartupChecks validates the environment before the daemon binds
// its listeners.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	// 1. Runtime directories the daemon writes to.
	for _, dir := range runtimeDirs(cfg) {
		if err := checkWritableDir(logger, dir); err != nil {
			return fmt.Errorf("runtime directory check failed: %w", err)
		}
	}

	// 2. FIFO directory, created by the capture daemons if missing.
	if err := os.MkdirAll(cfg.FIFO.Dir, 0o750); err != nil {
		return fmt.Errorf("fifo directory %s: %w", cfg.FIFO.Dir, err)
	}

	// 3. Listen addresses.
	if err := checkListenAddr("server", cfg.Server.ListenAddr); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if err := checkListenAddr("metrics", cfg.Metrics.ListenAddr); err != nil {
			return err
		}
	}

	// 4. Capture daemon binaries. Missing binaries only fail the spawn.
	if cfg.Paths.BinDir != "" {
		for _, bin := range []string{"zmc", "zma"} {
			if _, err := exec.LookPath(filepath.Join(cfg.Paths.BinDir, bin)); err != nil {
				logger.Warn().Str("binary", bin).Str("dir", cfg.Paths.BinDir).Msg("capture daemon not found")
			}
		}
	}

	// 5. Database directory.
	if cfg.Database.Path != "" {
		if err := checkWritableDir(logger, filepath.Dir(cfg.Database.Path)); err != nil {
			return fmt.Errorf("database directory check failed: %w", err)
		}
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func runtimeDirs(cfg config.AppConfig) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, d := range []string{
		cfg.Paths.RunDir,
		filepath.Dir(cfg.Control.SocketPath),
		dirOf(cfg.Supervisor.PIDFile),
	} {
		if d == "" || d == "." || seen[d] {
			continue
		}
		seen[d] = true
		dirs = append(dirs, d)
	}
	return dirs
}

func dirOf(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Dir(path)
}

func checkWritableDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Debug().Str("path", path).Msg("directory is writable")
	return nil
}

func checkListenAddr(name, addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s listen address %q: %w", name, addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid %s listen port %q in %q", name, port, addr)
	}
	return nil
}
