// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// PathResolver maps daemon commands to executables.
// Perl scripts resolve under ScriptDir, everything else under BinDir.
type PathResolver struct {
	BinDir    string
	ScriptDir string
	// SearchPATH falls back to $PATH when the prefixed lookup fails.
	SearchPATH bool
}

// Resolve returns the absolute executable path for command.
func (r PathResolver) Resolve(command string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("%w: empty command", ErrExecutableNotFound)
	}
	if filepath.IsAbs(command) {
		if err := checkExecutable(command); err != nil {
			return "", err
		}
		return command, nil
	}
	if strings.ContainsRune(command, os.PathSeparator) {
		return "", fmt.Errorf("%w: relative path %q", ErrExecutableNotFound, command)
	}

	dir := r.BinDir
	if strings.HasSuffix(command, ".pl") {
		dir = r.ScriptDir
	}
	if dir != "" {
		candidate := filepath.Join(dir, command)
		if err := checkExecutable(candidate); err == nil {
			return candidate, nil
		} else if !r.SearchPATH {
			return "", err
		}
	}
	if r.SearchPATH || dir == "" {
		if p, err := exec.LookPath(command); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, command)
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrExecutableNotFound, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrExecutableNotFound, path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s is not executable", ErrExecutableNotFound, path)
	}
	return nil
}
