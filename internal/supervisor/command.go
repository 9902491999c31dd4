// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// ParseDaemonCommand splits a daemon id into its command and arguments.
// The first token of id is the command; the remaining tokens come first,
// followed by extra.
//
//	ParseDaemonCommand("zmc -m 5", []string{"-m", "5"}) // "zmc", [-m 5 -m 5]
func ParseDaemonCommand(id string, extra []string) (string, []string, error) {
	tokens, err := shlex.Split(id)
	if err != nil {
		return "", nil, fmt.Errorf("parse daemon id %q: %w", id, err)
	}
	if len(tokens) == 0 {
		return "", nil, fmt.Errorf("%w: empty daemon id", ErrDaemonNotFound)
	}
	args := make([]string, 0, len(tokens)-1+len(extra))
	args = append(args, tokens[1:]...)
	args = append(args, extra...)
	return tokens[0], args, nil
}

// DaemonID composes the canonical id of a daemon started with args,
// e.g. DaemonID("zmc", ["-m", "5"]) == "zmc -m 5".
func DaemonID(daemon string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	if d := strings.TrimSpace(daemon); d != "" {
		parts = append(parts, d)
	}
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, " ")
}

// ExtractMonitorID returns the number following "-m" if it parses.
func ExtractMonitorID(args []string) (uint32, bool) {
	for i := 0; i+1 < len(args); i++ {
		if args[i] != "-m" {
			continue
		}
		if n, err := strconv.ParseUint(args[i+1], 10, 32); err == nil {
			return uint32(n), true
		}
	}
	return 0, false
}
