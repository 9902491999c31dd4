// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle state of a managed process.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFailed
	StateRestarting
)

var stateNames = [...]string{"stopped", "starting", "running", "stopping", "failed", "restarting"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalJSON encodes the state as its lowercase name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a lowercase state name.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", name)
}

// AcceptsStart reports whether start is allowed from s.
func (s State) AcceptsStart() bool {
	return s == StateStopped || s == StateFailed || s == StateRestarting
}

// AcceptsStop reports whether stop is allowed from s.
func (s State) AcceptsStop() bool {
	return s == StateRunning || s == StateStarting || s == StateRestarting
}

// HasProcess reports whether a child process exists in s.
func (s State) HasProcess() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}
