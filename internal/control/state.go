// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/store"
	"github.com/ManuGH/zmlive/internal/supervisor"
)

// ErrStateNotFound is returned when the named state does not exist.
var ErrStateNotFound = errors.New("state not found")

// StateResult describes an applied state.
type StateResult struct {
	Name     string         `json:"name"`
	Monitors []MonitorApply `json:"monitors,omitempty"`
}

// MonitorApply is the outcome for one monitor of a state.
type MonitorApply struct {
	MonitorID uint32         `json:"monitor_id"`
	Function  store.Function `json:"function"`
	Enabled   bool           `json:"enabled"`
	Action    string         `json:"action"`
	Error     string         `json:"error,omitempty"`
}

// StateStore is the database view the applier needs.
type StateStore interface {
	State(ctx context.Context, name string) (store.State, error)
	SetMonitorFunction(ctx context.Context, id uint32, fn store.Function, enabled bool) error
	ActivateState(ctx context.Context, name string) error
}

// CaptureControl restarts or stops capture daemons.
type CaptureControl interface {
	Restart(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
}

// DBStateApplier loads a state definition, updates each monitor's function
// and cycles its capture daemon.
type DBStateApplier struct {
	Store   StateStore
	Capture CaptureControl
}

// ApplyState implements StateApplier.
func (a *DBStateApplier) ApplyState(ctx context.Context, name string) (StateResult, error) {
	st, err := a.Store.State(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrStateNotFound) {
			return StateResult{}, fmt.Errorf("%w: %s", ErrStateNotFound, name)
		}
		return StateResult{}, err
	}
	entries, err := store.ParseStateDefinition(st.Definition)
	if err != nil {
		return StateResult{}, err
	}

	logger := log.WithComponentFromContext(ctx, "control")
	res := StateResult{Name: name}
	var errs []error
	for _, e := range entries {
		ma := MonitorApply{MonitorID: e.MonitorID, Function: e.Function, Enabled: e.Enabled}
		if err := a.Store.SetMonitorFunction(ctx, e.MonitorID, e.Function, e.Enabled); err != nil {
			ma.Action, ma.Error = "none", err.Error()
			errs = append(errs, err)
			res.Monitors = append(res.Monitors, ma)
			continue
		}

		id := supervisor.DaemonID("zmc", []string{"-m", fmt.Sprint(e.MonitorID)})
		if e.Function.Captures() && e.Enabled {
			ma.Action = "restart"
			err = a.Capture.Restart(ctx, id)
		} else {
			ma.Action = "stop"
			err = a.Capture.Stop(ctx, id)
			if errors.Is(err, supervisor.ErrNotRunning) || errors.Is(err, supervisor.ErrDaemonNotFound) {
				err = nil
			}
		}
		if err != nil {
			ma.Error = err.Error()
			errs = append(errs, err)
		}
		logger.Info().Str(log.FieldEvent, "control.state_monitor").
			Uint32(log.FieldMonitorID, e.MonitorID).Str("function", string(e.Function)).
			Str("action", ma.Action).Err(err).Msg("applied monitor state")
		res.Monitors = append(res.Monitors, ma)
	}

	if len(errs) == 0 {
		if err := a.Store.ActivateState(ctx, name); err != nil {
			return res, err
		}
	}
	return res, errors.Join(errs...)
}
