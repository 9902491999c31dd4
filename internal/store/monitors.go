// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Function is the ZoneMinder monitor function.
type Function string

const (
	FunctionNone    Function = "None"
	FunctionMonitor Function = "Monitor"
	FunctionModect  Function = "Modect"
	FunctionRecord  Function = "Record"
	FunctionMocord  Function = "Mocord"
	FunctionNodect  Function = "Nodect"
)

// ParseFunction validates a function name.
func ParseFunction(s string) (Function, error) {
	switch f := Function(s); f {
	case FunctionNone, FunctionMonitor, FunctionModect, FunctionRecord, FunctionMocord, FunctionNodect:
		return f, nil
	}
	return "", fmt.Errorf("unknown monitor function %q", s)
}

// Captures reports whether a monitor with f needs a capture daemon.
func (f Function) Captures() bool { return f != FunctionNone && f != "" }

// Monitor is a row of the Monitors table.
type Monitor struct {
	ID       uint32   `json:"id"`
	Name     string   `json:"name"`
	Function Function `json:"function"`
	Enabled  bool     `json:"enabled"`
	Codec    string   `json:"codec"`
	FifoPath string   `json:"fifo_path,omitempty"`
}

// Monitor returns the monitor with id.
func (s *Store) Monitor(ctx context.Context, id uint32) (Monitor, error) {
	var m Monitor
	var fn string
	err := s.DB.QueryRowContext(ctx,
		"SELECT Id, Name, Function, Enabled, Codec, FifoPath FROM Monitors WHERE Id = ?", id,
	).Scan(&m.ID, &m.Name, &fn, &m.Enabled, &m.Codec, &m.FifoPath)
	if errors.Is(err, sql.ErrNoRows) {
		return Monitor{}, fmt.Errorf("%w: %d", ErrMonitorNotFound, id)
	}
	if err != nil {
		return Monitor{}, err
	}
	m.Function = Function(fn)
	return m, nil
}

// Monitors lists all monitors ordered by id.
func (s *Store) Monitors(ctx context.Context) ([]Monitor, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT Id, Name, Function, Enabled, Codec, FifoPath FROM Monitors ORDER BY Id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Monitor
	for rows.Next() {
		var m Monitor
		var fn string
		if err := rows.Scan(&m.ID, &m.Name, &fn, &m.Enabled, &m.Codec, &m.FifoPath); err != nil {
			return nil, err
		}
		m.Function = Function(fn)
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutMonitor inserts or replaces m.
func (s *Store) PutMonitor(ctx context.Context, m Monitor) error {
	if m.Function == "" {
		m.Function = FunctionMonitor
	}
	if m.Codec == "" {
		m.Codec = "h264"
	}
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO Monitors (Id, Name, Function, Enabled, Codec, FifoPath)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(Id) DO UPDATE SET
		Name = excluded.Name,
		Function = excluded.Function,
		Enabled = excluded.Enabled,
		Codec = excluded.Codec,
		FifoPath = excluded.FifoPath
	`, m.ID, m.Name, string(m.Function), m.Enabled, m.Codec, m.FifoPath)
	return err
}

// SetMonitorFunction updates function and enabled flag of monitor id.
func (s *Store) SetMonitorFunction(ctx context.Context, id uint32, fn Function, enabled bool) error {
	res, err := s.DB.ExecContext(ctx, "UPDATE Monitors SET Function = ?, Enabled = ? WHERE Id = ?", string(fn), enabled, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrMonitorNotFound, id)
	}
	return nil
}
