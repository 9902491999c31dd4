// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// State is a named run state.
type State struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Definition string `json:"definition"`
	IsActive   bool   `json:"is_active"`
}

// MonitorState is one entry of a state definition.
type MonitorState struct {
	MonitorID uint32
	Function  Function
	Enabled   bool
}

// ParseStateDefinition parses "monitorId:function:enabled" entries separated
// by commas, e.g. "1:Modect:1,2:None:0". The enabled field is optional and
// defaults to true.
func ParseStateDefinition(def string) ([]MonitorState, error) {
	var out []MonitorState
	for _, entry := range strings.Split(def, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("state entry %q: want monitorId:function[:enabled]", entry)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("state entry %q: bad monitor id: %w", entry, err)
		}
		fn, err := ParseFunction(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("state entry %q: %w", entry, err)
		}
		ms := MonitorState{MonitorID: uint32(id), Function: fn, Enabled: true}
		if len(parts) == 3 {
			v := strings.TrimSpace(parts[2])
			ms.Enabled = v == "1" || strings.EqualFold(v, "true")
		}
		out = append(out, ms)
	}
	return out, nil
}

// State returns the state called name.
func (s *Store) State(ctx context.Context, name string) (State, error) {
	var st State
	err := s.DB.QueryRowContext(ctx,
		"SELECT Id, Name, Definition, IsActive FROM States WHERE Name = ?", name,
	).Scan(&st.ID, &st.Name, &st.Definition, &st.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, fmt.Errorf("%w: %s", ErrStateNotFound, name)
	}
	return st, err
}

// PutState inserts or updates the definition of a named state.
func (s *Store) PutState(ctx context.Context, name, definition string) error {
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO States (Name, Definition) VALUES (?, ?)
	ON CONFLICT(Name) DO UPDATE SET Definition = excluded.Definition
	`, name, definition)
	return err
}

// ActivateState marks name as the single active state.
func (s *Store) ActivateState(ctx context.Context, name string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "UPDATE States SET IsActive = 0"); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "UPDATE States SET IsActive = 1 WHERE Name = ?", name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrStateNotFound, name)
	}
	return tx.Commit()
}
