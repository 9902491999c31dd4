// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package shutdown provides the process-wide shutdown notification.
package shutdown

import (
	"context"
	"sync"
)

// Broadcast is a close-once signal with any number of waiters.
// The zero value is not usable; use New.
type Broadcast struct {
	once sync.Once
	ch   chan struct{}
}

// New returns an untriggered broadcast.
func New() *Broadcast {
	return &Broadcast{ch: make(chan struct{})}
}

// Trigger fires the broadcast. Subsequent calls are no-ops.
func (b *Broadcast) Trigger() {
	b.once.Do(func() { close(b.ch) })
}

// Done is closed once Trigger was called.
func (b *Broadcast) Done() <-chan struct{} {
	return b.ch
}

// Triggered reports whether Trigger was called.
func (b *Broadcast) Triggered() bool {
	select {
	case <-b.ch:
		return true
	default:
		return false
	}
}

// Context returns a context cancelled when either parent ends or the broadcast fires.
func (b *Broadcast) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-b.ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
