// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"fmt"
	"sync"
	"time"
)

// ReaderState is the lifecycle state of a FIFO reader.
type ReaderState int

const (
	NotStarted ReaderState = iota
	Opening
	Reading
	Retrying
	Stopped
)

func (s ReaderState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Opening:
		return "opening"
	case Reading:
		return "reading"
	case Retrying:
		return "retrying"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s ReaderState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ReaderState) UnmarshalText(b []byte) error {
	for st := NotStarted; st <= Stopped; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown reader state %q", b)
}

// ReaderHealth is the value carried by a health watch.
type ReaderHealth struct {
	State        ReaderState `json:"state"`
	OpenFailures int         `json:"open_failures"`
	LastError    string      `json:"last_error,omitempty"`
	Since        time.Time   `json:"since"`
}

// Watch holds the latest ReaderHealth. Every Set wakes receivers waiting on
// Changed; Close marks the end of the reader run.
type Watch struct {
	mu      sync.Mutex
	val     ReaderHealth
	changed chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newWatch(initial ReaderHealth) *Watch {
	return &Watch{val: initial, changed: make(chan struct{}), closed: make(chan struct{})}
}

// Set stores h and notifies receivers. Sets after Close are ignored.
func (w *Watch) Set(h ReaderHealth) {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.closed:
		return
	default:
	}
	w.val = h
	close(w.changed)
	w.changed = make(chan struct{})
}

// Get returns the current value.
func (w *Watch) Get() ReaderHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.val
}

// Close signals that no further values will be set.
func (w *Watch) Close() { w.once.Do(func() { close(w.closed) }) }

// IsClosed reports whether Close has been called.
func (w *Watch) IsClosed() bool {
	select {
	case <-w.closed:
		return true
	default:
		return false
	}
}

// Subscribe returns a receiver positioned at the current value.
func (w *Watch) Subscribe() *HealthReceiver {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &HealthReceiver{w: w, pending: w.changed}
}

// HealthReceiver observes a Watch.
type HealthReceiver struct {
	w       *Watch
	pending chan struct{}
}

// Changed fires once a value newer than the last Borrow has been set.
func (r *HealthReceiver) Changed() <-chan struct{} { return r.pending }

// Closed fires when the reader run has ended.
func (r *HealthReceiver) Closed() <-chan struct{} { return r.w.closed }

// Peek returns the current value without marking it seen.
func (r *HealthReceiver) Peek() ReaderHealth { return r.w.Get() }

// Borrow returns the current value and marks it seen.
func (r *HealthReceiver) Borrow() ReaderHealth {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	r.pending = r.w.changed
	return r.w.val
}
