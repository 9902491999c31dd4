// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable is returned when a monitor is unknown, disabled or
	// not capturing.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceNotFound is returned for operations on a source that was never
	// created.
	ErrSourceNotFound = errors.New("source not found")

	// ErrFifoOpenExhausted is recorded when the reader gave up opening the FIFO.
	ErrFifoOpenExhausted = errors.New("fifo open retries exhausted")

	// ErrClosed is returned by a subscription whose broadcast was closed.
	ErrClosed = errors.New("broadcast closed")
)

// Lagged reports that a subscriber fell behind and N packets were skipped.
type Lagged struct {
	N uint64
}

func (l Lagged) Error() string { return fmt.Sprintf("subscriber lagged by %d packets", l.N) }

// IsLagged reports whether err is a Lagged notification and returns it.
func IsLagged(err error) (Lagged, bool) {
	var l Lagged
	ok := errors.As(err, &l)
	return l, ok
}
