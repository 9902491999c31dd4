// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package source

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// openFifo opens path for reading without waiting for a writer. The
// descriptor stays non-blocking so the runtime poller can interrupt reads
// when the file is closed.
func openFifo(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}

// transientOpenError reports errors worth retrying: the capture daemon has
// not created the FIFO yet, or the kernel asked us to try again.
func transientOpenError(err error) bool {
	return errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}
