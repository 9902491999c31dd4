// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package source

import (
	"errors"
	"io/fs"
	"os"
)

func openFifo(path string) (*os.File, error) { return os.Open(path) }

func transientOpenError(err error) bool { return errors.Is(err, fs.ErrNotExist) }
