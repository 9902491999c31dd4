// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the daemon controller and
// the live streaming pipeline.
//
// Labels never carry session or request ids. Monitor ids and daemon names are
// bounded by the installation and are safe as labels.
package metrics
