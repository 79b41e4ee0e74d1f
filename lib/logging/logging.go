// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging constructs the process-wide structured logger used
// by the LiNa store server and CLI.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON logger writing to stderr at the given level and
// installs it as the slog default. cmd/linastore calls this once at
// startup and threads the returned logger through its components
// explicitly (cmd/linacli does not call it); slog.SetDefault exists only to catch log
// calls from library code that has no logger of its own.
func New(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
