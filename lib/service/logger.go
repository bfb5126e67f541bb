// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the runtime scaffolding shared by the pack
// server's listeners: structured logging and lifecycle-managed HTTP
// and TCP servers with readiness signaling and graceful shutdown.
package service

import (
	"log/slog"
	"os"
)

// NewLogger creates the standard structured logger: JSON to stderr at
// info level. Also installs it as the slog default so library code
// using the default logger lands in the same stream.
func NewLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}
