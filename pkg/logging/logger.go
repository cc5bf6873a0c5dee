// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging configures structured logging for the update-graph
// services and CLI.
//
// Services log JSON to stdout so the collector can parse them; the CLI
// logs human-readable text to stderr, following Unix conventions. Both
// paths install the logger as the slog default, so the rest of the code
// just calls slog.Info / slog.Error with key-value pairs:
//
//	logging.SetupService("graphbuilder")
//	slog.Info("published graph snapshot", "scope", sc.String(), "nodes", n)
//
// The minimum level comes from UPDATEGRAPH_LOG_LEVEL ("debug", "info",
// "warn", "error"); unset or unrecognized values mean info.
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Client
// identifiers are opaque but still correlate machines; log them only
// where the correlation is the point (rollout debugging).
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// levelFromEnv maps UPDATEGRAPH_LOG_LEVEL to a slog.Level.
func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("UPDATEGRAPH_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupService installs a JSON logger on stdout as the slog default, with
// the service name attached to every record.
func SetupService(service string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelFromEnv()})
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	return logger
}

// SetupCLI installs a text logger on stderr as the slog default, keeping
// stdout free for command output.
func SetupCLI() *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelFromEnv()})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
