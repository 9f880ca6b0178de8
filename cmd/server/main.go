// Package main is the entry point for the EchoShock API server.
//
// MAIN PACKAGE IN GO:
// The main package is kept minimal. Its job is to:
// 1. Read configuration
// 2. Create the logger
// 3. Start the server
//
// All actual logic lives in internal/ packages.
//
// WHY cmd/server/?
// The cmd/ directory holds executable entry points. This project has two:
// cmd/server (the API) and cmd/echoshockctl (admin tasks).
package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/TotemHolder-js/EchoShock/internal/config"
	"github.com/TotemHolder-js/EchoShock/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// config.yaml, then .env, then environment variables. See internal/config.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Log levels (least to most severe): Debug → Info → Warn → Error.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	// === 3. DATABASE DIRECTORY ===
	// os.MkdirAll is `mkdir -p`. ":memory:" needs no directory.
	if cfg.Database.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until SIGINT/SIGTERM and releases everything on return.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
