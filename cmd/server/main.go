// Package main is the entry point for the EcoLoop API server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
//  1. Read configuration (environment variables, optionally from .env)
//  2. Create the logger
//  3. Build and start the server
//
// All actual logic lives in imported packages (internal/server,
// internal/service, internal/handler, ...).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sakif/ecoloop/internal/config"
	"github.com/sakif/ecoloop/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// JWT_SECRET is required; everything else has a default or disables an
	// optional integration when empty. See internal/config for the full list.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_LEVEL (debug|info|warn|error) and LOG_FORMAT (text|json).
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	// === 3. CREATE AND START THE SERVER ===
	// Opening the store and probing Redis/object storage gets a bounded
	// window; a dead dependency should fail startup, not hang it.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	srv, err := server.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
