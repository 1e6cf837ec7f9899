// Command intakepipe runs the WhatsApp conversation intake service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// logLevel is shared by the default logger so the level can change after config load.
var logLevel = new(slog.LevelVar)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config, err := loadEnvironmentConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Parse command line flags
	config, flags, err := parseCommandLineFlags(os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	config.applyDefaults()
	logLevel.Set(parseLogLevel(config.LogLevel))

	if err := config.validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping IntakePipe", "gateway", config.Gateway, "state_dir", config.StateDir, "api_addr", config.APIAddr)
	if err := run(ctx, config, flags); err != nil {
		slog.Error("IntakePipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("IntakePipe exited successfully")
}

// initializeLogger sets up structured logging; the level starts at debug so
// configuration loading is traceable.
func initializeLogger() {
	logLevel.Set(slog.LevelDebug)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}
