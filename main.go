package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"adsb_feeds/internal/config"
	"adsb_feeds/internal/daemon"
	"adsb_feeds/internal/logging"
)

func main() {
	flags := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "Path to config file (YAML)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-file", "", "Write logs to this file with rotation instead of stdout")
	flags.String("http-addr", "", "Serve the HTTP API on this address (empty disables it)")
	watch := flags.Bool("watch", true, "Reload servers and center when the config file changes")
	flags.Parse(os.Args[1:])

	loader, err := config.NewLoader(*configPath, flags)
	if err != nil {
		// Logger isn't initialized yet
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg, err := loader.Load()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logCloser := logging.Init(cfg.Log)
	defer logCloser.Close()
	logger := slog.Default()

	if file := loader.ConfigFileUsed(); file != "" {
		logger.Info("Loaded configuration", "file", file, "servers", len(cfg.Servers))
	} else {
		logger.Warn("No config file found, using defaults and environment", "servers", len(cfg.Servers))
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to create daemon", "error", err)
		os.Exit(1)
	}

	if err := d.Start(); err != nil {
		logger.Error("Failed to start daemon", "error", err)
		d.Stop()
		os.Exit(1)
	}

	if *watch {
		loader.Watch(logger, d.Reload)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received interrupt signal, shutting down...")

	if err := d.Stop(); err != nil {
		logger.Error("Error during shutdown", "error", err)
	}

	logger.Info("Shutdown complete")
}
