package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wattcode/plant-monitor/internal/app"
	"github.com/wattcode/plant-monitor/internal/config"
	"github.com/wattcode/plant-monitor/internal/logging"
	"github.com/wattcode/plant-monitor/internal/ota"
)

var version = "dev"
var appName = "plant-monitor"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = app.Run(ctx, cfg, version)
	switch {
	case errors.Is(err, ota.ErrUpdated):
		// The supervisor starts the new binary.
		slog.Info("exiting for update")
	case err != nil && !errors.Is(err, context.Canceled):
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}
