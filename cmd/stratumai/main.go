// Package main is the entry point for the stratumai dispatch server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stratumai/config"
	"stratumai/internal/app"
	"stratumai/internal/logging"
	"stratumai/internal/providers"
	"stratumai/internal/providers/anthropic"
	"stratumai/internal/providers/openai"
)

func main() {
	result, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := result.Config

	if err := logging.Setup(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}
	slog.Info("starting stratumai", "config_path", result.Path)

	registrations := []providers.Registration{openai.Registration, anthropic.Registration}
	registrations = append(registrations, openai.CompatibleRegistrations...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	application, err := app.New(ctx, app.Config{
		AppConfig:     result,
		Registrations: registrations,
	})
	cancel()
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
