package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pshap/abop-app-sub005/internal/config"
	"github.com/pshap/abop-app-sub005/internal/database"
	"github.com/pshap/abop-app-sub005/internal/events"
	"github.com/pshap/abop-app-sub005/internal/logger"
	"github.com/pshap/abop-app-sub005/internal/server"
)

func main() {
	configPath := flag.String("config", "abop.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Logging.Level)
	log := logger.Named("main")

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	eventBus := events.NewEventBus(events.DefaultEventBusConfig(), logger.Named("events"))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eventBus.Start(ctx); err != nil {
		log.Error("failed to start event bus", "error", err)
		os.Exit(1)
	}
	eventBus.PublishAsync(events.NewSystemEvent(
		events.EventSystemStarted,
		"System Started",
		"abop server has started",
	))

	srv, err := server.New(cfg, db, eventBus, logger.Named("server"))
	if err != nil {
		log.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	eventBus.PublishAsync(events.NewSystemEvent(
		events.EventSystemStopped,
		"System Stopped",
		"abop server is shutting down",
	))
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Error("event bus stop error", "error", err)
	}

	log.Info("shutdown complete")
}
