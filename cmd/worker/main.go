// Package main is the entry point for the seqkeeper background worker.
// It runs the daily sequence reset.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seqkeeper/internal/app"
	"seqkeeper/internal/config"
	"seqkeeper/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("SEQKEEPER_CONFIG"), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if !cfg.Reset.Enabled {
		log.Info("sequence reset disabled (RESET_ENABLED=false); exiting")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting seqkeeper worker")

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize", "error", err)
	}
	defer a.Close()

	hour, minute, _ := cfg.Reset.TimeOfDay()
	loc, _ := cfg.Reset.Location()

	schedCfg := worker.SchedulerConfig{
		Resets:   a.Resets,
		Hour:     hour,
		Minute:   minute,
		Location: loc,
		Clock:    a.Clock,
		Logger:   log,
	}
	if a.Idempotency != nil {
		schedCfg.Cleaner = a.Idempotency
	}
	scheduler := worker.NewResetScheduler(schedCfg)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalw("failed to start scheduler", "error", err)
	}

	statsTicker := time.NewTicker(time.Hour)
	defer statsTicker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for running := true; running; {
		select {
		case <-quit:
			running = false
		case <-statsTicker.C:
			if a.Pool != nil {
				a.Pool.LogStats(ctx)
			}
		}
	}

	log.Info("shutting down worker...")
	scheduler.Stop()
	log.Info("worker stopped")
}
