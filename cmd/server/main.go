// Package main is the entry point for the seqkeeper API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seqkeeper/internal/app"
	"seqkeeper/internal/config"
	v1 "seqkeeper/internal/infrastructure/http/v1"
	"seqkeeper/internal/infrastructure/http/v1/handlers"
	"seqkeeper/internal/infrastructure/http/v1/middleware"
)

var version = "dev"

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

	ctx := context.Background()
	log.Infow("starting seqkeeper server", "version", version, "env", cfg.Env)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize", "error", err)
	}
	defer a.Close()

	loc, err := cfg.Reset.Location()
	if err != nil {
		log.Fatalw("invalid timezone", "error", err)
	}

	routerCfg := v1.RouterConfig{
		Logger:       log,
		JWTValidator: a.JWT,
		Sequences:    a.Sequences,
		Resets:       a.Resets,
		History:      a.History,
		Clock:        a.Clock,
		Location:     loc,
		Version:      version,
		Debug:        cfg.Server.Debug,
	}
	// Leave interface fields nil rather than holding typed nil pointers.
	if a.Pool != nil {
		routerCfg.DB = handlers.Pinger(a.Pool)
	}
	if a.Idempotency != nil {
		routerCfg.Idempotency = middleware.IdempotencyStore(a.Idempotency)
	}
	router := v1.NewRouter(routerCfg)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Infow("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
