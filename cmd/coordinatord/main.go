// Package main starts the coordinator daemon: the HTTP/tool-call surface
// backing multi-agent task claiming, plus the background sweep ticker.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tascade/tascade/internal/app"
	"github.com/tascade/tascade/internal/config"
	"github.com/tascade/tascade/internal/httpapi"
	"github.com/tascade/tascade/pkg/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	appLog := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	application, err := app.New(ctx, cfg, appLog)
	if err != nil {
		log.Fatalf("build application: %v", err)
	}
	defer application.Close()

	application.Sweep.Start()
	defer application.Sweep.Stop(context.Background())

	router := httpapi.NewRouter(application, cfg)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		appLog.WithFields(map[string]any{"addr": cfg.ListenAddr, "backend": cfg.StoreBackend}).Info("coordinatord starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	appLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Error("graceful shutdown failed")
	}
}
