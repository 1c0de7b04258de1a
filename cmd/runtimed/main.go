package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"chassis/infrastructure/config"
	"chassis/infrastructure/di"
	"chassis/interfaces/http/rest"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize dependency container
	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer container.Logger.Sync()

	// Watch the dynamic configuration file when one is configured
	if cfg.DynamicConfigPath != "" {
		watcher, err := config.NewConfigWatcher(cfg.DynamicConfigPath, container.Logger)
		if err != nil {
			container.Logger.Fatal("Failed to start config watcher", zap.Error(err))
		}
		watcher.ApplyTo(container.DomainConfig)
		watcher.OnChange(func(dc *config.DynamicConfig) {
			watcher.ApplyTo(container.DomainConfig)
			container.Logger.Info("Runtime limits updated for new deployments",
				zap.Int("maxPoolSize", dc.Limits.MaxPoolSize),
				zap.Int("maxCachedInstances", dc.Limits.MaxCachedInstances))
		})
		watcher.Start()
		defer watcher.Stop()
	}

	// Relay outboxed lifecycle events in the background
	if container.Outbox != nil {
		container.Outbox.Start(ctx)
		defer container.Outbox.Stop()
	}

	// Create router
	router := rest.NewRouter(container.Host, container.Metrics, container.Logger)
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		container.Logger.Info("Starting runtime host",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	container.Logger.Info("Shutting down runtime host...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("Server shutdown error", zap.Error(err))
	}
	if err := container.Tracer.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("Tracer shutdown error", zap.Error(err))
	}

	container.Logger.Info("Runtime host stopped")
}
