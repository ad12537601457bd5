package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"remessa-import/internal/config"
	"remessa-import/internal/logger"
	"remessa-import/internal/stubserver"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Get()

	log.Info().Str("version", cfg.App.Version).Msg("Starting stub import server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := stubserver.New(stubserver.Options{
		AmbiguousTenant: os.Getenv("AMBIGUOUS_TENANT") == "true",
		ProcessingDelay: cfg.Server.ProcessingDelay,
		FailPattern:     os.Getenv("FAIL_PATTERN"),
		PascalCase:      os.Getenv("PASCAL_CASE") == "true",
		Workers:         cfg.Server.Workers,
	})
	srv.Start(ctx)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	cancel()
	srv.Stop()

	log.Info().Msg("Server exited")
}
