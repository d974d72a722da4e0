// Command docpipe-api runs the document ingestion HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/spherical/docpipe/internal/bootstrap"
	"github.com/spherical/docpipe/internal/config"
	"github.com/spherical/docpipe/internal/httpapi"
	"github.com/spherical/docpipe/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	deps, err := bootstrap.Build(cfg, logger, *configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build dependencies")
	}
	defer deps.DB.Close()
	defer deps.TracingShutdown(context.Background())
	if deps.Recovery != nil {
		defer deps.Recovery.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deps.Registry.Start(ctx)
	defer deps.Registry.Stop()

	router := httpapi.NewRouter(logger, cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("starting docpipe-api")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
