package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical/docpipe/cmd/docpipe/ui"
	"github.com/spherical/docpipe/internal/bootstrap"
	"github.com/spherical/docpipe/internal/config"
	"github.com/spherical/docpipe/internal/httpapi"
	"github.com/spherical/docpipe/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ui.Init(noColor)
	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	deps, err := bootstrap.Build(cfg, logger, configFile)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
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

	handler := httpapi.NewRouter(logger, cfg, deps)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		ui.Info("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ui.Error("server failed: %v", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ui.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
