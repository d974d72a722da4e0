package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical/docpipe/cmd/docpipe/ui"
	"github.com/spherical/docpipe/internal/bootstrap"
	"github.com/spherical/docpipe/internal/config"
	"github.com/spherical/docpipe/internal/observability"
	"github.com/spherical/docpipe/internal/orchestrator"
	"github.com/spherical/docpipe/internal/vision"
)

var (
	ingestDevice        string
	ingestLanguage      string
	ingestCharts        bool
	ingestChartProvider string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file> [file...]",
	Short: "Ingest one or more PDFs through the document pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDevice, "device", "cpu", "inference device hint (cpu, cuda)")
	ingestCmd.Flags().StringVar(&ingestLanguage, "lang", "en", "document language hint")
	ingestCmd.Flags().BoolVar(&ingestCharts, "extract-charts", false, "run structured-data extraction on chart/table/diagram artifacts")
	ingestCmd.Flags().StringVar(&ingestChartProvider, "chart-provider", string(vision.ChartProviderAuto), "backend for chart extraction (auto, local, cloud_a, cloud_b)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
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

	if len(args) == 1 {
		return ingestOne(deps.Orchestrator, args[0])
	}
	return ingestBatch(deps.Orchestrator, args)
}

// ingestOne drives a single file with the indeterminate spinner, matching
// the prior single-file behaviour.
func ingestOne(orch *orchestrator.Orchestrator, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	sp := ui.NewSpinner("starting ingestion")
	defer sp.Stop()

	result, err := orch.Ingest(ctx, data, path, orchestrator.IngestOptions{
		Device:        ingestDevice,
		Language:      ingestLanguage,
		ExtractCharts: ingestCharts,
		ChartProvider: vision.ChartProvider(ingestChartProvider),
	}, ui.Sink(sp))
	sp.Stop()
	if err != nil {
		ui.Error("ingestion failed: %v", err)
		return err
	}

	printSummary(path, result)
	return nil
}

// ingestBatch runs every file sequentially through the same Orchestrator
// (it schedules one document at a time), rendering one progress bar per
// file so the operator can see the whole batch's standing at a glance.
func ingestBatch(orch *orchestrator.Orchestrator, paths []string) error {
	mb := ui.NewMultiBar()
	bars := make([]*ui.FileBar, len(paths))
	for i, path := range paths {
		bars[i] = mb.AddFileBar(filepath.Base(path))
	}

	failuresCh := make(chan int, 1)

	go func() {
		failures := 0
		for i, path := range paths {
			bar := bars[i]

			data, err := os.ReadFile(path)
			if err != nil {
				ui.Error("%s: read file: %v", path, err)
				bar.Fail()
				failures++
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			result, err := orch.Ingest(ctx, data, path, orchestrator.IngestOptions{
				Device:        ingestDevice,
				Language:      ingestLanguage,
				ExtractCharts: ingestCharts,
				ChartProvider: vision.ChartProvider(ingestChartProvider),
			}, bar.Sink())
			cancel()
			if err != nil {
				ui.Error("%s: ingestion failed: %v", path, err)
				bar.Fail()
				failures++
				continue
			}
			printSummary(path, result)
		}
		failuresCh <- failures
	}()

	mb.Wait()
	if failures := <-failuresCh; failures > 0 {
		return fmt.Errorf("%d of %d files failed to ingest", failures, len(paths))
	}
	return nil
}

func printSummary(path string, result orchestrator.IngestResult) {
	ui.Success("ingested %s", path)
	ui.Info("  document id:    %s", result.Record.ID)
	ui.Info("  input class:    %s", result.Record.InputClass)
	ui.Info("  pages:          %d", result.Record.PageCount)
	ui.Info("  images:         %d", len(result.Images))
	ui.Info("  tables/formulas: %d/%d", result.Record.TableCount, result.Record.FormulaCount)
}
