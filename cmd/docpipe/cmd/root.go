// Package cmd implements the docpipe CLI's cobra command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configFile string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "docpipe",
	Short: "Ingest and extract structured data from technical PDFs",
	Long: `docpipe runs the document ingestion pipeline: classify, extract layout,
render and enrich images, embed, and optionally distill text into a
caller-defined schema.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
