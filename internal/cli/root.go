package cli

import (
	"github.com/spf13/cobra"
)

// Execute builds and runs the CLI.
func Execute() error {
	var (
		cfgFile  string
		logLevel string
		logFile  string
	)

	rootCmd := &cobra.Command{
		Use:   "logship",
		Short: "A file-tailing log shipper for Elasticsearch-compatible clusters",
		Long: `logship tails a configured set of files, decodes/extracts/mutates each
line into a document, and bulk-indexes the result against one or more
Elasticsearch-compatible servers. When the cluster is unreachable, batches
spill to an on-disk backlog and are replayed once it recovers.

Hot-reload: when a config file is specified, changes to the tail instruction
set are picked up without requiring a restart.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml, else /etc/logship/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file (rotated)")

	rootCmd.AddCommand(
		NewRunCmd(&cfgFile, &logLevel, &logFile),
		NewValidateCmd(&cfgFile),
		NewVersionCmd(),
	)

	return rootCmd.Execute()
}
