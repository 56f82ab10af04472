// Package cli provides the bulk-downloader command line.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"bulk-downloader/config"
	"bulk-downloader/logging"
)

var (
	verbose bool

	cfg         *config.Config
	rootContext context.Context
)

func NewRootCmd(ctx context.Context) *cobra.Command {
	rootContext = ctx

	rootCmd := &cobra.Command{
		Use:   "bulk-downloader",
		Short: "Find and download the files attached to a course page",
		Long: `bulk-downloader scans a saved or live course page for file attachments,
remembers what was already downloaded for each course, and downloads the
rest one by one or as a single zip archive.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			logging.Setup(cfg.LogLevel, os.Stderr)
			if verbose {
				logging.SetVerbose()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newPanelCmd())
	rootCmd.AddCommand(newWatchCmd())

	return rootCmd
}

// Execute runs the command tree with ctx as the root context.
func Execute(ctx context.Context) error {
	return NewRootCmd(ctx).ExecuteContext(ctx)
}

func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}
