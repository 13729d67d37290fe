// Package cmd defines and implements the CLI commands for the itchgrab executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "itchgrab",
		Short: "Bulk downloader for itch.io games and bundles",
		Long: `itchgrab downloads games from itch.io in bulk: single game pages,
game jams, browse listings, collections, creator profiles and your
own library of purchases. Each game lands in its own directory with
its files, metadata, cover art and a snapshot of the store page.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newGetCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
