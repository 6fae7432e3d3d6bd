// Package main provides the entry point for the tapsink CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tapsink/cmd/tapsink/commands"
	"github.com/Sumatoshi-tech/tapsink/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tapsink",
		Short: "tapsink - Singer stream sink for rotating compressed JSONL artifacts",
		Long: `tapsink consumes Singer messages (SCHEMA, RECORD, STATE) on stdin,
validates records against their stream's schema, and persists them to
rotating compressed files on a local folder or S3-compatible store.

Commands:
  run       Consume stdin and persist records`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewConfigCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "tapsink %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
