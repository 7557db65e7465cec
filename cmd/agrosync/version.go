package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build-time variables (set via ldflags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "agrosync %s\n", version)
	fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
	fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
	fmt.Fprintf(cmd.OutOrStdout(), "  go:     %s\n", runtime.Version())
	fmt.Fprintf(cmd.OutOrStdout(), "  os:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}
