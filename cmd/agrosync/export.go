package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrobodega/agrosync"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export records to the reporting sink or a file",
	Long: `Push records to the configured reporting webhook, or write a JSON
snapshot to a local file. Exports are read-only copies; they never
affect sync state.

Example:
  agrosync export                  # delta export to the webhook
  agrosync export --backup         # full backup to the webhook
  agrosync export --file dump.json # JSON snapshot to a file`,
	RunE: runExport,
}

var (
	exportBackup bool
	exportFile   string
)

func init() {
	exportCmd.Flags().BoolVar(&exportBackup, "backup", false, "Send a full backup instead of a delta")
	exportCmd.Flags().StringVar(&exportFile, "file", "", "Write a JSON snapshot to this path instead of the webhook")
}

func runExport(cmd *cobra.Command, args []string) error {
	client, err := agrosync.New(loadConfig())
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if exportFile != "" {
		f, err := os.Create(exportFile)
		if err != nil {
			return fmt.Errorf("create file: %w", err)
		}
		defer f.Close()

		if err := client.Store().ExportJSON(ctx, f); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Printf("Snapshot written to %s\n", exportFile)
		return nil
	}

	if exportBackup {
		if err := client.ExportBackup(ctx); err != nil {
			return fmt.Errorf("backup export: %w", err)
		}
		fmt.Println("Full backup sent to reporting sink.")
		return nil
	}

	if err := client.ExportDelta(ctx); err != nil {
		return fmt.Errorf("delta export: %w", err)
	}
	fmt.Println("Delta export sent to reporting sink.")
	return nil
}
