package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrobodega/agrosync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle against the backend",
	Long: `Upload pending records to the reconciliation backend, one batch
per entity type. A failed batch leaves its records pending for the
next cycle; other entity types are unaffected.

Example:
  agrosync sync
  agrosync sync --cloud-url http://localhost:8080`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if cfg.IsOffline() {
		return fmt.Errorf("no backend configured (set AGROSYNC_CLOUD_URL or --cloud-url)")
	}

	client, err := agrosync.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fmt.Println("Synchronizing with backend...")
	result, err := client.SyncNow(ctx)
	if err != nil {
		if errors.Is(err, agrosync.ErrSyncInProgress) {
			fmt.Println("A sync cycle is already running.")
			return nil
		}
		return fmt.Errorf("sync: %w", err)
	}

	if result.Skipped {
		fmt.Println("Backend unreachable; cycle skipped. Records stay pending.")
		return nil
	}

	fmt.Printf("Sync complete (took %s)\n", result.Duration.Round(time.Millisecond))
	for _, entity := range agrosync.EntityTypes() {
		if n := result.Synced[entity]; n > 0 {
			fmt.Printf("  %-10s %d synced\n", entity, n)
		}
		if err := result.Failed[entity]; err != nil {
			fmt.Printf("  %-10s FAILED: %v\n", entity, err)
		}
	}
	if result.TotalSynced() == 0 && len(result.Failed) == 0 {
		fmt.Println("Nothing pending.")
	}

	return nil
}
