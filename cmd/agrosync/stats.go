package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrobodega/agrosync"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show local store statistics",
	Long: `Display record counts, pending uploads, and sync health for the
local store.

Example:
  agrosync stats
  agrosync stats --health`,
	RunE: runStats,
}

var statsHealth bool

func init() {
	statsCmd.Flags().BoolVar(&statsHealth, "health", false, "Include backend connectivity check")
}

func runStats(cmd *cobra.Command, args []string) error {
	client, err := agrosync.New(loadConfig())
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	stats, err := client.Stats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Println("Local Store Statistics")
	fmt.Println("----------------------")
	fmt.Printf("Records:       %d\n", stats.RecordCount)
	fmt.Printf("Pending sync:  %d\n", stats.PendingCount)
	fmt.Printf("Audit entries: %d\n", stats.AuditCount)

	for _, entity := range agrosync.EntityTypes() {
		if n := stats.PerEntity[entity]; n > 0 {
			fmt.Printf("  %-10s %d\n", entity, n)
		}
	}

	if !stats.LastSync.IsZero() {
		fmt.Printf("Last sync:     %s (%s ago)\n",
			stats.LastSync.Format(time.RFC3339),
			time.Since(stats.LastSync).Round(time.Minute))
	} else {
		fmt.Println("Last sync:     never")
	}
	if !stats.LastExport.IsZero() {
		fmt.Printf("Last export:   %s\n", stats.LastExport.Format(time.RFC3339))
	}

	if statsHealth {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		state, err := client.State(ctx)
		if err != nil {
			return fmt.Errorf("check state: %w", err)
		}

		fmt.Println()
		fmt.Println("Sync Health")
		fmt.Println("-----------")
		fmt.Printf("Backend reachable: %v\n", state.Online)
		fmt.Printf("Pending records:   %d\n", state.Pending)
	}

	return nil
}
