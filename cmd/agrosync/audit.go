package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrobodega/agrosync"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit entries",
	Long: `Display the most recent entries of the local audit trail, oldest
first.

Example:
  agrosync audit
  agrosync audit --limit 50`,
	RunE: runAudit,
}

var auditLimit int

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "Number of entries to show")
}

func runAudit(cmd *cobra.Command, args []string) error {
	client, err := agrosync.New(loadConfig())
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	entries, err := client.Audit(auditLimit)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("Audit log is empty.")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  %-6s %-10s %-8s %s\n",
			e.Timestamp.Format(time.RFC3339),
			e.Action,
			e.Entity,
			e.UserID,
			e.Details)
	}

	return nil
}
