package main

import (
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agrobodega/agrosync"
)

var (
	cfgDBPath   string
	cfgCloudURL string
	cfgAPIToken string
	cfgSheetURL string
	cfgActor    string
	cfgVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "agrosync",
	Short: "Agrosync - offline-first farm record sync",
	Long: `Agrosync keeps farm records (inventory, lots, personnel, labor,
finance, sanitary applications, stock movements and harvests) in a local
SQLite store and pushes pending changes to a reconciliation
backend when connectivity allows. The local store is always
authoritative.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Missing .env is fine; environment variables still apply.
		_ = godotenv.Load()

		if cfgVerbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgDBPath, "db", "", "Path to local database (default: ./data/agrosync.db)")
	rootCmd.PersistentFlags().StringVar(&cfgCloudURL, "cloud-url", "", "URL of the reconciliation backend")
	rootCmd.PersistentFlags().StringVar(&cfgAPIToken, "api-token", "", "API token for backend authentication")
	rootCmd.PersistentFlags().StringVar(&cfgSheetURL, "sheet-url", "", "Reporting export webhook URL")
	rootCmd.PersistentFlags().StringVar(&cfgActor, "actor", "", "User recorded on audit entries")
	rootCmd.PersistentFlags().BoolVarP(&cfgVerbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(exportCmd)
}

func loadConfig() agrosync.Config {
	cfg := agrosync.ConfigFromEnv()

	if cfgDBPath != "" {
		cfg.LocalPath = cfgDBPath
	}
	if cfgCloudURL != "" {
		cfg.CloudURL = cfgCloudURL
	}
	if cfgAPIToken != "" {
		cfg.APIToken = cfgAPIToken
	}
	if cfgSheetURL != "" {
		cfg.SheetURL = cfgSheetURL
	}
	if cfgActor != "" {
		cfg.Actor = cfgActor
	}

	// CLI invocations are one-shot; the background loop is for embedders.
	cfg.AutoSync = false

	return cfg.WithDefaults()
}
