package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agrobodega/agrosync/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciliation backend",
	Long: `Start the HTTP backend that clients sync against. Assigns server
identities on first upload and stores reconciled records in its own
SQLite database.

Example:
  agrosync serve --addr :8080 --serve-db data/backend.db`,
	RunE: runServe,
}

var (
	serveAddr    string
	serveDB      string
	serveToken   string
	serveLogFile string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDB, "serve-db", "data/backend.db", "Path to backend database")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Require this bearer token on sync requests")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Write logs to a rotating file instead of stderr")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfgVerbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if serveLogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   serveLogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	storage, err := server.OpenStorage(serveDB)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	srv := server.NewServer(storage, serveToken, log)

	httpServer := &http.Server{
		Addr:              serveAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithField("addr", serveAddr).Info("backend listening")
	return httpServer.ListenAndServe()
}
