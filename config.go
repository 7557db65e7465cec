package agrosync

import (
	"os"
	"time"
)

// Config configures the agrosync client.
type Config struct {
	// LocalPath is the path to the local SQLite database.
	LocalPath string

	// CloudURL is the base URL of the reconciliation backend.
	// If empty, the client operates in offline-only mode.
	CloudURL string

	// APIToken authenticates with the reconciliation backend.
	APIToken string

	// SheetURL is the optional reporting/export sink. Best-effort only;
	// it is never used by the authoritative sync path.
	SheetURL string

	// Actor is recorded on audit entries. Defaults to DefaultActor.
	Actor string

	// SyncInterval is how often the background loop runs a cycle.
	// Defaults to 5 minutes.
	SyncInterval time.Duration

	// AutoSync enables the background sync loop. DefaultConfig enables it;
	// a zero Config leaves it off.
	AutoSync bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LocalPath:    "data/agrosync.db",
		Actor:        DefaultActor,
		SyncInterval: 5 * time.Minute,
		AutoSync:     true,
	}
}

// ConfigFromEnv reads configuration from environment variables.
//
//	AGROSYNC_DB_PATH   → LocalPath
//	AGROSYNC_CLOUD_URL → CloudURL
//	AGROSYNC_API_TOKEN → APIToken
//	AGROSYNC_SHEET_URL → SheetURL
//	AGROSYNC_ACTOR     → Actor
func ConfigFromEnv() Config {
	return Config{
		LocalPath: os.Getenv("AGROSYNC_DB_PATH"),
		CloudURL:  os.Getenv("AGROSYNC_CLOUD_URL"),
		APIToken:  os.Getenv("AGROSYNC_API_TOKEN"),
		SheetURL:  os.Getenv("AGROSYNC_SHEET_URL"),
		Actor:     os.Getenv("AGROSYNC_ACTOR"),
	}
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.LocalPath == "" {
		return &ValidationError{Field: "LocalPath", Message: "required: path to SQLite database"}
	}
	if c.SyncInterval < 0 {
		return &ValidationError{Field: "SyncInterval", Message: "must be non-negative"}
	}
	return nil
}

// IsOffline returns true if the client operates in offline-only mode.
func (c *Config) IsOffline() bool {
	return c.CloudURL == ""
}

// WithDefaults fills in default values for unset fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.LocalPath == "" {
		c.LocalPath = defaults.LocalPath
	}
	if c.Actor == "" {
		c.Actor = defaults.Actor
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = defaults.SyncInterval
	}

	return c
}
