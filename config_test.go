package agrosync

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LocalPath == "" {
		t.Error("default config should set a local path")
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("sync interval = %v, want 5m", cfg.SyncInterval)
	}
	if !cfg.AutoSync {
		t.Error("auto sync should default to on")
	}
	if cfg.Actor != DefaultActor {
		t.Errorf("actor = %q, want %q", cfg.Actor, DefaultActor)
	}
	if !cfg.IsOffline() {
		t.Error("config without a cloud URL is offline")
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{CloudURL: "http://backend:8080"}.WithDefaults()

	if cfg.LocalPath != DefaultConfig().LocalPath {
		t.Errorf("local path = %q, want default filled in", cfg.LocalPath)
	}
	if cfg.CloudURL != "http://backend:8080" {
		t.Errorf("cloud URL = %q, explicit values must survive", cfg.CloudURL)
	}
	if cfg.IsOffline() {
		t.Error("config with a cloud URL is online")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if vErr.Field != "LocalPath" {
		t.Errorf("field = %q, want LocalPath", vErr.Field)
	}

	cfg = Config{LocalPath: "x.db", SyncInterval: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Error("negative sync interval should fail validation")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AGROSYNC_DB_PATH", "/tmp/farm.db")
	t.Setenv("AGROSYNC_CLOUD_URL", "http://backend:8080")
	t.Setenv("AGROSYNC_API_TOKEN", "secret")
	t.Setenv("AGROSYNC_SHEET_URL", "http://sheets.example/webhook")
	t.Setenv("AGROSYNC_ACTOR", "maria")

	cfg := ConfigFromEnv()

	if cfg.LocalPath != "/tmp/farm.db" {
		t.Errorf("local path = %q", cfg.LocalPath)
	}
	if cfg.CloudURL != "http://backend:8080" {
		t.Errorf("cloud URL = %q", cfg.CloudURL)
	}
	if cfg.APIToken != "secret" {
		t.Errorf("api token = %q", cfg.APIToken)
	}
	if cfg.SheetURL != "http://sheets.example/webhook" {
		t.Errorf("sheet URL = %q", cfg.SheetURL)
	}
	if cfg.Actor != "maria" {
		t.Errorf("actor = %q", cfg.Actor)
	}
}
