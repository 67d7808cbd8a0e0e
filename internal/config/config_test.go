package config

import (
	"os"
	"testing"
)

func TestLoadFull(t *testing.T) {
	// Create a temporary YAML config file.
	yamlContent := []byte(`
storage:
  sqlite_path: "/tmp/tidemark/tidemark.db"
server:
  host: "0.0.0.0"
  port: 8090
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  data_url: "https://data.alpaca.markets"
  stream_url: "wss://stream.data.alpaca.markets/v2/sip"
  feed: "iex"
  rate_limit_per_min: 100
yahoo:
  enabled: true
stream:
  symbols: ["AAPL", "MSFT"]
  queue_size: 512
  max_reconnects: 5
logging:
  level: "debug"
  format: "json"
`)

	tmpFile, err := os.CreateTemp("", "tidemark-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	// Clear any environment overrides that might interfere.
	os.Unsetenv("ALPACA_API_KEY")
	os.Unsetenv("ALPACA_API_SECRET")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")
	os.Unsetenv("SQLITE_PATH")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.SQLitePath != "/tmp/tidemark/tidemark.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/tidemark/tidemark.db")
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8090)
	}
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("Alpaca.Feed = %q, want %q", cfg.Alpaca.Feed, "iex")
	}
	if cfg.Alpaca.RateLimitPerMin != 100 {
		t.Errorf("Alpaca.RateLimitPerMin = %d, want %d", cfg.Alpaca.RateLimitPerMin, 100)
	}
	if !cfg.Yahoo.Enabled {
		t.Error("Yahoo.Enabled = false, want true")
	}
	if len(cfg.Stream.Symbols) != 2 || cfg.Stream.Symbols[0] != "AAPL" {
		t.Errorf("Stream.Symbols = %v, want [AAPL MSFT]", cfg.Stream.Symbols)
	}
	if cfg.Stream.QueueSize != 512 {
		t.Errorf("Stream.QueueSize = %d, want %d", cfg.Stream.QueueSize, 512)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoadDefaults(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "tidemark-config-min-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	if _, err := tmpFile.Write([]byte("logging:\n  level: info\n")); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	os.Unsetenv("SQLITE_PATH")
	os.Unsetenv("SERVER_PORT")
	os.Unsetenv("ALPACA_STREAM_URL")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.SQLitePath != "tidemark.db" {
		t.Errorf("Storage.SQLitePath default = %q, want tidemark.db", cfg.Storage.SQLitePath)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port default = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format default = %q, want json", cfg.Logging.Format)
	}
	if cfg.Alpaca.Feed != "sip" {
		t.Errorf("Alpaca.Feed default = %q, want sip", cfg.Alpaca.Feed)
	}
	if cfg.Alpaca.StreamURL == "" {
		t.Error("Alpaca.StreamURL default is empty")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  sqlite_path: "/original/tidemark.db"
`)

	tmpFile, err := os.CreateTemp("", "tidemark-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	// Set environment overrides.
	os.Setenv("ALPACA_API_KEY", "env-key")
	os.Setenv("SQLITE_PATH", "/env/tidemark.db")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")
	defer os.Unsetenv("ALPACA_API_KEY")
	defer os.Unsetenv("SQLITE_PATH")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.SQLitePath != "/env/tidemark.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q (env override)", cfg.Storage.SQLitePath, "/env/tidemark.db")
	}
}

func TestLoadCanonicalAlpacaEnvWins(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "tidemark-config-apca-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	if _, err := tmpFile.Write([]byte("alpaca:\n  api_key: yaml-key\n")); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("ALPACA_API_KEY", "env-key")
	os.Setenv("APCA_API_KEY_ID", "canonical-key")
	defer os.Unsetenv("ALPACA_API_KEY")
	defer os.Unsetenv("APCA_API_KEY_ID")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "canonical-key" {
		t.Errorf("Alpaca.APIKey = %q, want the canonical APCA_API_KEY_ID to win", cfg.Alpaca.APIKey)
	}
}
