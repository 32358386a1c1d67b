package config_test

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/wtsi-hgi/cookiemonster/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.RetrievalPeriodSecs <= 0 {
		t.Errorf("RetrievalPeriodSecs should be > 0, got %d", cfg.RetrievalPeriodSecs)
	}
	if cfg.Workers <= 0 {
		t.Errorf("Workers should be > 0, got %d", cfg.Workers)
	}
	if cfg.BufferMaxSize <= 0 {
		t.Errorf("BufferMaxSize should be > 0, got %d", cfg.BufferMaxSize)
	}
	if cfg.DatabaseName == "" {
		t.Error("DatabaseName should not be empty")
	}
}

func TestDefaultConfig_IsFreshCopy(t *testing.T) {
	a := config.DefaultConfig()
	b := config.DefaultConfig()
	a.Workers = 99
	if b.Workers == 99 {
		t.Error("DefaultConfig should return an independent copy each call")
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	raw := map[string]any{
		"retrieval_period_seconds": 30,
		"cookiejar_store_url":      "http://couch.example.com:5984",
		"cookiejar_database_name":  "testdb",
		"cookiejar_buffer_max_size": 500,
		"processor_workers":        8,
		"rules_dir":                "/etc/cookiemonster/rules",
		"api_port":                 6000,
	}
	f, err := os.CreateTemp(t.TempDir(), "config*.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewEncoder(f).Encode(raw); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := config.LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RetrievalPeriodSecs != 30 {
		t.Errorf("got RetrievalPeriodSecs=%d, want 30", cfg.RetrievalPeriodSecs)
	}
	if cfg.DatabaseName != "testdb" {
		t.Errorf("got DatabaseName=%q, want testdb", cfg.DatabaseName)
	}
	if cfg.Workers != 8 {
		t.Errorf("got Workers=%d, want 8", cfg.Workers)
	}
	// Fields absent from the file should keep their defaults.
	if cfg.EnrichmentsDir != config.DefaultConfig().EnrichmentsDir {
		t.Errorf("got EnrichmentsDir=%q, want default preserved", cfg.EnrichmentsDir)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig("/nonexistent/path/config.json")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bad*.json")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not valid json}")
	f.Close()

	_, err = config.LoadConfig(f.Name())
	if err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}

func TestLoadConfig_UnknownField(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "unknown*.json")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"not_a_real_field": 1}`)
	f.Close()

	_, err = config.LoadConfig(f.Name())
	if err == nil {
		t.Error("expected error for unknown field, got nil")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetrievalPeriodSecs = 10
	cfg.BufferLatencyMS = 50
	cfg.RetryDelaySeconds = 5

	if cfg.RetrievalPeriod().Seconds() != 10 {
		t.Errorf("RetrievalPeriod() = %v, want 10s", cfg.RetrievalPeriod())
	}
	if cfg.BufferLatency().Milliseconds() != 50 {
		t.Errorf("BufferLatency() = %v, want 50ms", cfg.BufferLatency())
	}
	if cfg.RetryDelay().Seconds() != 5 {
		t.Errorf("RetryDelay() = %v, want 5s", cfg.RetryDelay())
	}
}
