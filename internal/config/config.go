// Package config provides configuration management for Cookie Monster.
// It supports JSON-based configuration loading with safe defaults for all
// six core components.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds every tunable option recognised by Cookie Monster (spec.md
// §6). Fields are grouped by the component they configure. The struct is
// loaded once at startup and then shared across goroutines as a read-only
// value.
type Config struct {
	// Retrieval manager (C3).
	RetrievalPeriodSecs int       `json:"retrieval_period_seconds"`
	RetrievalStartFrom  time.Time `json:"retrieval_start_from"`

	// Buffered store / Cookie Jar (C1/C2).
	StoreURL        string  `json:"cookiejar_store_url"`
	DatabaseName    string  `json:"cookiejar_database_name"`
	BufferMaxSize   int     `json:"cookiejar_buffer_max_size"`
	BufferLatencyMS int     `json:"cookiejar_buffer_latency_ms"`
	RateLimitPerSec float64 `json:"cookiejar_rate_limit_per_sec"`

	// Processor pool (C5).
	Workers           int `json:"processor_workers"`
	RetryDelaySeconds int `json:"processor_retry_delay_seconds"`

	// Registries (C4).
	RulesDir       string `json:"rules_dir"`
	EnrichmentsDir string `json:"enrichments_dir"`
	ReceiversDir   string `json:"receivers_dir"`

	// Admin HTTP API.
	APIPort int `json:"api_port"`

	// Logging / monitor (C6).
	LoggingSink string `json:"logging_sink"`
}

// LoadConfig reads a JSON file at filename and deserialises it into a
// Config. It returns an error if the file cannot be opened or the JSON is
// malformed. Unset fields keep the values from DefaultConfig.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 -- filename is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields() // catch typos in config files early
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	cfg.RetrievalStartFrom = cfg.RetrievalStartFrom.UTC()
	return cfg, nil
}

// DefaultConfig returns a *Config pre-filled with the defaults listed in
// spec.md §6. Callers are free to mutate the returned struct; each call
// returns a fresh independent copy.
func DefaultConfig() *Config {
	return &Config{
		RetrievalPeriodSecs: 10,
		RetrievalStartFrom:  time.Unix(0, 0).UTC(),
		StoreURL:            "http://localhost:5984",
		DatabaseName:        "cookiemonster",
		BufferMaxSize:       1000,
		BufferLatencyMS:     50,
		Workers:             5,
		RetryDelaySeconds:   0,
		RulesDir:            "./plugins/rules",
		EnrichmentsDir:      "./plugins/enrichments",
		ReceiversDir:        "./plugins/receivers",
		APIPort:             5000,
		LoggingSink:         "stdout",
	}
}

// RetrievalPeriod returns the retrieval schedule period as a time.Duration.
func (c *Config) RetrievalPeriod() time.Duration {
	return time.Duration(c.RetrievalPeriodSecs) * time.Second
}

// BufferLatency returns the buffer discharge latency as a time.Duration.
func (c *Config) BufferLatency() time.Duration {
	return time.Duration(c.BufferLatencyMS) * time.Millisecond
}

// RetryDelay returns the processor pool's failure retry delay.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}
