package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// ListenAddr is the WebSocket/HTTP listen address.
	ListenAddr string `json:"listenAddr"`
	// DataDir is the Pebble data directory.
	DataDir string `json:"dataDir"`
	// MaxRoomEntries bounds each room's live log to the most-recent N entries.
	MaxRoomEntries int `json:"maxRoomEntries"`
	// PollWaitMs is the bounded blocking interval for grouped log reads. Pump
	// cancellation latency is at most one poll wait.
	PollWaitMs int `json:"pollWaitMs"`
	// EchoSender controls whether a sender's own session receives the
	// log-sourced broadcast of its message (multi-device echo).
	EchoSender bool `json:"echoSender"`
	// Backoff governs pump retries when the log store is unavailable.
	Backoff BackoffConfig `json:"backoff"`
	// Log configures the process logger.
	Log LogConfig `json:"log"`
}

// BackoffConfig captures the exponential backoff policy for pump retries.
type BackoffConfig struct {
	BaseMs      int     `json:"baseMs"`
	CapMs       int     `json:"capMs"`
	Factor      float64 `json:"factor"`
	MaxAttempts int     `json:"maxAttempts"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		ListenAddr:     ":8090",
		DataDir:        "./data",
		MaxRoomEntries: 100,
		PollWaitMs:     1000,
		EchoSender:     true,
		Backoff: BackoffConfig{
			BaseMs:      200,
			CapMs:       30_000,
			Factor:      2.0,
			MaxAttempts: 5,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON file layered over defaults. An empty
// path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listenAddr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: dataDir is required")
	}
	if c.MaxRoomEntries < 0 {
		return fmt.Errorf("config: maxRoomEntries must be >= 0")
	}
	if c.PollWaitMs <= 0 {
		return fmt.Errorf("config: pollWaitMs must be > 0")
	}
	if c.Backoff.MaxAttempts <= 0 {
		return fmt.Errorf("config: backoff.maxAttempts must be > 0")
	}
	return nil
}
