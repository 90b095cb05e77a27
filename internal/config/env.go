package config

import (
	"os"
	"strconv"
)

// FromEnv overlays BACKCHAT_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("BACKCHAT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BACKCHAT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("BACKCHAT_MAX_ROOM_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRoomEntries = n
		}
	}
	if v := os.Getenv("BACKCHAT_POLL_WAIT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollWaitMs = n
		}
	}
	if v := os.Getenv("BACKCHAT_ECHO_SENDER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EchoSender = b
		}
	}
	if v := os.Getenv("BACKCHAT_BACKOFF_BASE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Backoff.BaseMs = n
		}
	}
	if v := os.Getenv("BACKCHAT_BACKOFF_CAP_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Backoff.CapMs = n
		}
	}
	if v := os.Getenv("BACKCHAT_BACKOFF_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Backoff.Factor = f
		}
	}
	if v := os.Getenv("BACKCHAT_BACKOFF_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Backoff.MaxAttempts = n
		}
	}
	if v := os.Getenv("BACKCHAT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BACKCHAT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
